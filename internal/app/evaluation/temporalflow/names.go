package temporalflow

const (
	DefaultTaskQueue = "destination-evaluation"

	WorkflowName   = "DestinationStatusEvaluation"
	ActivityCheck  = "Activities.CheckDestination"
	ActivityReport = "Activities.ReportOutcome"

	// QueryState 返回 evaluation.RunStatus。
	QueryState = "state"

	// ApplicationError 的 type，用来在 workflow 里区分两类失败。
	FatalErrorType     = "FatalCheckError"
	TransientErrorType = "TransientCheckError"
)
