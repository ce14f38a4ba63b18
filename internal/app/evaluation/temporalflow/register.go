package temporalflow

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/workflow"
)

// Registry 是 worker.Worker 和 testsuite 环境共有的注册能力。
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

func Register(r Registry, wf *Workflows, acts *Activities) {
	r.RegisterWorkflowWithOptions(wf.Evaluate, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.CheckDestination, activity.RegisterOptions{Name: ActivityCheck})
	r.RegisterActivityWithOptions(acts.ReportOutcome, activity.RegisterOptions{Name: ActivityReport})
}
