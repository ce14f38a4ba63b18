package temporalflow

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"geolink.local/internal/app/evaluation"
)

type Workflows struct {
	Policy evaluation.RetryPolicy
}

// Evaluate：pending -> checking ->（Temporal 负责重试）-> 终态 -> 上报一次。
// 返回值就是上报的 Report；上报重试耗尽时 workflow 以 error 结束，留给运维处理。
func (w *Workflows) Evaluate(ctx workflow.Context, p evaluation.Params) (evaluation.Report, error) {
	info := workflow.GetInfo(ctx)
	logger := workflow.GetLogger(ctx)
	policy := w.Policy.Normalize()

	run := evaluation.NewRun(p)
	updatedAt := workflow.Now(ctx)
	// checking 期间的 Attempts 只是下限，Substrate.Describe 会用挂起 activity 的 attempt 覆盖。
	err := workflow.SetQueryHandler(ctx, QueryState, func() (evaluation.RunStatus, error) {
		return evaluation.RunStatus{
			WorkflowID: info.WorkflowExecution.ID,
			RunID:      info.WorkflowExecution.RunID,
			State:      run.State,
			Attempts:   run.Attempts,
			Reason:     run.Reason,
			UpdatedAt:  updatedAt,
		}, nil
	})
	if err != nil {
		return evaluation.Report{}, err
	}

	var (
		verdict  evaluation.Verdict
		checkErr error
		attempts int
	)
	if err := p.Validate(); err != nil {
		checkErr = evaluation.Fatal("invalid params", err)
	} else {
		_ = run.Transition(evaluation.StateChecking)
		updatedAt = workflow.Now(ctx)

		actCtx := workflow.WithActivityOptions(ctx, checkActivityOptions(policy))
		if err := workflow.ExecuteActivity(actCtx, ActivityCheck, p).Get(actCtx, &verdict); err != nil {
			attempts, checkErr = unwrapCheckError(err, policy.MaxAttempts)
		} else {
			attempts = verdict.Attempt
		}
	}

	state, reason := evaluation.Outcome(verdict, checkErr)
	if err := run.Finish(state, reason); err != nil {
		return evaluation.Report{}, err
	}
	run.Attempts = attempts
	updatedAt = workflow.Now(ctx)
	logger.Info("evaluation finished", "link_id", p.LinkID, "state", state, "attempts", attempts)

	report := evaluation.Report{
		RunID:      info.WorkflowExecution.RunID,
		WorkflowID: info.WorkflowExecution.ID,
		Params:     p,
		State:      state,
		Reason:     reason,
		StatusCode: verdict.StatusCode,
		Attempts:   attempts,
		FinishedAt: updatedAt,
	}

	reportCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    20,
		},
	})
	if err := workflow.ExecuteActivity(reportCtx, ActivityReport, report).Get(reportCtx, nil); err != nil {
		logger.Error("report outcome exhausted retries", "err", err)
		return report, err
	}
	return report, nil
}

func checkActivityOptions(p evaluation.RetryPolicy) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		// 探测自身已有 AttemptTimeout，这里多留一点余量给序列化和调度。
		StartToCloseTimeout: p.AttemptTimeout + 5*time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        p.InitialBackoff,
			BackoffCoefficient:     p.BackoffCoefficient,
			MaximumInterval:        p.MaxBackoff,
			MaximumAttempts:        int32(p.MaxAttempts),
			NonRetryableErrorTypes: []string{FatalErrorType},
		},
	}
}

// unwrapCheckError 把 activity 的失败还原成 FatalError / TransientError，并取出最后一次的 attempt。
func unwrapCheckError(err error, maxAttempts int) (int, error) {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		attempts := maxAttempts
		if appErr.HasDetails() {
			var n int
			if appErr.Details(&n) == nil && n > 0 {
				attempts = n
			}
		}
		if appErr.Type() == FatalErrorType {
			return attempts, evaluation.Fatal(appErr.Message(), nil)
		}
		return attempts, evaluation.Transient(appErr.Message(), nil)
	}

	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return maxAttempts, evaluation.Transient("attempt timed out", nil)
	}
	return maxAttempts, evaluation.Transient(err.Error(), nil)
}
