package temporalflow

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"geolink.local/internal/app/evaluation"
	"geolink.local/internal/platform/metrics"
)

type Activities struct {
	Checker        evaluation.Checker
	Reporter       evaluation.Reporter
	AttemptTimeout time.Duration
}

// CheckDestination 是一次探测。重试由 Temporal 按 RetryPolicy 调度，
// 每次失败都把当前 attempt 放进 details，workflow 据此得到最终尝试次数。
func (a *Activities) CheckDestination(ctx context.Context, p evaluation.Params) (evaluation.Verdict, error) {
	attempt := int(activity.GetInfo(ctx).Attempt)
	logger := activity.GetLogger(ctx)

	v, err := evaluation.Attempt(ctx, a.Checker, p.DestinationURL, a.AttemptTimeout)
	if err == nil {
		v.Attempt = attempt
		logger.Info("destination checked", "link_id", p.LinkID, "attempt", attempt, "classification", v.Classification)
		return v, nil
	}

	var fatal *evaluation.FatalError
	if errors.As(err, &fatal) {
		logger.Warn("destination check fatal", "link_id", p.LinkID, "attempt", attempt, "err", err)
		return evaluation.Verdict{}, temporal.NewNonRetryableApplicationError(describe(fatal.Reason, fatal.Err), FatalErrorType, nil, attempt)
	}
	var transient *evaluation.TransientError
	msg := err.Error()
	if errors.As(err, &transient) {
		msg = describe(transient.Reason, transient.Err)
	}
	logger.Info("destination check transient failure", "link_id", p.LinkID, "attempt", attempt, "err", err)
	return evaluation.Verdict{}, temporal.NewApplicationError(msg, TransientErrorType, attempt)
}

func describe(reason string, cause error) string {
	if cause == nil {
		return reason
	}
	return reason + ": " + cause.Error()
}

// ReportOutcome 可能因 worker 崩溃被重放，Reporter 按 RunID 幂等。
func (a *Activities) ReportOutcome(ctx context.Context, r evaluation.Report) error {
	if err := a.Reporter.Report(ctx, r); err != nil {
		activity.GetLogger(ctx).Error("report outcome failed", "run_id", r.RunID, "err", err)
		return err
	}
	metrics.EvaluationOutcomes.WithLabelValues(string(r.State)).Inc()
	return nil
}
