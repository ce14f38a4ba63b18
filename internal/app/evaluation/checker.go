package evaluation

import (
	"context"
	"errors"
	"time"

	"geolink.local/internal/platform/metrics"
)

// Checker 是可替换的探测策略。
//
// 返回值约定（三选一）：
// - (Verdict, nil)：得出结论
// - (_, *TransientError)：本次没结论，可重试
// - (_, *FatalError)：不可恢复
//
// 其它未归类的 error 一律按 transient 处理。
type Checker interface {
	Check(ctx context.Context, destinationURL string) (Verdict, error)
}

type CheckerFunc func(ctx context.Context, destinationURL string) (Verdict, error)

func (f CheckerFunc) Check(ctx context.Context, destinationURL string) (Verdict, error) {
	return f(ctx, destinationURL)
}

// Attempt 执行单次探测：独立的超时，与整体重试预算无关。
// 返回的 error 一定是 *TransientError 或 *FatalError。
func Attempt(ctx context.Context, c Checker, destinationURL string, timeout time.Duration) (Verdict, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	v, err := c.Check(attemptCtx, destinationURL)
	metrics.EvaluationCheckDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		if v.Classification.State() == StateFailed {
			metrics.EvaluationCheckAttempts.WithLabelValues("fatal").Inc()
			return Verdict{}, Fatal("checker returned unknown classification "+string(v.Classification), nil)
		}
		metrics.EvaluationCheckAttempts.WithLabelValues(string(v.Classification)).Inc()
		return v, nil
	case IsFatal(err):
		metrics.EvaluationCheckAttempts.WithLabelValues("fatal").Inc()
		return Verdict{}, err
	case IsTransient(err):
		metrics.EvaluationCheckAttempts.WithLabelValues("transient").Inc()
		return Verdict{}, err
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		metrics.EvaluationCheckAttempts.WithLabelValues("transient").Inc()
		return Verdict{}, Transient("attempt timed out", err)
	default:
		metrics.EvaluationCheckAttempts.WithLabelValues("transient").Inc()
		return Verdict{}, Transient("check failed", err)
	}
}

// Outcome 把最终一次探测的结果折叠成终态和原因。
func Outcome(v Verdict, err error) (State, string) {
	if err == nil {
		return v.Classification.State(), v.Detail
	}
	var f *FatalError
	if errors.As(err, &f) {
		return StateFailed, f.Error()
	}
	return StateFailed, "retries exhausted: " + err.Error()
}
