package jobqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"geolink.local/internal/app/evaluation"
	"geolink.local/internal/platform/metrics"
)

// RunStore 是 worker 需要的持久化能力，生产上是 RunsRepo。
type RunStore interface {
	Create(ctx context.Context, p evaluation.Params) (Run, bool, error)
	Get(ctx context.Context, id int64) (Run, error)
	Latest(ctx context.Context, key string) (Run, error)
	BeginAttempt(ctx context.Context, id int64) (int, error)
	Finish(ctx context.Context, id int64, state evaluation.State, reason string, statusCode int) (Run, bool, error)
	MarkReported(ctx context.Context, id int64) error
	ListUnreported(ctx context.Context, limit int) ([]Run, error)
}

// Queue 是 worker 需要的消息能力，生产上是 StreamQueue。
type Queue interface {
	Enqueue(ctx context.Context, runID int64) error
	Read(ctx context.Context, block time.Duration) ([]Job, error)
	Reclaim(ctx context.Context, minIdle time.Duration) ([]Job, error)
	Ack(ctx context.Context, messageID string) error
}

type WorkerConfig struct {
	Policy          evaluation.RetryPolicy
	Block           time.Duration
	ReclaimIdle     time.Duration
	ReclaimInterval time.Duration
}

type Worker struct {
	store    RunStore
	queue    Queue
	checker  evaluation.Checker
	reporter evaluation.Reporter
	cfg      WorkerConfig
}

func NewWorker(store RunStore, q Queue, checker evaluation.Checker, reporter evaluation.Reporter, cfg WorkerConfig) *Worker {
	cfg.Policy = cfg.Policy.Normalize()
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.ReclaimIdle <= 0 {
		// 一个 run 最长可能占用的时间：所有尝试加上所有退避
		cfg.ReclaimIdle = time.Duration(cfg.Policy.MaxAttempts) * (cfg.Policy.AttemptTimeout + cfg.Policy.MaxBackoff)
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = 30 * time.Second
	}
	return &Worker{store: store, queue: q, checker: checker, reporter: reporter, cfg: cfg}
}

func (w *Worker) Run(ctx context.Context) {
	w.resumeReports(ctx)

	var lastReclaim time.Time
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if time.Since(lastReclaim) >= w.cfg.ReclaimInterval {
			lastReclaim = time.Now()
			jobs, err := w.queue.Reclaim(ctx, w.cfg.ReclaimIdle)
			if err != nil {
				slog.Error("evaluation worker: reclaim failed", "err", err)
			}
			for _, job := range jobs {
				w.process(ctx, job)
			}
		}

		jobs, err := w.queue.Read(ctx, w.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("evaluation worker: read failed", "err", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, job := range jobs {
			w.process(ctx, job)
		}
	}
}

// process 只有处理完（或 run 已不存在）才 ack；
// 出错或关停时留在 pending list，由 Reclaim 交给下一次处理。
func (w *Worker) process(ctx context.Context, job Job) {
	err := w.Handle(ctx, job.RunID)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Error("evaluation worker: handle failed", "err", err, "run_id", job.RunID)
		return
	}
	if err := w.queue.Ack(ctx, job.MessageID); err != nil {
		slog.Error("evaluation worker: ack failed", "err", err, "run_id", job.RunID)
	}
}

// Handle 把一个 run 推进到终态并上报，可重入：
// 重复投递、reclaim、崩溃后重跑都只会产生一次终态迁移。
func (w *Worker) Handle(ctx context.Context, runID int64) error {
	run, err := w.store.Get(ctx, runID)
	if errors.Is(err, ErrNotFound) {
		slog.Warn("evaluation worker: run not found", "run_id", runID)
		return nil
	}
	if err != nil {
		return err
	}

	if run.State.Terminal() {
		if run.ReportedAt == nil {
			return w.report(ctx, run)
		}
		return nil
	}

	verdict, checkErr := w.check(ctx, run)
	if errors.Is(checkErr, ErrRunFinished) {
		return nil
	}
	if ctx.Err() != nil {
		// 关停：不落终态，剩余的尝试次数已经持久化
		return ctx.Err()
	}
	if checkErr != nil && !evaluation.IsFatal(checkErr) && !evaluation.IsTransient(checkErr) {
		// 存储层错误，不是探测结论
		return checkErr
	}

	state, reason := evaluation.Outcome(verdict, checkErr)
	finished, ok, err := w.store.Finish(ctx, run.ID, state, reason, verdict.StatusCode)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	slog.Info("evaluation_finished",
		"run_id", EncodeRunID(finished.ID),
		"link_id", finished.Params.LinkID,
		"state", finished.State,
		"attempts", finished.Attempts,
	)
	return w.report(ctx, finished)
}

func (w *Worker) check(ctx context.Context, run Run) (evaluation.Verdict, error) {
	p := w.cfg.Policy
	remaining := p.MaxAttempts - run.Attempts
	if remaining <= 0 {
		return evaluation.Verdict{}, evaluation.Transient("attempt budget spent", nil)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialBackoff
	exp.Multiplier = p.BackoffCoefficient
	exp.MaxInterval = p.MaxBackoff
	b := &retryAfterBackOff{BackOff: exp, max: p.MaxBackoff}

	return backoff.Retry(ctx, func() (evaluation.Verdict, error) {
		attempt, err := w.store.BeginAttempt(ctx, run.ID)
		if err != nil {
			return evaluation.Verdict{}, backoff.Permanent(err)
		}
		v, err := evaluation.Attempt(ctx, w.checker, run.Params.DestinationURL, p.AttemptTimeout)
		if err != nil {
			if evaluation.IsFatal(err) {
				return evaluation.Verdict{}, backoff.Permanent(err)
			}
			var te *evaluation.TransientError
			if errors.As(err, &te) {
				b.floor = te.RetryAfter
			}
			return evaluation.Verdict{}, err
		}
		v.Attempt = attempt
		return v, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(remaining)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Info("evaluation_retry", "run_id", EncodeRunID(run.ID), "err", err, "next", next)
		}),
	)
}

// retryAfterBackOff 让目的地返回的 Retry-After 作为下一次等待的下限（不超过 max）。
type retryAfterBackOff struct {
	backoff.BackOff
	floor time.Duration
	max   time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	floor := min(b.floor, b.max)
	b.floor = 0
	if next != backoff.Stop && floor > next {
		return floor
	}
	return next
}

func (w *Worker) report(ctx context.Context, run Run) error {
	if err := w.reporter.Report(ctx, run.Report()); err != nil {
		return err
	}
	metrics.EvaluationOutcomes.WithLabelValues(string(run.State)).Inc()
	return w.store.MarkReported(ctx, run.ID)
}

// resumeReports 补报上次进程退出前落了终态但没报出去的 run。
func (w *Worker) resumeReports(ctx context.Context) {
	runs, err := w.store.ListUnreported(ctx, 100)
	if err != nil {
		slog.Error("evaluation worker: list unreported failed", "err", err)
		return
	}
	for _, run := range runs {
		if err := w.report(ctx, run); err != nil {
			slog.Error("evaluation worker: resume report failed", "err", err, "run_id", run.ID)
		}
	}
	if len(runs) > 0 {
		slog.Info("evaluation worker: resumed reports", "count", len(runs))
	}
}
