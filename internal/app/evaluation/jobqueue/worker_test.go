package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"

	"geolink.local/internal/app/evaluation"
)

// memStore 模拟 evaluation_runs 的迁移约束（部分唯一索引 + 守卫 UPDATE）。
type memStore struct {
	mu     sync.Mutex
	nextID int64
	runs   map[int64]*Run
}

func newMemStore() *memStore {
	return &memStore{runs: map[int64]*Run{}}
}

func (m *memStore) Create(_ context.Context, p evaluation.Params) (Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.Params.Key() == p.Key() && !r.State.Terminal() {
			return *r, true, nil
		}
	}
	m.nextID++
	now := time.Now()
	r := &Run{ID: m.nextID, Params: p, State: evaluation.StatePending, CreatedAt: now, UpdatedAt: now}
	m.runs[r.ID] = r
	return *r, false, nil
}

func (m *memStore) Get(_ context.Context, id int64) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return *r, nil
}

func (m *memStore) Latest(_ context.Context, key string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Run
	for _, r := range m.runs {
		if r.Params.Key() == key && (latest == nil || r.ID > latest.ID) {
			latest = r
		}
	}
	if latest == nil {
		return Run{}, ErrNotFound
	}
	return *latest, nil
}

func (m *memStore) BeginAttempt(_ context.Context, id int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[id]
	if r == nil || r.State.Terminal() {
		return 0, ErrRunFinished
	}
	r.State = evaluation.StateChecking
	r.Attempts++
	return r.Attempts, nil
}

func (m *memStore) Finish(_ context.Context, id int64, state evaluation.State, reason string, statusCode int) (Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[id]
	if r == nil || r.State.Terminal() {
		return Run{}, false, nil
	}
	now := time.Now()
	r.State, r.Reason, r.StatusCode, r.FinishedAt = state, reason, statusCode, &now
	return *r, true, nil
}

func (m *memStore) MarkReported(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.runs[id].ReportedAt = &now
	return nil
}

func (m *memStore) ListUnreported(_ context.Context, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Run
	for _, r := range m.runs {
		if r.FinishedAt != nil && r.ReportedAt == nil && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

type memQueue struct {
	mu       sync.Mutex
	enqueued []int64
	acked    []string
	failNext bool
}

func (q *memQueue) Enqueue(_ context.Context, runID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failNext {
		q.failNext = false
		return errors.New("redis down")
	}
	q.enqueued = append(q.enqueued, runID)
	return nil
}

func (q *memQueue) Read(ctx context.Context, block time.Duration) ([]Job, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *memQueue) Reclaim(context.Context, time.Duration) ([]Job, error) { return nil, nil }

func (q *memQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}

type countingReporter struct {
	mu      sync.Mutex
	reports []evaluation.Report
	fail    int
}

func (r *countingReporter) Report(_ context.Context, rep evaluation.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("sink unavailable")
	}
	r.reports = append(r.reports, rep)
	return nil
}

var params = evaluation.Params{LinkID: "promo", DestinationURL: "https://example.com/fr", AccountID: "acct-1"}

func fastPolicy() evaluation.RetryPolicy {
	return evaluation.RetryPolicy{
		MaxAttempts:        3,
		AttemptTimeout:     time.Second,
		InitialBackoff:     time.Millisecond,
		BackoffCoefficient: 2,
		MaxBackoff:         5 * time.Millisecond,
	}
}

func checkerReturning(steps ...func() (evaluation.Verdict, error)) (evaluation.Checker, *int) {
	var mu sync.Mutex
	calls := 0
	return evaluation.CheckerFunc(func(context.Context, string) (evaluation.Verdict, error) {
		mu.Lock()
		defer mu.Unlock()
		i := calls
		if i >= len(steps) {
			i = len(steps) - 1
		}
		calls++
		return steps[i]()
	}), &calls
}

func transient() (evaluation.Verdict, error) {
	return evaluation.Verdict{}, evaluation.Transient("upstream returned 503", nil)
}

func unhealthy() (evaluation.Verdict, error) {
	return evaluation.Verdict{Classification: evaluation.Unhealthy, StatusCode: 404, Detail: "404 Not Found"}, nil
}

func fatal() (evaluation.Verdict, error) {
	return evaluation.Verdict{}, evaluation.Fatal("invalid destination url", nil)
}

func TestSubstrateStartDedupes(t *testing.T) {
	store, q := newMemStore(), &memQueue{}
	s := NewSubstrate(store, q)

	t1, err := s.Start(context.Background(), params)
	require.NoError(t, err)
	require.False(t, t1.Duplicate)

	t2, err := s.Start(context.Background(), params)
	require.NoError(t, err)
	require.True(t, t2.Duplicate)
	require.Equal(t, t1.RunID, t2.RunID)
	require.Equal(t, params.WorkflowID(), t2.WorkflowID)
	require.Len(t, q.enqueued, 1)
}

func TestSubstrateEnqueueFailureFailsRun(t *testing.T) {
	store, q := newMemStore(), &memQueue{failNext: true}
	s := NewSubstrate(store, q)

	_, err := s.Start(context.Background(), params)
	require.Error(t, err)

	st, err := s.Describe(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, evaluation.StateFailed, st.State)

	// 失败的 run 已是终态，下一次触发会新建
	tk, err := s.Start(context.Background(), params)
	require.NoError(t, err)
	require.False(t, tk.Duplicate)
}

func TestSubstrateDescribeNotFound(t *testing.T) {
	_, err := NewSubstrate(newMemStore(), &memQueue{}).Describe(context.Background(), params)
	require.ErrorIs(t, err, evaluation.ErrRunNotFound)
}

func TestWorkerRetriesThenSettles(t *testing.T) {
	store, q, rep := newMemStore(), &memQueue{}, &countingReporter{}
	checker, calls := checkerReturning(transient, unhealthy)
	run, _, _ := store.Create(context.Background(), params)

	w := NewWorker(store, q, checker, rep, WorkerConfig{Policy: fastPolicy()})
	require.NoError(t, w.Handle(context.Background(), run.ID))

	got, _ := store.Get(context.Background(), run.ID)
	require.Equal(t, evaluation.StateUnhealthy, got.State)
	require.Equal(t, 2, got.Attempts)
	require.Equal(t, 404, got.StatusCode)
	require.NotNil(t, got.ReportedAt)
	require.Equal(t, 2, *calls)

	require.Len(t, rep.reports, 1)
	require.Equal(t, EncodeRunID(run.ID), rep.reports[0].RunID)
	require.Equal(t, evaluation.StateUnhealthy, rep.reports[0].State)
}

func TestWorkerExhaustedRetriesFail(t *testing.T) {
	store, q, rep := newMemStore(), &memQueue{}, &countingReporter{}
	checker, calls := checkerReturning(transient)
	run, _, _ := store.Create(context.Background(), params)

	w := NewWorker(store, q, checker, rep, WorkerConfig{Policy: fastPolicy()})
	require.NoError(t, w.Handle(context.Background(), run.ID))

	got, _ := store.Get(context.Background(), run.ID)
	require.Equal(t, evaluation.StateFailed, got.State)
	require.Equal(t, 3, got.Attempts)
	require.Equal(t, 3, *calls)
	require.Len(t, rep.reports, 1)
}

func TestWorkerFatalDoesNotRetry(t *testing.T) {
	store, q, rep := newMemStore(), &memQueue{}, &countingReporter{}
	checker, calls := checkerReturning(fatal, unhealthy)
	run, _, _ := store.Create(context.Background(), params)

	w := NewWorker(store, q, checker, rep, WorkerConfig{Policy: fastPolicy()})
	require.NoError(t, w.Handle(context.Background(), run.ID))

	got, _ := store.Get(context.Background(), run.ID)
	require.Equal(t, evaluation.StateFailed, got.State)
	require.Equal(t, 1, *calls)
	require.Contains(t, got.Reason, "fatal")
}

func TestWorkerResumesWithRemainingBudget(t *testing.T) {
	store, q, rep := newMemStore(), &memQueue{}, &countingReporter{}
	checker, calls := checkerReturning(transient)
	run, _, _ := store.Create(context.Background(), params)

	// 上一个 worker 已经用掉两次尝试后崩溃
	_, _ = store.BeginAttempt(context.Background(), run.ID)
	_, _ = store.BeginAttempt(context.Background(), run.ID)

	w := NewWorker(store, q, checker, rep, WorkerConfig{Policy: fastPolicy()})
	require.NoError(t, w.Handle(context.Background(), run.ID))

	got, _ := store.Get(context.Background(), run.ID)
	require.Equal(t, evaluation.StateFailed, got.State)
	require.Equal(t, 3, got.Attempts)
	require.Equal(t, 1, *calls)
}

func TestWorkerRedeliveryReportsOnce(t *testing.T) {
	store, q, rep := newMemStore(), &memQueue{}, &countingReporter{}
	checker, calls := checkerReturning(unhealthy)
	run, _, _ := store.Create(context.Background(), params)

	w := NewWorker(store, q, checker, rep, WorkerConfig{Policy: fastPolicy()})
	require.NoError(t, w.Handle(context.Background(), run.ID))
	require.NoError(t, w.Handle(context.Background(), run.ID))

	require.Equal(t, 1, *calls)
	require.Len(t, rep.reports, 1)
}

func TestWorkerRetriesFailedReport(t *testing.T) {
	store, q, rep := newMemStore(), &memQueue{}, &countingReporter{fail: 1}
	checker, calls := checkerReturning(unhealthy)
	run, _, _ := store.Create(context.Background(), params)

	w := NewWorker(store, q, checker, rep, WorkerConfig{Policy: fastPolicy()})
	require.Error(t, w.Handle(context.Background(), run.ID))

	got, _ := store.Get(context.Background(), run.ID)
	require.Equal(t, evaluation.StateUnhealthy, got.State)
	require.Nil(t, got.ReportedAt)

	// 重新投递：不再探测，只补报
	require.NoError(t, w.Handle(context.Background(), run.ID))
	require.Equal(t, 1, *calls)
	require.Len(t, rep.reports, 1)
}

func TestWorkerRunResumesUnreported(t *testing.T) {
	store, q, rep := newMemStore(), &memQueue{}, &countingReporter{}
	checker, _ := checkerReturning(unhealthy)
	run, _, _ := store.Create(context.Background(), params)
	_, _ = store.BeginAttempt(context.Background(), run.ID)
	_, _, _ = store.Finish(context.Background(), run.ID, evaluation.StateUnreachable, "nxdomain", 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewWorker(store, q, checker, rep, WorkerConfig{Policy: fastPolicy()}).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		rep.mu.Lock()
		defer rep.mu.Unlock()
		return len(rep.reports) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	got, _ := store.Get(context.Background(), run.ID)
	require.NotNil(t, got.ReportedAt)
}

func TestWorkerShutdownLeavesRunOpen(t *testing.T) {
	store, q, rep := newMemStore(), &memQueue{}, &countingReporter{}
	ctx, cancel := context.WithCancel(context.Background())
	checker := evaluation.CheckerFunc(func(context.Context, string) (evaluation.Verdict, error) {
		cancel()
		return evaluation.Verdict{}, evaluation.Transient("interrupted", nil)
	})
	run, _, _ := store.Create(context.Background(), params)

	w := NewWorker(store, q, checker, rep, WorkerConfig{Policy: fastPolicy()})
	require.Error(t, w.Handle(ctx, run.ID))

	got, _ := store.Get(context.Background(), run.ID)
	require.Equal(t, evaluation.StateChecking, got.State)
	require.Equal(t, 1, got.Attempts)
	require.Empty(t, rep.reports)
}

func TestRunIDRoundTrip(t *testing.T) {
	for _, id := range []int64{1, 42, 1 << 40} {
		s := EncodeRunID(id)
		require.GreaterOrEqual(t, len(s), 8)
		got, err := DecodeRunID(s)
		require.NoError(t, err)
		require.Equal(t, id, got)
	}
	_, err := DecodeRunID("!!")
	require.Error(t, err)
}

func TestRetryAfterBackOff_FloorIsCappedAndConsumed(t *testing.T) {
	b := &retryAfterBackOff{BackOff: backoff.NewConstantBackOff(10 * time.Millisecond), max: time.Second}

	require.Equal(t, 10*time.Millisecond, b.NextBackOff())

	b.floor = 300 * time.Millisecond
	require.Equal(t, 300*time.Millisecond, b.NextBackOff())
	require.Equal(t, 10*time.Millisecond, b.NextBackOff(), "floor applies to one wait only")

	b.floor = time.Hour
	require.Equal(t, time.Second, b.NextBackOff())
}
