package jobqueue

import (
	"context"
	"errors"

	"geolink.local/internal/app/evaluation"
)

// Substrate 是不依赖 Temporal 的执行底座：Postgres 记状态，Redis Stream 投递。
type Substrate struct {
	store RunStore
	queue Queue
}

func NewSubstrate(store RunStore, q Queue) *Substrate {
	return &Substrate{store: store, queue: q}
}

func (s *Substrate) Name() string { return "streams" }

func (s *Substrate) Start(ctx context.Context, p evaluation.Params) (evaluation.Ticket, error) {
	run, duplicate, err := s.store.Create(ctx, p)
	if err != nil {
		return evaluation.Ticket{}, err
	}
	ticket := evaluation.Ticket{
		WorkflowID: p.WorkflowID(),
		RunID:      EncodeRunID(run.ID),
		Duplicate:  duplicate,
	}
	if duplicate {
		return ticket, nil
	}

	if err := s.queue.Enqueue(ctx, run.ID); err != nil {
		_, _, _ = s.store.Finish(ctx, run.ID, evaluation.StateFailed, "enqueue failed", 0)
		return evaluation.Ticket{}, err
	}
	return ticket, nil
}

func (s *Substrate) Describe(ctx context.Context, p evaluation.Params) (evaluation.RunStatus, error) {
	run, err := s.store.Latest(ctx, p.Key())
	if errors.Is(err, ErrNotFound) {
		return evaluation.RunStatus{}, evaluation.ErrRunNotFound
	}
	if err != nil {
		return evaluation.RunStatus{}, err
	}
	return run.Status(), nil
}
