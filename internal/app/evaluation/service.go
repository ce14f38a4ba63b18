package evaluation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"geolink.local/internal/platform/metrics"
)

var ErrRunNotFound = errors.New("evaluation run not found")

// Ticket 是触发结果：调用方拿到它就返回，不等待工作流结束。
type Ticket struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
	Duplicate  bool   `json:"duplicate"`
}

// RunStatus 是某个 Params 最近一次 run 的可观测状态。
type RunStatus struct {
	WorkflowID string    `json:"workflow_id"`
	RunID      string    `json:"run_id"`
	State      State     `json:"state"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Substrate 是持久化执行底座（Temporal 或 Redis Streams + Postgres）。
//
// 约定：
// - Start 必须幂等：同一 Params 已有未完成的 run 时返回它，Duplicate=true
// - Start 只负责持久化地登记 run，不能阻塞到探测完成
// - Describe 找不到时返回 ErrRunNotFound
type Substrate interface {
	Name() string
	Start(ctx context.Context, p Params) (Ticket, error)
	Describe(ctx context.Context, p Params) (RunStatus, error)
}

// Reporter 接收终态结果。实现必须按 RunID 幂等，底座在崩溃恢复时可能重放。
type Reporter interface {
	Report(ctx context.Context, r Report) error
}

type ReporterFunc func(ctx context.Context, r Report) error

func (f ReporterFunc) Report(ctx context.Context, r Report) error { return f(ctx, r) }

// Service 是触发入口：校验参数，交给底座，记指标。
type Service struct {
	substrate Substrate
}

func NewService(s Substrate) *Service {
	return &Service{substrate: s}
}

func (s *Service) Trigger(ctx context.Context, p Params) (Ticket, error) {
	if err := p.Validate(); err != nil {
		metrics.EvaluationTriggers.WithLabelValues(s.substrate.Name(), "invalid").Inc()
		return Ticket{}, err
	}
	p = p.Normalized()

	t, err := s.substrate.Start(ctx, p)
	if err != nil {
		metrics.EvaluationTriggers.WithLabelValues(s.substrate.Name(), "error").Inc()
		slog.Error("evaluation_trigger_failed",
			"backend", s.substrate.Name(),
			"link_id", p.LinkID,
			"workflow_id", p.WorkflowID(),
			"err", err,
		)
		return Ticket{}, err
	}

	result := "started"
	if t.Duplicate {
		result = "duplicate"
	}
	metrics.EvaluationTriggers.WithLabelValues(s.substrate.Name(), result).Inc()
	slog.Info("evaluation_triggered",
		"backend", s.substrate.Name(),
		"link_id", p.LinkID,
		"account_id", p.AccountID,
		"workflow_id", t.WorkflowID,
		"run_id", t.RunID,
		"duplicate", t.Duplicate,
	)
	return t, nil
}

func (s *Service) Status(ctx context.Context, p Params) (RunStatus, error) {
	if err := p.Validate(); err != nil {
		return RunStatus{}, err
	}
	return s.substrate.Describe(ctx, p.Normalized())
}
