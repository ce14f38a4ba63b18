package temporalflow

import (
	"context"
	"errors"
	"log/slog"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"geolink.local/internal/app/evaluation"
)

// Dial 连接 Temporal，SDK 日志走 slog。
func Dial(hostPort, namespace string) (client.Client, error) {
	return client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    tlog.NewStructuredLogger(slog.Default()),
	})
}

// Substrate 用 workflow id 去重：同一 Params 有运行中的 workflow 时，
// Temporal 返回 WorkflowExecutionAlreadyStarted，这里映射成 Duplicate。
type Substrate struct {
	client    client.Client
	taskQueue string
}

func NewSubstrate(c client.Client, taskQueue string) *Substrate {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Substrate{client: c, taskQueue: taskQueue}
}

func (s *Substrate) Name() string { return "temporal" }

func (s *Substrate) Start(ctx context.Context, p evaluation.Params) (evaluation.Ticket, error) {
	id := p.WorkflowID()
	opts := client.StartWorkflowOptions{
		ID:                    id,
		TaskQueue:             s.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		Memo: map[string]interface{}{
			"link_id":    p.LinkID,
			"account_id": p.AccountID,
		},
	}
	opts.WorkflowExecutionErrorWhenAlreadyStarted = true

	run, err := s.client.ExecuteWorkflow(ctx, opts, WorkflowName, p)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return evaluation.Ticket{WorkflowID: id, RunID: started.RunId, Duplicate: true}, nil
		}
		return evaluation.Ticket{}, err
	}
	return evaluation.Ticket{WorkflowID: run.GetID(), RunID: run.GetRunID()}, nil
}

func (s *Substrate) Describe(ctx context.Context, p evaluation.Params) (evaluation.RunStatus, error) {
	id := p.WorkflowID()
	resp, err := s.client.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return evaluation.RunStatus{}, evaluation.ErrRunNotFound
		}
		return evaluation.RunStatus{}, err
	}

	info := resp.GetWorkflowExecutionInfo()
	st := evaluation.RunStatus{
		WorkflowID: id,
		RunID:      info.GetExecution().GetRunId(),
		State:      evaluation.StatePending,
		UpdatedAt:  info.GetStartTime().AsTime(),
	}

	switch info.GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		val, err := s.client.QueryWorkflow(ctx, id, st.RunID, QueryState)
		if err != nil {
			// 没有 worker 在线时 query 会失败，run 还没被调度，按 pending 返回。
			slog.Warn("evaluation_query_failed", "workflow_id", id, "err", err)
			return st, nil
		}
		var q evaluation.RunStatus
		if err := val.Get(&q); err != nil {
			return evaluation.RunStatus{}, err
		}
		// 重试由服务端调度，workflow 里看不到；次数和上次失败原因以挂起的 activity 为准。
		for _, pa := range resp.GetPendingActivities() {
			if pa.GetActivityType().GetName() != ActivityCheck {
				continue
			}
			if n := int(pa.GetAttempt()); n > q.Attempts {
				q.Attempts = n
			}
			if f := pa.GetLastFailure(); f != nil && f.GetMessage() != "" {
				q.Reason = f.GetMessage()
			}
			if ts := pa.GetLastStartedTime(); ts != nil && ts.AsTime().After(q.UpdatedAt) {
				q.UpdatedAt = ts.AsTime()
			}
		}
		return q, nil

	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		var r evaluation.Report
		if err := s.client.GetWorkflow(ctx, id, st.RunID).Get(ctx, &r); err != nil {
			return evaluation.RunStatus{}, err
		}
		st.State = r.State
		st.Attempts = r.Attempts
		st.Reason = r.Reason
		st.UpdatedAt = r.FinishedAt
		return st, nil

	default:
		st.State = evaluation.StateFailed
		st.Reason = "workflow " + info.GetStatus().String()
		if ct := info.GetCloseTime(); ct != nil {
			st.UpdatedAt = ct.AsTime()
		}
		return st, nil
	}
}
