package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"geolink.local/internal/app/evaluation"
)

// StatusRepo 是终态结果的落库端：
// destination_evaluations 以 run_id 为主键做幂等，link_destination_status 只保留每个目的地最新的结论。
type StatusRepo struct {
	db *pgxpool.Pool
}

func NewStatusRepo(db *pgxpool.Pool) *StatusRepo {
	return &StatusRepo{db: db}
}

func (r *StatusRepo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *StatusRepo) Report(ctx context.Context, rep evaluation.Report) error {
	return r.Apply(ctx, []evaluation.Report{rep})
}

// Apply 在一个事务里写入一批结果；已经写过的 run_id 直接跳过。
func (r *StatusRepo) Apply(ctx context.Context, reports []evaluation.Report) error {
	if len(reports) == 0 {
		return nil
	}

	dbctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.Begin(dbctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.Background())

	applied := 0
	for _, rep := range reports {
		tag, err := tx.Exec(dbctx, `
INSERT INTO destination_evaluations
  (run_id, workflow_id, link_id, destination_url, account_id, state, reason, status_code, attempts, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,0),$9,$10)
ON CONFLICT (run_id) DO NOTHING`,
			rep.RunID, rep.WorkflowID, rep.Params.LinkID, rep.Params.DestinationURL, rep.Params.AccountID,
			string(rep.State), rep.Reason, rep.StatusCode, rep.Attempts, rep.FinishedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		applied++

		if _, err := tx.Exec(dbctx, `
INSERT INTO link_destination_status (link_id, destination_url, state, reason, run_id, checked_at)
VALUES ($1,$2,$3,NULLIF($4,''),$5,$6)
ON CONFLICT (link_id, destination_url) DO UPDATE
SET state=EXCLUDED.state, reason=EXCLUDED.reason, run_id=EXCLUDED.run_id, checked_at=EXCLUDED.checked_at
WHERE link_destination_status.checked_at <= EXCLUDED.checked_at`,
			rep.Params.LinkID, rep.Params.DestinationURL, string(rep.State), rep.Reason, rep.RunID, rep.FinishedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(dbctx); err != nil {
		return err
	}
	slog.Debug("evaluation reports applied", "count", len(reports), "applied", applied)
	return nil
}

// DestinationStatus 是某个目的地最新的评估结论。
type DestinationStatus struct {
	DestinationURL string           `json:"destination_url"`
	State          evaluation.State `json:"state"`
	Reason         string           `json:"reason,omitempty"`
	RunID          string           `json:"run_id"`
	CheckedAt      time.Time        `json:"checked_at"`
}

func (r *StatusRepo) ListForLink(ctx context.Context, linkID string) ([]DestinationStatus, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.db.Query(dbctx, `
SELECT destination_url, state, COALESCE(reason, ''), run_id, checked_at
FROM link_destination_status
WHERE link_id=$1
ORDER BY destination_url`, linkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []DestinationStatus{}
	for rows.Next() {
		var s DestinationStatus
		if err := rows.Scan(&s.DestinationURL, &s.State, &s.Reason, &s.RunID, &s.CheckedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
