package jobqueue

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"geolink.local/internal/app/evaluation"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrRunFinished = errors.New("run already finished")
)

type Run struct {
	ID         int64
	Params     evaluation.Params
	State      evaluation.State
	Attempts   int
	Reason     string
	StatusCode int
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
	ReportedAt *time.Time
}

func (r Run) Status() evaluation.RunStatus {
	return evaluation.RunStatus{
		WorkflowID: r.Params.WorkflowID(),
		RunID:      EncodeRunID(r.ID),
		State:      r.State,
		Attempts:   r.Attempts,
		Reason:     r.Reason,
		UpdatedAt:  r.UpdatedAt,
	}
}

func (r Run) Report() evaluation.Report {
	finished := r.UpdatedAt
	if r.FinishedAt != nil {
		finished = *r.FinishedAt
	}
	return evaluation.Report{
		RunID:      EncodeRunID(r.ID),
		WorkflowID: r.Params.WorkflowID(),
		Params:     r.Params,
		State:      r.State,
		Reason:     r.Reason,
		StatusCode: r.StatusCode,
		Attempts:   r.Attempts,
		FinishedAt: finished,
	}
}

// RunsRepo 是 evaluation_runs 表。
// 去重靠部分唯一索引：同一 idem_key 只能有一行处于 pending / checking。
type RunsRepo struct {
	db *pgxpool.Pool
}

func NewRunsRepo(db *pgxpool.Pool) *RunsRepo {
	return &RunsRepo{db: db}
}

const runColumns = `id, link_id, destination_url, account_id, status, attempts,
COALESCE(reason, ''), COALESCE(status_code, 0), created_at, updated_at, finished_at, reported_at`

func scanRun(row pgx.Row) (Run, error) {
	var run Run
	err := row.Scan(
		&run.ID, &run.Params.LinkID, &run.Params.DestinationURL, &run.Params.AccountID,
		&run.State, &run.Attempts, &run.Reason, &run.StatusCode,
		&run.CreatedAt, &run.UpdatedAt, &run.FinishedAt, &run.ReportedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	return run, nil
}

// Create 插入新 run；已有未完成的 run 时返回它，duplicate=true。
func (r *RunsRepo) Create(ctx context.Context, p evaluation.Params) (Run, bool, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// 插入和查询之间旧 run 可能刚好结束，重试几次即可
	for i := 0; i < 3; i++ {
		run, err := scanRun(r.db.QueryRow(dbctx, `
INSERT INTO evaluation_runs (idem_key, workflow_id, link_id, destination_url, account_id, status)
VALUES ($1,$2,$3,$4,$5,'pending')
ON CONFLICT (idem_key) WHERE status IN ('pending','checking') DO NOTHING
RETURNING `+runColumns, p.Key(), p.WorkflowID(), p.LinkID, p.DestinationURL, p.AccountID))
		if err == nil {
			return run, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Run{}, false, err
		}

		run, err = scanRun(r.db.QueryRow(dbctx, `
SELECT `+runColumns+`
FROM evaluation_runs
WHERE idem_key=$1 AND status IN ('pending','checking')
LIMIT 1`, p.Key()))
		if err == nil {
			return run, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Run{}, false, err
		}
	}
	return Run{}, false, errors.New("create run: lost race too many times")
}

func (r *RunsRepo) Get(ctx context.Context, id int64) (Run, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanRun(r.db.QueryRow(dbctx, `SELECT `+runColumns+` FROM evaluation_runs WHERE id=$1`, id))
}

// Latest 返回某个 Params 最近一次 run。
func (r *RunsRepo) Latest(ctx context.Context, key string) (Run, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanRun(r.db.QueryRow(dbctx, `
SELECT `+runColumns+`
FROM evaluation_runs
WHERE idem_key=$1
ORDER BY created_at DESC, id DESC
LIMIT 1`, key))
}

// BeginAttempt 在探测前持久化 attempts+1，崩溃恢复后剩余预算照样有界。
func (r *RunsRepo) BeginAttempt(ctx context.Context, id int64) (int, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var attempts int
	err := r.db.QueryRow(dbctx, `
UPDATE evaluation_runs
SET status='checking', attempts=attempts+1, updated_at=now()
WHERE id=$1 AND status IN ('pending','checking')
RETURNING attempts`, id).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrRunFinished
	}
	return attempts, err
}

// Finish 只有从非终态迁移时才成功；ok=false 表示别的 worker 已经落了终态。
func (r *RunsRepo) Finish(ctx context.Context, id int64, state evaluation.State, reason string, statusCode int) (Run, bool, error) {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	run, err := scanRun(r.db.QueryRow(dbctx, `
UPDATE evaluation_runs
SET status=$2, reason=NULLIF($3,''), status_code=NULLIF($4,0), finished_at=now(), updated_at=now()
WHERE id=$1 AND status IN ('pending','checking')
RETURNING `+runColumns, id, string(state), reason, statusCode))
	if errors.Is(err, ErrNotFound) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

func (r *RunsRepo) MarkReported(ctx context.Context, id int64) error {
	dbctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.Exec(dbctx, `
UPDATE evaluation_runs
SET reported_at=now()
WHERE id=$1 AND finished_at IS NOT NULL AND reported_at IS NULL`, id)
	return err
}

// ListUnreported 找出已落终态但没有上报成功的 run（上报途中崩溃）。
func (r *RunsRepo) ListUnreported(ctx context.Context, limit int) ([]Run, error) {
	dbctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(dbctx, `
SELECT `+runColumns+`
FROM evaluation_runs
WHERE finished_at IS NOT NULL AND reported_at IS NULL
ORDER BY finished_at
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
