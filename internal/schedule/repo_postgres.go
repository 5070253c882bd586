package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PostgresRepo persists call items and reads agent config from Postgres.
//
// Assumed tables:
//   - call_items (retry_reasons stored as JSONB)
//   - agents (workdays stored as a 7-bit mask, window bounds as minutes)
//
// Each write is a single statement, so a scheduler transition is atomic at
// the row level.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) CreateCallItem(ctx context.Context, item CallItem) error {
	if item.ID == "" || item.WorkspaceID == "" {
		return ErrInvalidArgument
	}
	reasons, err := json.Marshal(item.RetryReasons)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO call_items (id, workspace_id, agent_id, phone_number, status, attempts, next_action_at, retry_reasons, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err = r.db.ExecContext(ctx, q,
		item.ID,
		item.WorkspaceID,
		item.AgentID,
		item.PhoneNumber,
		item.Status,
		item.Attempts,
		item.NextActionAt.UTC(),
		reasons,
		item.CreatedAt.UTC(),
	)
	return err
}

func (r *PostgresRepo) GetCallItem(ctx context.Context, workspaceID, id string) (CallItem, error) {
	const q = `
SELECT id, workspace_id, agent_id, phone_number, status, attempts, next_action_at, retry_reasons, created_at
FROM call_items
WHERE workspace_id = $1 AND id = $2
`
	var item CallItem
	var reasons []byte
	err := r.db.QueryRowContext(ctx, q, workspaceID, id).Scan(
		&item.ID,
		&item.WorkspaceID,
		&item.AgentID,
		&item.PhoneNumber,
		&item.Status,
		&item.Attempts,
		&item.NextActionAt,
		&reasons,
		&item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallItem{}, ErrNotFound
		}
		return CallItem{}, err
	}
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &item.RetryReasons); err != nil {
			return CallItem{}, err
		}
	}
	return item, nil
}

func (r *PostgresRepo) UpdateCallItem(ctx context.Context, item CallItem) error {
	reasons, err := json.Marshal(item.RetryReasons)
	if err != nil {
		return err
	}
	const q = `
UPDATE call_items
SET status = $3, attempts = $4, next_action_at = $5, retry_reasons = $6
WHERE workspace_id = $1 AND id = $2
`
	res, err := r.db.ExecContext(ctx, q,
		item.WorkspaceID,
		item.ID,
		item.Status,
		item.Attempts,
		item.NextActionAt.UTC(),
		reasons,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresRepo) DeleteCallItem(ctx context.Context, workspaceID, id string) error {
	const q = `DELETE FROM call_items WHERE workspace_id = $1 AND id = $2`
	res, err := r.db.ExecContext(ctx, q, workspaceID, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresRepo) GetAgent(ctx context.Context, workspaceID, id string) (Agent, error) {
	const q = `
SELECT id, workspace_id, workdays, call_from_minutes, call_to_minutes, retry_interval_minutes, max_retries
FROM agents
WHERE workspace_id = $1 AND id = $2
`
	var a Agent
	var workdays int
	var from, to, interval int
	err := r.db.QueryRowContext(ctx, q, workspaceID, id).Scan(
		&a.ID,
		&a.WorkspaceID,
		&workdays,
		&from,
		&to,
		&interval,
		&a.MaxRetries,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, err
	}
	a.Workdays = Weekdays(workdays)
	a.CallFrom = TimeOfDay(from)
	a.CallTo = TimeOfDay(to)
	a.RetryInterval = time.Duration(interval) * time.Minute
	return a, nil
}

func (r *PostgresRepo) CountAgents(ctx context.Context, workspaceID string) (int64, error) {
	const q = `SELECT COUNT(*) FROM agents WHERE workspace_id = $1`
	var n int64
	if err := r.db.QueryRowContext(ctx, q, workspaceID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
