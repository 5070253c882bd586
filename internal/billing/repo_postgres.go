package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"hotcalls-core/pkg/utils"
)

// PostgresRepo persists the usage ledger.
//
// Assumed tables:
//   - subscriptions
//   - usage_periods (UNIQUE (workspace_id, period_start, period_end),
//     extra_allowances JSONB)
//   - feature_usage_records (UNIQUE (usage_period_id, feature))
//   - plan_feature_limits ("limit" nullable)
//
// IncrementUsage locks the counter row with SELECT ... FOR UPDATE for the
// whole read-check-write section, so concurrent callers against the same
// (period, feature) serialize and can never both pass the limit check.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) ActiveSubscription(ctx context.Context, workspaceID string) (Subscription, error) {
	const q = `
SELECT id, workspace_id, plan_id, started_at, is_active
FROM subscriptions
WHERE workspace_id = $1 AND is_active
LIMIT 2
`
	rows, err := r.db.QueryContext(ctx, q, workspaceID)
	if err != nil {
		return Subscription{}, err
	}
	defer rows.Close()

	var found []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.ID, &s.WorkspaceID, &s.PlanID, &s.StartedAt, &s.IsActive); err != nil {
			return Subscription{}, err
		}
		found = append(found, s)
	}
	if err := rows.Err(); err != nil {
		return Subscription{}, err
	}

	switch len(found) {
	case 0:
		return Subscription{}, ErrNoActiveSubscription
	case 1:
		return found[0], nil
	default:
		return Subscription{}, ErrAmbiguousSubscription
	}
}

func (r *PostgresRepo) PlanFeatureLimit(ctx context.Context, planID string, feature Feature) (*int64, error) {
	const q = `
SELECT "limit"
FROM plan_feature_limits
WHERE plan_id = $1 AND feature = $2
`
	var limit sql.NullInt64
	err := r.db.QueryRowContext(ctx, q, planID, feature).Scan(&limit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !limit.Valid {
		return nil, nil
	}
	v := limit.Int64
	return &v, nil
}

func (r *PostgresRepo) EnsureUsagePeriod(ctx context.Context, period UsagePeriod) (UsagePeriod, error) {
	if period.WorkspaceID == "" || period.SubscriptionID == "" {
		return UsagePeriod{}, ErrInvalidArgument
	}

	var out UsagePeriod
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Idempotent create: the unique key absorbs concurrent inserts.
		const ins = `
INSERT INTO usage_periods (id, workspace_id, subscription_id, period_start, period_end, extra_allowances)
VALUES ($1, $2, $3, $4, $5, '{}'::jsonb)
ON CONFLICT (workspace_id, period_start, period_end) DO NOTHING
`
		if _, err := tx.ExecContext(ctx, ins,
			period.ID,
			period.WorkspaceID,
			period.SubscriptionID,
			period.PeriodStart.UTC(),
			period.PeriodEnd.UTC(),
		); err != nil {
			return err
		}

		existing, err := selectUsagePeriod(ctx, tx, period.WorkspaceID, period.PeriodStart, period.PeriodEnd, true)
		if err != nil {
			return err
		}

		// Refresh the subscription pointer if the active subscription
		// changed since the row was created.
		if existing.SubscriptionID != period.SubscriptionID {
			const upd = `UPDATE usage_periods SET subscription_id = $2 WHERE id = $1`
			if _, err := tx.ExecContext(ctx, upd, existing.ID, period.SubscriptionID); err != nil {
				return err
			}
			existing.SubscriptionID = period.SubscriptionID
		}

		out = existing
		return nil
	})
	return out, err
}

func (r *PostgresRepo) FindUsagePeriod(ctx context.Context, workspaceID string, start, end time.Time) (UsagePeriod, bool, error) {
	const q = `
SELECT id, workspace_id, subscription_id, period_start, period_end, extra_allowances
FROM usage_periods
WHERE workspace_id = $1 AND period_start = $2 AND period_end = $3
`
	p, err := scanUsagePeriod(r.db.QueryRowContext(ctx, q, workspaceID, start.UTC(), end.UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UsagePeriod{}, false, nil
		}
		return UsagePeriod{}, false, err
	}
	return p, true, nil
}

func (r *PostgresRepo) FeatureUsage(ctx context.Context, usagePeriodID string, feature Feature) (int64, error) {
	const q = `
SELECT used_amount
FROM feature_usage_records
WHERE usage_period_id = $1 AND feature = $2
`
	var used int64
	err := r.db.QueryRowContext(ctx, q, usagePeriodID, feature).Scan(&used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return used, nil
}

func (r *PostgresRepo) IncrementUsage(ctx context.Context, usagePeriodID string, feature Feature, amount int64, limit *int64) (int64, error) {
	if usagePeriodID == "" || amount < 0 {
		return 0, ErrInvalidArgument
	}

	var newUsed int64
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const ins = `
INSERT INTO feature_usage_records (usage_period_id, feature, used_amount)
VALUES ($1, $2, 0)
ON CONFLICT (usage_period_id, feature) DO NOTHING
`
		if _, err := tx.ExecContext(ctx, ins, usagePeriodID, feature); err != nil {
			return err
		}

		// Lock the counter row to serialize concurrent enforce calls.
		const sel = `
SELECT used_amount
FROM feature_usage_records
WHERE usage_period_id = $1 AND feature = $2
FOR UPDATE
`
		var used int64
		if err := tx.QueryRowContext(ctx, sel, usagePeriodID, feature).Scan(&used); err != nil {
			return err
		}

		projected := used + amount
		if limit != nil && projected > *limit {
			return &QuotaExceededError{Feature: feature, Projected: projected, Limit: *limit}
		}

		const upd = `
UPDATE feature_usage_records
SET used_amount = $3
WHERE usage_period_id = $1 AND feature = $2
`
		if _, err := tx.ExecContext(ctx, upd, usagePeriodID, feature, projected); err != nil {
			return err
		}
		newUsed = projected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newUsed, nil
}

func selectUsagePeriod(ctx context.Context, tx *sql.Tx, workspaceID string, start, end time.Time, forUpdate bool) (UsagePeriod, error) {
	q := `
SELECT id, workspace_id, subscription_id, period_start, period_end, extra_allowances
FROM usage_periods
WHERE workspace_id = $1 AND period_start = $2 AND period_end = $3
`
	if forUpdate {
		q += "FOR UPDATE\n"
	}
	return scanUsagePeriod(tx.QueryRowContext(ctx, q, workspaceID, start.UTC(), end.UTC()))
}

func scanUsagePeriod(row *sql.Row) (UsagePeriod, error) {
	var p UsagePeriod
	var allowances []byte
	if err := row.Scan(
		&p.ID,
		&p.WorkspaceID,
		&p.SubscriptionID,
		&p.PeriodStart,
		&p.PeriodEnd,
		&allowances,
	); err != nil {
		return UsagePeriod{}, err
	}
	if len(allowances) > 0 {
		if err := json.Unmarshal(allowances, &p.ExtraAllowances); err != nil {
			return UsagePeriod{}, err
		}
	}
	return p, nil
}
