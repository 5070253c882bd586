package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for the usage ledger.
//
// IncrementUsage is the contended path: implementations must hold a
// per-(usage period, feature) lock (row lock or equivalent) for the whole
// read-check-write section, so concurrent callers can never both pass the
// limit check before either commits.
type Repository interface {
	// ActiveSubscription returns the single active subscription of the
	// workspace. ErrNoActiveSubscription when none, ErrAmbiguousSubscription
	// when more than one matches.
	ActiveSubscription(ctx context.Context, workspaceID string) (Subscription, error)

	// PlanFeatureLimit returns the plan's configured limit for the feature.
	// nil means unlimited (unconfigured features are unlimited too).
	PlanFeatureLimit(ctx context.Context, planID string, feature Feature) (*int64, error)

	// EnsureUsagePeriod materializes the period row idempotently: an existing
	// (workspace, start, end) row is reused, refreshing its subscription
	// pointer if the active subscription changed since creation.
	EnsureUsagePeriod(ctx context.Context, period UsagePeriod) (UsagePeriod, error)

	// FindUsagePeriod looks up an existing period without creating one.
	FindUsagePeriod(ctx context.Context, workspaceID string, start, end time.Time) (UsagePeriod, bool, error)

	// FeatureUsage reads the stored counter; 0 when no record exists.
	FeatureUsage(ctx context.Context, usagePeriodID string, feature Feature) (int64, error)

	// IncrementUsage atomically checks projected usage against limit (nil =
	// unlimited) and increments the stored counter. On breach it returns a
	// *QuotaExceededError and mutates nothing.
	IncrementUsage(ctx context.Context, usagePeriodID string, feature Feature, amount int64, limit *int64) (int64, error)
}

// LiveCountFunc reports the current live usage of a capacity feature for a
// workspace (e.g. agent count, concurrent calls in flight).
type LiveCountFunc func(ctx context.Context, workspaceID string) (int64, error)

// Ledger enforces per-workspace, per-billing-period feature quotas.
//
// Metering invariants:
//   - Consumption counters are monotonic and never pass their effective limit
//     after a successful enforce call.
//   - Capacity features are never persisted-incremented; their truth is the
//     registered live count.
//   - Unmapped operations are free.
type Ledger struct {
	repo   Repository
	routes *RouteFeatureMap
	live   map[Feature]LiveCountFunc
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewLedger(repo Repository, routes *RouteFeatureMap) *Ledger {
	if routes == nil {
		routes = NewRouteFeatureMap()
	}
	return &Ledger{
		repo:   repo,
		routes: routes,
		live:   make(map[Feature]LiveCountFunc),
		clock:  time.Now,
	}
}

// RegisterLiveCount wires the live usage source of a capacity feature.
// Must be called during startup, before concurrent use.
func (l *Ledger) RegisterLiveCount(feature Feature, fn LiveCountFunc) {
	l.live[feature] = fn
}

// EnforceAndRecord checks the operation's feature quota for the workspace
// and, for consumption features, records the usage. A *QuotaExceededError
// return means the operation must be rejected and nothing was recorded.
func (l *Ledger) EnforceAndRecord(ctx context.Context, workspaceID, operationID string, amount int64) error {
	if workspaceID == "" || operationID == "" || amount < 0 {
		return ErrInvalidArgument
	}

	feature, ok := l.routes.Resolve(operationID)
	if !ok {
		// Unmetered operation.
		return nil
	}

	_, period, limit, err := l.resolve(ctx, workspaceID, feature)
	if err != nil {
		return err
	}

	kind, _ := feature.Kind()
	if kind == FeatureKindCapacity {
		fn := l.live[feature]
		if fn == nil {
			return fmt.Errorf("capacity feature %q has no live count source: %w", feature, ErrInvalidArgument)
		}
		current, err := fn(ctx, workspaceID)
		if err != nil {
			return err
		}
		projected := current + amount
		if limit != nil && projected > *limit {
			return &QuotaExceededError{Feature: feature, Projected: projected, Limit: *limit}
		}
		return nil
	}

	_, err = l.repo.IncrementUsage(ctx, period.ID, feature, amount, limit)
	return err
}

// FeatureLimit resolves the plan limit of a feature for the workspace's
// active subscription. nil means unlimited.
func (l *Ledger) FeatureLimit(ctx context.Context, workspaceID string, feature Feature) (*int64, error) {
	if workspaceID == "" {
		return nil, ErrInvalidArgument
	}
	sub, err := l.repo.ActiveSubscription(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return l.repo.PlanFeatureLimit(ctx, sub.PlanID, feature)
}

// GetUsageStatus reports current usage without locking or mutation.
func (l *Ledger) GetUsageStatus(ctx context.Context, workspaceID string, feature Feature) (UsageStatus, error) {
	if workspaceID == "" {
		return UsageStatus{}, ErrInvalidArgument
	}
	if !feature.Known() {
		return UsageStatus{}, fmt.Errorf("unknown feature %q: %w", feature, ErrNotFound)
	}

	sub, err := l.repo.ActiveSubscription(ctx, workspaceID)
	if err != nil {
		return UsageStatus{}, err
	}
	start, end := CurrentWindow(sub.StartedAt, l.clock().UTC())

	limit, err := l.repo.PlanFeatureLimit(ctx, sub.PlanID, feature)
	if err != nil {
		return UsageStatus{}, err
	}

	period, found, err := l.repo.FindUsagePeriod(ctx, workspaceID, start, end)
	if err != nil {
		return UsageStatus{}, err
	}

	kind, _ := feature.Kind()
	var used int64
	switch {
	case kind == FeatureKindCapacity:
		fn := l.live[feature]
		if fn == nil {
			return UsageStatus{}, fmt.Errorf("capacity feature %q has no live count source: %w", feature, ErrInvalidArgument)
		}
		if used, err = fn(ctx, workspaceID); err != nil {
			return UsageStatus{}, err
		}
	case found:
		if used, err = l.repo.FeatureUsage(ctx, period.ID, feature); err != nil {
			return UsageStatus{}, err
		}
	}

	if found && kind == FeatureKindConsumption {
		limit = withAllowance(limit, period, feature)
	}

	status := UsageStatus{Feature: feature, Used: used, Unlimited: limit == nil}
	if limit != nil {
		status.Limit = *limit
		if remaining := *limit - used; remaining > 0 {
			status.Remaining = remaining
		}
	}
	return status, nil
}

// resolve materializes the active period and computes the effective limit.
func (l *Ledger) resolve(ctx context.Context, workspaceID string, feature Feature) (Subscription, UsagePeriod, *int64, error) {
	sub, err := l.repo.ActiveSubscription(ctx, workspaceID)
	if err != nil {
		return Subscription{}, UsagePeriod{}, nil, err
	}

	start, end := CurrentWindow(sub.StartedAt, l.clock().UTC())
	period, err := l.repo.EnsureUsagePeriod(ctx, UsagePeriod{
		ID:             uuid.NewString(),
		WorkspaceID:    workspaceID,
		SubscriptionID: sub.ID,
		PeriodStart:    start,
		PeriodEnd:      end,
	})
	if err != nil {
		return Subscription{}, UsagePeriod{}, nil, err
	}

	limit, err := l.repo.PlanFeatureLimit(ctx, sub.PlanID, feature)
	if err != nil {
		return Subscription{}, UsagePeriod{}, nil, err
	}
	if kind, _ := feature.Kind(); kind == FeatureKindConsumption {
		limit = withAllowance(limit, period, feature)
	}
	return sub, period, limit, nil
}

// withAllowance adds the period's extra allowance to a configured limit.
// Unlimited stays unlimited.
func withAllowance(limit *int64, period UsagePeriod, feature Feature) *int64 {
	if limit == nil {
		return nil
	}
	if extra := period.ExtraAllowances[feature]; extra > 0 {
		effective := *limit + extra
		return &effective
	}
	return limit
}
