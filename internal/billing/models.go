package billing

import (
	"errors"
	"fmt"
	"time"
)

// Subscription anchors a workspace's billing window to its start date.
//
// Invariant (enforced upstream, not here): at most one active subscription
// per workspace. Production has been observed to violate it, so resolution
// reports ErrAmbiguousSubscription instead of silently picking one row.
type Subscription struct {
	ID          string    `json:"id" db:"id"`
	WorkspaceID string    `json:"workspace_id" db:"workspace_id"`
	PlanID      string    `json:"plan_id" db:"plan_id"`
	StartedAt   time.Time `json:"started_at" db:"started_at"`
	IsActive    bool      `json:"is_active" db:"is_active"`
}

// UsagePeriod is one monthly billing window of a workspace.
//
// Invariant: exactly one row per (workspace_id, period_start, period_end);
// creation is idempotent. PeriodEnd is exclusive.
type UsagePeriod struct {
	ID             string    `json:"id" db:"id"`
	WorkspaceID    string    `json:"workspace_id" db:"workspace_id"`
	SubscriptionID string    `json:"subscription_id" db:"subscription_id"`
	PeriodStart    time.Time `json:"period_start" db:"period_start"`
	PeriodEnd      time.Time `json:"period_end" db:"period_end"`

	// ExtraAllowances raises the effective limit of specific consumption
	// features for this period only (goodwill credit, upsell trial, ...).
	ExtraAllowances map[Feature]int64 `json:"extra_allowances,omitempty" db:"extra_allowances"`
}

// FeatureUsageRecord is the stored counter of a consumption feature within a
// usage period. Capacity features never trust this value; their usage is the
// live entity count.
type FeatureUsageRecord struct {
	UsagePeriodID string  `json:"usage_period_id" db:"usage_period_id"`
	Feature       Feature `json:"feature" db:"feature"`
	UsedAmount    int64   `json:"used_amount" db:"used_amount"`
}

// PlanFeatureLimit configures a plan's cap for one feature.
// A nil Limit means unlimited.
type PlanFeatureLimit struct {
	PlanID  string  `json:"plan_id" db:"plan_id"`
	Feature Feature `json:"feature" db:"feature"`
	Limit   *int64  `json:"limit" db:"limit"`
}

// UsageStatus is the read-only view served to billing dashboards.
type UsageStatus struct {
	Feature   Feature `json:"feature"`
	Used      int64   `json:"used"`
	Limit     int64   `json:"limit,omitempty"`
	Remaining int64   `json:"remaining,omitempty"`
	Unlimited bool    `json:"unlimited"`
}

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrNoActiveSubscription = errors.New("no active subscription")
	// ErrAmbiguousSubscription: more than one active subscription matched.
	// Never resolved by picking one; the upstream invariant must be fixed.
	ErrAmbiguousSubscription = errors.New("ambiguous active subscription")
)

// QuotaExceededError is the soft, expected rejection of a metered operation.
// It is a typed result, not a fault: callers decide to reject, queue, or
// upsell. Nothing is mutated when it is returned.
type QuotaExceededError struct {
	Feature   Feature
	Projected int64
	Limit     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: %d exceeds plan limit %d", e.Feature, e.Projected, e.Limit)
}
