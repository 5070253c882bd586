package billing

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRepo is an in-memory ledger repository useful for tests and early
// development. It keeps the same locking discipline as the Postgres
// implementation: IncrementUsage serializes on a per-(period, feature) mutex
// so the read-check-write section is race-free.
type MemoryRepo struct {
	mu           sync.Mutex
	subs         []Subscription
	planLimits   map[string]*int64      // planID/feature
	periods      map[string]UsagePeriod // by ID
	usage        map[string]int64       // periodID/feature
	featureLocks map[string]*sync.Mutex
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		planLimits:   make(map[string]*int64),
		periods:      make(map[string]UsagePeriod),
		usage:        make(map[string]int64),
		featureLocks: make(map[string]*sync.Mutex),
	}
}

// PutSubscription adds a subscription row (test/bootstrap helper).
func (r *MemoryRepo) PutSubscription(s Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.subs {
		if r.subs[i].ID == s.ID {
			r.subs[i] = s
			return
		}
	}
	r.subs = append(r.subs, s)
}

// PutPlanFeatureLimit configures a plan limit (test/bootstrap helper).
func (r *MemoryRepo) PutPlanFeatureLimit(lim PlanFeatureLimit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.planLimits[lim.PlanID+"/"+string(lim.Feature)] = lim.Limit
}

func (r *MemoryRepo) ActiveSubscription(ctx context.Context, workspaceID string) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found []Subscription
	for _, s := range r.subs {
		if s.WorkspaceID == workspaceID && s.IsActive {
			found = append(found, s)
		}
	}
	switch len(found) {
	case 0:
		return Subscription{}, fmt.Errorf("workspace %s: %w", workspaceID, ErrNoActiveSubscription)
	case 1:
		return found[0], nil
	default:
		return Subscription{}, fmt.Errorf("workspace %s has %d active subscriptions: %w", workspaceID, len(found), ErrAmbiguousSubscription)
	}
}

func (r *MemoryRepo) PlanFeatureLimit(ctx context.Context, planID string, feature Feature) (*int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit, ok := r.planLimits[planID+"/"+string(feature)]
	if !ok || limit == nil {
		return nil, nil
	}
	v := *limit
	return &v, nil
}

func (r *MemoryRepo) EnsureUsagePeriod(ctx context.Context, period UsagePeriod) (UsagePeriod, error) {
	if period.WorkspaceID == "" || period.SubscriptionID == "" {
		return UsagePeriod{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.periods {
		if p.WorkspaceID == period.WorkspaceID && p.PeriodStart.Equal(period.PeriodStart) && p.PeriodEnd.Equal(period.PeriodEnd) {
			if p.SubscriptionID != period.SubscriptionID {
				p.SubscriptionID = period.SubscriptionID
				r.periods[id] = p
			}
			return clonePeriod(p), nil
		}
	}
	r.periods[period.ID] = clonePeriod(period)
	return clonePeriod(period), nil
}

func (r *MemoryRepo) FindUsagePeriod(ctx context.Context, workspaceID string, start, end time.Time) (UsagePeriod, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.periods {
		if p.WorkspaceID == workspaceID && p.PeriodStart.Equal(start) && p.PeriodEnd.Equal(end) {
			return clonePeriod(p), true, nil
		}
	}
	return UsagePeriod{}, false, nil
}

// SetExtraAllowance configures a period-specific allowance (test helper).
func (r *MemoryRepo) SetExtraAllowance(periodID string, feature Feature, extra int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.periods[periodID]
	if !ok {
		return
	}
	if p.ExtraAllowances == nil {
		p.ExtraAllowances = make(map[Feature]int64)
	}
	p.ExtraAllowances[feature] = extra
	r.periods[periodID] = p
}

func (r *MemoryRepo) FeatureUsage(ctx context.Context, usagePeriodID string, feature Feature) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage[usagePeriodID+"/"+string(feature)], nil
}

func (r *MemoryRepo) IncrementUsage(ctx context.Context, usagePeriodID string, feature Feature, amount int64, limit *int64) (int64, error) {
	if usagePeriodID == "" || amount < 0 {
		return 0, ErrInvalidArgument
	}
	key := usagePeriodID + "/" + string(feature)

	// The map mutex only guards lock lookup; the per-key mutex guards the
	// whole read-check-write section.
	r.mu.Lock()
	lock, ok := r.featureLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.featureLocks[key] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	used := r.usage[key]
	r.mu.Unlock()

	projected := used + amount
	if limit != nil && projected > *limit {
		return used, &QuotaExceededError{Feature: feature, Projected: projected, Limit: *limit}
	}

	r.mu.Lock()
	r.usage[key] = projected
	r.mu.Unlock()
	return projected, nil
}

func clonePeriod(p UsagePeriod) UsagePeriod {
	out := p
	if len(p.ExtraAllowances) > 0 {
		out.ExtraAllowances = make(map[Feature]int64, len(p.ExtraAllowances))
		for k, v := range p.ExtraAllowances {
			out.ExtraAllowances[k] = v
		}
	}
	return out
}
