package billing

import (
	"context"
	"math"
	"time"

	"hotcalls-core/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// defaultCallSlotTTL bounds how long a leaked slot can pin the counter
// when a process dies between acquire and release.
const defaultCallSlotTTL = 2 * time.Hour

// unlimitedCallCap caps the acquire script when the plan carries no
// concurrent_calls limit; the counter still tracks live calls so usage
// status stays accurate.
const unlimitedCallCap = int64(math.MaxInt32)

// CallGate hands out live-call slots backed by the redis concurrency
// counter. The quota middleware's capacity check reads the same counter;
// the gate is the race-safe increment at dial time. Slots are released by
// the disconnect webhook when the outcome of the attempt comes in.
type CallGate struct {
	rdb    *redis.Client
	ledger *Ledger
	ttl    time.Duration
}

func NewCallGate(rdb *redis.Client, ledger *Ledger, ttl time.Duration) *CallGate {
	if ttl <= 0 {
		ttl = defaultCallSlotTTL
	}
	return &CallGate{rdb: rdb, ledger: ledger, ttl: ttl}
}

// AcquireCallSlot claims one live-call slot for the workspace. A false
// return without error means the plan's concurrent-call cap is saturated.
func (g *CallGate) AcquireCallSlot(ctx context.Context, workspaceID string) (bool, error) {
	limit, err := g.ledger.FeatureLimit(ctx, workspaceID, FeatureConcurrentCalls)
	if err != nil {
		return false, err
	}
	slots := unlimitedCallCap
	if limit != nil {
		slots = *limit
	}
	if slots <= 0 {
		return false, nil
	}
	return utils.AcquireConcurrencyCap(ctx, g.rdb, utils.ConcurrencyKey(workspaceID), int(slots), g.ttl)
}

// ReleaseCallSlot returns a previously acquired slot.
func (g *CallGate) ReleaseCallSlot(ctx context.Context, workspaceID string) error {
	return utils.ReleaseConcurrencyCap(ctx, g.rdb, utils.ConcurrencyKey(workspaceID))
}
