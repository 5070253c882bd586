package schedule

import (
	"context"
	"fmt"
	"time"

	"hotcalls-core/internal/disposition"
	"hotcalls-core/pkg/logger"
)

// Repository is the persistence contract for call items and agent config.
//
// Update and Delete each persist in a single statement so a transition is
// observed fully applied or not at all; no partial state leaks.
type Repository interface {
	CreateCallItem(ctx context.Context, item CallItem) error
	GetCallItem(ctx context.Context, workspaceID, id string) (CallItem, error)
	UpdateCallItem(ctx context.Context, item CallItem) error
	DeleteCallItem(ctx context.Context, workspaceID, id string) error

	GetAgent(ctx context.Context, workspaceID, id string) (Agent, error)
	CountAgents(ctx context.Context, workspaceID string) (int64, error)
}

// AuditLog receives maintenance events. Implementations must be best-effort;
// the scheduler never blocks a transition on audit failures.
type AuditLog interface {
	LogUnclassifiedCode(ctx context.Context, workspaceID, callItemID, code string) error
}

// DeleteReason explains why a call item reached its terminal state.
type DeleteReason string

const (
	DeleteReasonCompleted        DeleteReason = "completed"
	DeleteReasonPermanentFailure DeleteReason = "permanent_failure"
	DeleteReasonRetriesExhausted DeleteReason = "retries_exhausted"
	DeleteReasonUnclassified     DeleteReason = "unclassified_code"
)

// Decision is the outcome of a single scheduling transition: either the item
// is deleted (terminal) or fully replaced by Updated.
type Decision struct {
	Delete       bool
	DeleteReason DeleteReason
	Updated      CallItem
}

// Decide computes the transition for a call item given a classified outcome.
// Pure: the caller persists the decision atomically.
func Decide(item CallItem, agent Agent, outcome disposition.Outcome, code, hint string, now time.Time, loc *time.Location) Decision {
	switch outcome {
	case disposition.OutcomeSuccess:
		return Decision{Delete: true, DeleteReason: DeleteReasonCompleted}

	case disposition.OutcomePermanentFailure:
		return Decision{Delete: true, DeleteReason: DeleteReasonPermanentFailure}

	case disposition.OutcomeRetryIncrement:
		// Guard: an item already at the ceiling is deleted without a
		// reschedule attempt.
		if item.Attempts >= agent.MaxRetries {
			return Decision{Delete: true, DeleteReason: DeleteReasonRetriesExhausted}
		}
		item.Attempts++
		if item.Attempts >= agent.MaxRetries {
			return Decision{Delete: true, DeleteReason: DeleteReasonRetriesExhausted}
		}
		item.Status = CallItemStatusRetry
		item.NextActionAt = NextValidTime(now.Add(agent.RetryInterval), agent, loc)
		return Decision{Updated: item}

	case disposition.OutcomeRetryNoIncrement:
		item.Status = CallItemStatusRetry
		item.NextActionAt = NextValidTime(now.Add(agent.RetryInterval), agent, loc)
		item.RetryReasons = appendRetryReason(item.RetryReasons, RetryReason{
			Reason: code,
			Hint:   hint,
			At:     now.UTC(),
		})
		return Decision{Updated: item}

	default:
		// Unclassified codes delete the item. This is a deliberate fail-safe
		// against unbounded retries for unrecognized codes; new codes must be
		// classified explicitly in internal/disposition.
		return Decision{Delete: true, DeleteReason: DeleteReasonUnclassified}
	}
}

// appendRetryReason appends and trims to the most recent MaxRetryReasons.
func appendRetryReason(log []RetryReason, r RetryReason) []RetryReason {
	log = append(log, r)
	if n := len(log); n > MaxRetryReasons {
		trimmed := make([]RetryReason, MaxRetryReasons)
		copy(trimmed, log[n-MaxRetryReasons:])
		return trimmed
	}
	return log
}

// Result reports what a handled outcome did to the call item.
type Result struct {
	Outcome      disposition.Outcome `json:"outcome"`
	Deleted      bool                `json:"deleted"`
	DeleteReason DeleteReason        `json:"delete_reason,omitempty"`
	Item         CallItem            `json:"item,omitempty"`
}

// Scheduler consumes classified call outcomes and applies the retry/delete
// state machine to call items.
type Scheduler struct {
	repo  Repository
	audit AuditLog
	loc   *time.Location
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewScheduler(repo Repository, auditLog AuditLog, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{repo: repo, audit: auditLog, loc: loc, clock: time.Now}
}

// HandleOutcome classifies the termination code and applies the resulting
// transition. The call item ends up fully updated or deleted, never partial.
func (s *Scheduler) HandleOutcome(ctx context.Context, workspaceID, itemID, code, hint string) (Result, error) {
	if workspaceID == "" || itemID == "" || code == "" {
		return Result{}, ErrInvalidArgument
	}

	item, err := s.repo.GetCallItem(ctx, workspaceID, itemID)
	if err != nil {
		return Result{}, err
	}
	agent, err := s.repo.GetAgent(ctx, workspaceID, item.AgentID)
	if err != nil {
		return Result{}, fmt.Errorf("agent %s: %w", item.AgentID, err)
	}
	if err := agent.Validate(); err != nil {
		return Result{}, err
	}

	outcome := disposition.Classify(code)
	now := s.clock().UTC()
	d := Decide(item, agent, outcome, code, hint, now, s.loc)

	if d.Delete {
		if err := s.repo.DeleteCallItem(ctx, workspaceID, itemID); err != nil {
			return Result{}, err
		}
		if outcome == disposition.OutcomeUnclassified {
			logger.From(ctx).Warn("unclassified disconnection code",
				"workspace_id", workspaceID,
				"call_item_id", itemID,
				"code", code,
			)
			if s.audit != nil {
				// Best-effort.
				_ = s.audit.LogUnclassifiedCode(ctx, workspaceID, itemID, code)
			}
		}
		return Result{Outcome: outcome, Deleted: true, DeleteReason: d.DeleteReason}, nil
	}

	if err := s.repo.UpdateCallItem(ctx, d.Updated); err != nil {
		return Result{}, err
	}
	return Result{Outcome: outcome, Item: d.Updated}, nil
}
