package schedule

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"hotcalls-core/internal/audit"
	"hotcalls-core/internal/disposition"
)

func testItem(attempts int) CallItem {
	return CallItem{
		ID:          "item-1",
		WorkspaceID: "ws",
		AgentID:     "agent-1",
		PhoneNumber: "+4930123456",
		Status:      CallItemStatusInFlight,
		Attempts:    attempts,
		CreatedAt:   time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestDecide_SuccessDeletesRegardlessOfAttempts(t *testing.T) {
	loc := berlin(t)
	now := time.Date(2024, 6, 5, 14, 0, 0, 0, time.UTC)

	for _, attempts := range []int{0, 1, 99} {
		d := Decide(testItem(attempts), weekdayAgent(), disposition.OutcomeSuccess, "completed", "", now, loc)
		if !d.Delete || d.DeleteReason != DeleteReasonCompleted {
			t.Fatalf("attempts=%d: expected completed delete, got %+v", attempts, d)
		}
	}
}

func TestDecide_PermanentFailureDeletes(t *testing.T) {
	loc := berlin(t)
	now := time.Date(2024, 6, 5, 14, 0, 0, 0, time.UTC)

	d := Decide(testItem(0), weekdayAgent(), disposition.OutcomePermanentFailure, "invalid_number", "", now, loc)
	if !d.Delete || d.DeleteReason != DeleteReasonPermanentFailure {
		t.Fatalf("expected permanent delete, got %+v", d)
	}
}

func TestDecide_RetryIncrementReschedules(t *testing.T) {
	loc := berlin(t)
	// Friday 16:50 local; +30min lands past the window, so the next slot is
	// Monday 09:00.
	now := time.Date(2024, 6, 7, 16, 50, 0, 0, loc)

	d := Decide(testItem(0), weekdayAgent(), disposition.OutcomeRetryIncrement, "busy", "", now, loc)
	if d.Delete {
		t.Fatalf("expected reschedule, got delete %+v", d)
	}
	if d.Updated.Attempts != 1 {
		t.Fatalf("expected attempts incremented to 1, got %d", d.Updated.Attempts)
	}
	if d.Updated.Status != CallItemStatusRetry {
		t.Fatalf("expected retry status, got %q", d.Updated.Status)
	}
	want := time.Date(2024, 6, 10, 9, 0, 0, 0, loc)
	if !d.Updated.NextActionAt.Equal(want) {
		t.Fatalf("expected next action %v, got %v", want, d.Updated.NextActionAt.In(loc))
	}
	if len(d.Updated.RetryReasons) != 0 {
		t.Fatalf("retry-with-increment must not append reasons, got %d", len(d.Updated.RetryReasons))
	}
}

func TestDecide_RetryIncrementAtCeilingDeletes(t *testing.T) {
	loc := berlin(t)
	now := time.Date(2024, 6, 5, 14, 0, 0, 0, time.UTC)
	agent := weekdayAgent() // MaxRetries = 3

	// attempts == max_retries - 1: the increment reaches the ceiling.
	d := Decide(testItem(2), agent, disposition.OutcomeRetryIncrement, "busy", "", now, loc)
	if !d.Delete || d.DeleteReason != DeleteReasonRetriesExhausted {
		t.Fatalf("expected retries_exhausted delete, got %+v", d)
	}

	// Guard: already at or past the ceiling deletes without rescheduling.
	d = Decide(testItem(3), agent, disposition.OutcomeRetryIncrement, "busy", "", now, loc)
	if !d.Delete || d.DeleteReason != DeleteReasonRetriesExhausted {
		t.Fatalf("expected guard delete, got %+v", d)
	}
}

func TestDecide_RetryNoIncrementKeepsAttemptsAndLogsReason(t *testing.T) {
	loc := berlin(t)
	now := time.Date(2024, 6, 5, 14, 0, 0, 0, loc)

	d := Decide(testItem(2), weekdayAgent(), disposition.OutcomeRetryNoIncrement, "provider_outage", "carrier 504", now, loc)
	if d.Delete {
		t.Fatalf("expected reschedule, got delete")
	}
	if d.Updated.Attempts != 2 {
		t.Fatalf("attempts must stay at 2, got %d", d.Updated.Attempts)
	}
	if len(d.Updated.RetryReasons) != 1 {
		t.Fatalf("expected 1 retry reason, got %d", len(d.Updated.RetryReasons))
	}
	r := d.Updated.RetryReasons[0]
	if r.Reason != "provider_outage" || r.Hint != "carrier 504" {
		t.Fatalf("unexpected reason entry %+v", r)
	}
}

func TestDecide_RetryReasonLogCapped(t *testing.T) {
	loc := berlin(t)
	now := time.Date(2024, 6, 5, 14, 0, 0, 0, loc)

	item := testItem(0)
	for i := 0; i < MaxRetryReasons; i++ {
		item.RetryReasons = append(item.RetryReasons, RetryReason{Reason: fmt.Sprintf("r%d", i)})
	}

	d := Decide(item, weekdayAgent(), disposition.OutcomeRetryNoIncrement, "timeout", "", now, loc)
	got := d.Updated.RetryReasons
	if len(got) != MaxRetryReasons {
		t.Fatalf("expected log capped at %d, got %d", MaxRetryReasons, len(got))
	}
	if got[0].Reason != "r1" {
		t.Fatalf("expected oldest entry dropped, first is %q", got[0].Reason)
	}
	if got[len(got)-1].Reason != "timeout" {
		t.Fatalf("expected newest entry last, got %q", got[len(got)-1].Reason)
	}
}

func TestDecide_UnclassifiedDeletes(t *testing.T) {
	loc := berlin(t)
	now := time.Date(2024, 6, 5, 14, 0, 0, 0, time.UTC)

	d := Decide(testItem(0), weekdayAgent(), disposition.OutcomeUnclassified, "carrier_glitch", "", now, loc)
	if !d.Delete || d.DeleteReason != DeleteReasonUnclassified {
		t.Fatalf("expected unclassified delete, got %+v", d)
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *MemoryRepo, *audit.MemoryRepo) {
	t.Helper()
	repo := NewMemoryRepo()
	auditRepo := audit.NewMemoryRepo()
	s := NewScheduler(repo, audit.NewService(auditRepo), berlin(t))
	s.clock = func() time.Time { return time.Date(2024, 6, 5, 14, 0, 0, 0, time.UTC) }

	repo.PutAgent(weekdayAgent())
	if err := repo.CreateCallItem(context.Background(), testItem(0)); err != nil {
		t.Fatalf("create item: %v", err)
	}
	return s, repo, auditRepo
}

func TestHandleOutcome_SuccessDeletesItem(t *testing.T) {
	s, repo, _ := newTestScheduler(t)

	res, err := s.HandleOutcome(context.Background(), "ws", "item-1", "completed", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Deleted || res.Outcome != disposition.OutcomeSuccess {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := repo.GetCallItem(context.Background(), "ws", "item-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected item deleted, got %v", err)
	}
}

func TestHandleOutcome_RetryPersistsUpdatedItem(t *testing.T) {
	s, repo, _ := newTestScheduler(t)

	res, err := s.HandleOutcome(context.Background(), "ws", "item-1", "no_answer", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Deleted {
		t.Fatalf("expected reschedule, got delete")
	}

	stored, err := repo.GetCallItem(context.Background(), "ws", "item-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != CallItemStatusRetry || stored.Attempts != 1 {
		t.Fatalf("unexpected stored item %+v", stored)
	}
	if stored.NextActionAt.IsZero() {
		t.Fatalf("expected next action set")
	}
}

func TestHandleOutcome_UnclassifiedDeletesAndAudits(t *testing.T) {
	s, repo, auditRepo := newTestScheduler(t)

	res, err := s.HandleOutcome(context.Background(), "ws", "item-1", "carrier_glitch", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Deleted || res.DeleteReason != DeleteReasonUnclassified {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := repo.GetCallItem(context.Background(), "ws", "item-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected item deleted, got %v", err)
	}

	events := auditRepo.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	if events[0].Type != audit.EventTypeUnclassifiedCode || events[0].Code != "carrier_glitch" {
		t.Fatalf("unexpected audit event %+v", events[0])
	}
}

func TestHandleOutcome_UnknownItem(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	if _, err := s.HandleOutcome(context.Background(), "ws", "missing", "busy", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHandleOutcome_RejectsInvalidArgs(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	if _, err := s.HandleOutcome(context.Background(), "", "item-1", "busy", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := s.HandleOutcome(context.Background(), "ws", "item-1", "", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty code, got %v", err)
	}
}
