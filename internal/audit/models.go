package audit

import "time"

// Event is an immutable, append-only maintenance record.
//
// Invariants:
// - Events are never updated or deleted.
// - workspace_id is required for tenancy isolation.
// - Recording is best-effort; never block scheduling or metering on audit
//   failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: partition by time for retention.

type Event struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	// Type indicates the business category of the record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user behind the event, when one
	// exists. Scheduler events are system-originated and leave it empty.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	// Target identifiers (optional, depending on the event type).
	CallItemID string `json:"call_item_id,omitempty" db:"call_item_id"`
	Feature    string `json:"feature,omitempty" db:"feature"`

	// Code is the raw termination code for disconnection events.
	Code string `json:"code,omitempty" db:"code"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeUnclassifiedCode: the scheduler deleted a call item because
	// its termination code is in no classification set. Each of these needs
	// a maintainer to classify the code explicitly.
	EventTypeUnclassifiedCode EventType = "unclassified_disconnection"

	// EventTypeQuotaDenied: a metered operation was rejected by the ledger.
	EventTypeQuotaDenied EventType = "quota_denied"
)
