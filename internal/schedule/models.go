package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CallItem represents a tenant-scoped scheduled call attempt.
//
// Multi-tenant invariant: WorkspaceID is required on every row.
//
// Ownership invariant: CallItems are mutated only through Scheduler
// transitions. A transition either fully updates the row (status +
// next_action_at + retry reasons) or deletes it; no partial state is ever
// persisted.
type CallItem struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	AgentID     string `json:"agent_id" db:"agent_id"`

	PhoneNumber string `json:"phone_number" db:"phone_number"`

	Status   CallItemStatus `json:"status" db:"status"`
	Attempts int            `json:"attempts" db:"attempts"`

	// NextActionAt is stored in UTC. It always lies inside the assigned
	// agent's working window.
	NextActionAt time.Time `json:"next_action_at" db:"next_action_at"`

	// RetryReasons is append-only and capped at MaxRetryReasons entries;
	// older entries are dropped first.
	RetryReasons []RetryReason `json:"retry_reasons,omitempty" db:"retry_reasons"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type CallItemStatus string

const (
	CallItemStatusScheduled CallItemStatus = "scheduled"
	CallItemStatusInFlight  CallItemStatus = "in_flight"
	CallItemStatusRetry     CallItemStatus = "retry"
)

// MaxRetryReasons caps the retry-reason log per call item.
const MaxRetryReasons = 30

// RetryReason records why an attempt was rescheduled without consuming a try.
type RetryReason struct {
	Reason string    `json:"reason" db:"reason"`
	Hint   string    `json:"hint,omitempty" db:"hint"`
	At     time.Time `json:"at" db:"at"`
}

// Agent holds the scheduling configuration of a calling agent.
// Read-only from the scheduler's perspective; configured elsewhere.
type Agent struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	// Workdays is the set of weekdays the agent may act on.
	// The zero set means "every day".
	Workdays Weekdays `json:"workdays" db:"workdays"`

	// CallFrom/CallTo bound the time of day the agent may act.
	// CallFrom > CallTo denotes an overnight window spanning midnight.
	CallFrom TimeOfDay `json:"call_from" db:"call_from"`
	CallTo   TimeOfDay `json:"call_to" db:"call_to"`

	RetryInterval time.Duration `json:"retry_interval" db:"retry_interval"`
	MaxRetries    int           `json:"max_retries" db:"max_retries"`
}

// Validate checks the fields the scheduler depends on.
func (a Agent) Validate() error {
	if a.ID == "" || a.WorkspaceID == "" {
		return ErrInvalidArgument
	}
	if a.RetryInterval <= 0 {
		return fmt.Errorf("agent %s: retry interval must be positive: %w", a.ID, ErrInvalidArgument)
	}
	if a.MaxRetries <= 0 {
		return fmt.Errorf("agent %s: max retries must be positive: %w", a.ID, ErrInvalidArgument)
	}
	if !a.CallFrom.Valid() || !a.CallTo.Valid() {
		return fmt.Errorf("agent %s: call window out of range: %w", a.ID, ErrInvalidArgument)
	}
	return nil
}

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Weekdays is a 7-bit weekday set; bit n corresponds to time.Weekday(n).
// A fixed bitmask rules out the case-sensitivity and typo bugs of raw
// string sets.
type Weekdays uint8

// WeekdaysOf builds a set from explicit weekdays.
func WeekdaysOf(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << uint(d)
	}
	return w
}

// ParseWeekdays parses day names (case-insensitive, full or three-letter).
func ParseWeekdays(names []string) (Weekdays, error) {
	var w Weekdays
	for _, name := range names {
		d, ok := weekdayByName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("unknown weekday %q: %w", name, ErrInvalidArgument)
		}
		w |= 1 << uint(d)
	}
	return w, nil
}

var weekdayByName = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// Contains reports whether d is in the set. The zero set is treated as
// "every day" by the window calculator, not here.
func (w Weekdays) Contains(d time.Weekday) bool {
	return w&(1<<uint(d)) != 0
}

// IsZero reports whether no weekday is set.
func (w Weekdays) IsZero() bool { return w == 0 }

func (w Weekdays) String() string {
	if w.IsZero() {
		return "every day"
	}
	var names []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.Contains(d) {
			names = append(names, d.String())
		}
	}
	return strings.Join(names, ",")
}

// TimeOfDay is minutes since local midnight, 0..1439.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("time of day %q: %w", s, ErrInvalidArgument)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// MustTimeOfDay is a test/wiring convenience; panics on invalid input.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Valid() bool  { return t >= 0 && t < 24*60 }
func (t TimeOfDay) Hour() int    { return int(t) / 60 }
func (t TimeOfDay) Minute() int  { return int(t) % 60 }
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}
