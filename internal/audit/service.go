package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal maintenance information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users by
//   default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.WorkspaceID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogUnclassifiedCode records a call item deleted over an unrecognized
// termination code.
func (s *Service) LogUnclassifiedCode(ctx context.Context, workspaceID, callItemID, code string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        EventTypeUnclassifiedCode,
		CallItemID:  callItemID,
		Code:        code,
		Message:     "call item deleted: termination code is not classified",
	})
}

// LogQuotaDenied records a metered operation rejected by the usage ledger,
// attributed to the acting user.
func (s *Service) LogQuotaDenied(ctx context.Context, workspaceID, userID, feature string, projected, limit int64) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		ActorUserID: userID,
		Type:        EventTypeQuotaDenied,
		Feature:     feature,
		Message:     fmt.Sprintf("quota denied: projected %d exceeds limit %d", projected, limit),
	})
}
