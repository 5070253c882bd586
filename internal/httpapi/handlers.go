package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"hotcalls-core/internal/auth"
	"hotcalls-core/internal/billing"
	"hotcalls-core/internal/schedule"
	"hotcalls-core/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OutcomeScheduler is the scheduler surface the outcome webhook needs.
type OutcomeScheduler interface {
	HandleOutcome(ctx context.Context, workspaceID, itemID, code, hint string) (schedule.Result, error)
}

// UsageReader serves billing dashboards.
type UsageReader interface {
	GetUsageStatus(ctx context.Context, workspaceID string, feature billing.Feature) (billing.UsageStatus, error)
}

// ConcurrencyGate claims and returns live-call slots. Acquire happens at
// dial time; release happens when the disconnect webhook reports the
// attempt's outcome.
type ConcurrencyGate interface {
	AcquireCallSlot(ctx context.Context, workspaceID string) (bool, error)
	ReleaseCallSlot(ctx context.Context, workspaceID string) error
}

// Handlers delegate to internal modules; no business logic lives here.
type Handlers struct {
	Scheduler OutcomeScheduler
	Usage     UsageReader
	Calls     ConcurrencyGate
}

// OutcomeReport is what the telephony layer posts when a call attempt ends.
type OutcomeReport struct {
	WorkspaceID     string `json:"workspace_id" binding:"required"`
	CallItemID      string `json:"call_item_id" binding:"required"`
	TerminationCode string `json:"termination_code" binding:"required"`
	Hint            string `json:"hint,omitempty"`
}

// ReportOutcome applies a reported call outcome to its call item.
//
// NOTE: This endpoint is for the internal call-handling layer; in production
// it must sit behind provider signature validation or network policy.
func (h *Handlers) ReportOutcome(c *gin.Context) {
	var req OutcomeReport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid outcome report"})
		return
	}

	res, err := h.Scheduler.HandleOutcome(c.Request.Context(), req.WorkspaceID, req.CallItemID, req.TerminationCode, req.Hint)
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call item not found"})
		return
	case errors.Is(err, schedule.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		logger.FromGin(c).Error("outcome handling failed", "err", err, "call_item_id", req.CallItemID)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "outcome handling failed"})
		return
	}

	// The attempt ended either way; return its live-call slot. Best-effort:
	// the TTL on the counter recovers from a missed release.
	if h.Calls != nil {
		if err := h.Calls.ReleaseCallSlot(c.Request.Context(), req.WorkspaceID); err != nil {
			logger.FromGin(c).Warn("call slot release failed", "err", err, "workspace_id", req.WorkspaceID)
		}
	}

	body := gin.H{
		"outcome": res.Outcome,
		"deleted": res.Deleted,
	}
	if res.Deleted {
		body["delete_reason"] = res.DeleteReason
	} else {
		body["status"] = res.Item.Status
		body["attempts"] = res.Item.Attempts
		body["next_action_at"] = res.Item.NextActionAt
	}
	c.JSON(http.StatusOK, body)
}

// StartCall claims a live-call slot and queues a call attempt. The quota
// middleware has already projected the capacity check; the gate's atomic
// acquire is what makes it race-safe under concurrent dials.
func (h *Handlers) StartCall(c *gin.Context) {
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil || workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return
	}

	ok, err := h.Calls.AcquireCallSlot(c.Request.Context(), workspaceID)
	switch {
	case errors.Is(err, billing.ErrNoActiveSubscription), errors.Is(err, billing.ErrAmbiguousSubscription):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		logger.FromGin(c).Error("call slot acquire failed", "err", err, "workspace_id", workspaceID)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call start failed"})
		return
	case !ok:
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "concurrent call limit reached"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"call_id": uuid.NewString(),
		"status":  "queued",
	})
}

// UsageStatus reports a feature's usage for the authenticated workspace.
func (h *Handlers) UsageStatus(c *gin.Context) {
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil || workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return
	}

	feature := billing.Feature(strings.TrimSpace(c.Param("feature")))
	status, err := h.Usage.GetUsageStatus(c.Request.Context(), workspaceID, feature)
	switch {
	case errors.Is(err, billing.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown feature"})
		return
	case errors.Is(err, billing.ErrNoActiveSubscription), errors.Is(err, billing.ErrAmbiguousSubscription):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "usage lookup failed"})
		return
	}

	c.JSON(http.StatusOK, status)
}
