package billing

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"hotcalls-core/internal/auth"
	"hotcalls-core/pkg/logger"

	"github.com/gin-gonic/gin"
)

const headerUsageAmount = "X-Usage-Amount"

// QuotaEnforcer is the minimal ledger interface needed by middleware.
type QuotaEnforcer interface {
	EnforceAndRecord(ctx context.Context, workspaceID, operationID string, amount int64) error
}

// DenialLog receives quota-denied events. Best-effort; never blocks the
// response.
type DenialLog interface {
	LogQuotaDenied(ctx context.Context, workspaceID, userID, feature string, projected, limit int64) error
}

// EnforceQuota meters the request's route through the usage ledger before the
// handler runs.
//
// How it works (generic / non-business-logic):
//   - The operation id is "<METHOD> <route>", matching RouteFeatureMap's
//     external-route entries. Unmapped routes pass through for free.
//   - The amount defaults to 1; callers that meter variable amounts send
//     X-Usage-Amount (positive int64).
//   - Workspace identity comes from the auth context.
//
// Responses:
//   - 402 Payment Required with feature/projected/limit on QuotaExceeded.
//   - 409 Conflict on subscription configuration errors (none or ambiguous).
func EnforceQuota(svc QuotaEnforcer, denials DenialLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID, err := auth.WorkspaceID(c.Request.Context())
		if err != nil || workspaceID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
			return
		}

		operationID := c.Request.Method + " " + c.FullPath()

		amount := int64(1)
		if raw := strings.TrimSpace(c.GetHeader(headerUsageAmount)); raw != "" {
			amount, err = strconv.ParseInt(raw, 10, 64)
			if err != nil || amount <= 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "usage amount invalid"})
				return
			}
		}

		err = svc.EnforceAndRecord(c.Request.Context(), workspaceID, operationID, amount)

		var quotaErr *QuotaExceededError
		switch {
		case err == nil:
			c.Next()
		case errors.As(err, &quotaErr):
			userID, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			logger.From(c.Request.Context()).Warn("quota denied",
				"workspace_id", workspaceID,
				"user_id", userID,
				"role", role,
				"feature", quotaErr.Feature,
				"projected", quotaErr.Projected,
				"limit", quotaErr.Limit,
			)
			if denials != nil {
				// Best-effort.
				_ = denials.LogQuotaDenied(c.Request.Context(), workspaceID, userID, string(quotaErr.Feature), quotaErr.Projected, quotaErr.Limit)
			}
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":     "quota exceeded",
				"feature":   quotaErr.Feature,
				"projected": quotaErr.Projected,
				"limit":     quotaErr.Limit,
			})
		case errors.Is(err, ErrNoActiveSubscription), errors.Is(err, ErrAmbiguousSubscription):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			logger.From(c.Request.Context()).Error("quota enforcement failed", "err", err, "operation", operationID)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "quota enforcement failed"})
		}
	}
}
