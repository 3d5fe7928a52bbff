// internal/handlers/session/session_handler.go
package session

import (
	"net/http"

	"mindwell-service/internal/domain/usage"
	"mindwell-service/internal/pkg/response"
	usageService "mindwell-service/internal/service/usage"

	"github.com/gin-gonic/gin"
)

// SessionHandler exposes the ledger operations the chat orchestrator
// calls around every turn.
type SessionHandler struct {
	usageService *usageService.UsageService
}

func NewSessionHandler(usageSvc *usageService.UsageService) *SessionHandler {
	return &SessionHandler{usageService: usageSvc}
}

// LinkSession binds the session to a subscription token.
func (h *SessionHandler) LinkSession(c *gin.Context) {
	sessionID := c.Param("session_identifier")

	var req usage.LinkSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}

	allowReuse := true
	if req.AllowReuse != nil {
		allowReuse = *req.AllowReuse
	}

	if ok := h.usageService.LinkSession(c.Request.Context(), sessionID, req.SubscriptionToken, allowReuse); !ok {
		response.Error(c, http.StatusInternalServerError, "failed to link session to subscription", nil)
		return
	}

	response.Success(c, http.StatusOK, "session linked to subscription", nil)
}

// UnlinkSession orphans the session's ledger entry, keeping its quota
// redeemable from another device.
func (h *SessionHandler) UnlinkSession(c *gin.Context) {
	sessionID := c.Param("session_identifier")

	if ok := h.usageService.UnlinkSession(c.Request.Context(), sessionID); !ok {
		response.NotFound(c, "no subscription linked to this session")
		return
	}

	response.Success(c, http.StatusOK, "session unlinked", nil)
}

// GetUsage returns the usage decision for a session without consuming
// anything. Orphan adoption stays off on this read path.
func (h *SessionHandler) GetUsage(c *gin.Context) {
	sessionID := c.Param("session_identifier")
	adopt := c.Query("adopt_orphaned") == "true"

	decision := h.usageService.EvaluateUsage(c.Request.Context(), sessionID, adopt)
	response.Success(c, http.StatusOK, "usage evaluated", decision)
}

// RecordMessage gates one chat turn: evaluate, and when allowed,
// consume one message from the quota. The orchestrator calls this
// before forwarding the turn to the model.
func (h *SessionHandler) RecordMessage(c *gin.Context) {
	sessionID := c.Param("session_identifier")

	decision := h.usageService.EvaluateUsage(c.Request.Context(), sessionID, false)
	if !decision.CanSend {
		response.Error(c, http.StatusPaymentRequired, "message limit reached or no subscription", nil, decision)
		return
	}

	if ok := h.usageService.RecordMessageSent(c.Request.Context(), sessionID); !ok {
		response.Error(c, http.StatusConflict, "failed to record message", nil, decision)
		return
	}

	decision.MessagesUsed++
	if decision.MessageLimit != nil {
		decision.CanSend = decision.MessagesUsed < *decision.MessageLimit
	}
	response.Success(c, http.StatusOK, "message recorded", decision)
}
