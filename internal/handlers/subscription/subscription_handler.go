// internal/handlers/subscription/subscription_handler.go
package subscription

import (
	"errors"
	"net/http"

	"mindwell-service/internal/domain/subscription"
	xerrors "mindwell-service/internal/pkg/errors"
	"mindwell-service/internal/pkg/response"
	subscriptionService "mindwell-service/internal/service/subscription"
	usageService "mindwell-service/internal/service/usage"

	"github.com/gin-gonic/gin"
)

type SubscriptionHandler struct {
	subscriptionService *subscriptionService.SubscriptionService
	usageService        *usageService.UsageService
}

func NewSubscriptionHandler(
	subSvc *subscriptionService.SubscriptionService,
	usageSvc *usageService.UsageService,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subSvc,
		usageService:        usageSvc,
	}
}

// CreateSubscription mints a subscription for a plan and returns its
// token and access code.
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	var req subscription.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}

	sub, err := h.subscriptionService.CreateSubscription(
		c.Request.Context(),
		subscription.PlanType(req.PlanType),
		req.Email,
	)
	if errors.Is(err, xerrors.ErrInvalidInput) {
		response.Error(c, http.StatusBadRequest, "unknown plan type", err)
		return
	}
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to create subscription", err)
		return
	}

	response.Success(c, http.StatusCreated, "subscription created", sub.ToCreateResponse())
}

// RedeemAccessCode validates an access code and, when a session
// identifier is supplied, links the session to the subscription with
// reuse allowed so quota follows the code across devices.
func (h *SubscriptionHandler) RedeemAccessCode(c *gin.Context) {
	var req subscription.RedeemAccessCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}

	sub, err := h.subscriptionService.RedeemAccessCode(c.Request.Context(), req.AccessCode)
	if errors.Is(err, xerrors.ErrNotFound) {
		response.NotFound(c, "invalid access code")
		return
	}
	if errors.Is(err, xerrors.ErrExpired) {
		response.Error(c, http.StatusGone, "access code has expired", err)
		return
	}
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to validate access code", err)
		return
	}

	resp := &subscription.RedeemAccessCodeResponse{
		Success:           true,
		Message:           "access code accepted",
		SubscriptionToken: sub.SubscriptionToken,
		PlanType:          sub.PlanType,
	}
	if sub.MessageLimit.Valid {
		limit := sub.MessageLimit.Int32
		resp.MessageLimit = &limit
	}

	if req.SessionIdentifier != "" {
		if ok := h.usageService.LinkSession(c.Request.Context(), req.SessionIdentifier, sub.SubscriptionToken, true); !ok {
			response.Error(c, http.StatusInternalServerError, "failed to link session to subscription", nil)
			return
		}
		resp.Message = "access code accepted and session linked"
	}

	response.Success(c, http.StatusOK, "access code redeemed", resp)
}
