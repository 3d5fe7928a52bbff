// internal/domain/usage/dto.go
package usage

import "mindwell-service/internal/domain/subscription"

// Decision is the structured verdict for one chat turn. It is always
// returned fully populated, never as an error: infrastructure failures
// and policy declines both land here so the caller can treat them
// uniformly.
type Decision struct {
	CanSend           bool                  `json:"can_send"`
	MessagesUsed      int32                 `json:"messages_used"`
	MessageLimit      *int32                `json:"message_limit"`
	PlanType          subscription.PlanType `json:"plan_type"`
	SubscriptionToken string                `json:"subscription_token,omitempty"`
	AccessCode        string                `json:"access_code,omitempty"`
	Error             string                `json:"error,omitempty"`
}

// Declined builds the uniform "no subscription" decision.
func Declined(reason string) *Decision {
	zero := int32(0)
	return &Decision{
		CanSend:      false,
		MessagesUsed: 0,
		MessageLimit: &zero,
		PlanType:     subscription.PlanNone,
		Error:        reason,
	}
}

type LinkSessionRequest struct {
	SubscriptionToken string `json:"subscription_token" binding:"required"`
	AllowReuse        *bool  `json:"allow_reuse"`
}
