// internal/domain/subscription/dto.go
package subscription

import "time"

type CreateSubscriptionRequest struct {
	PlanType string `json:"plan_type" binding:"required"`
	// Email, when set, receives the generated access code.
	Email string `json:"email"`
}

type CreateSubscriptionResponse struct {
	SubscriptionToken string     `json:"subscription_token"`
	AccessCode        string     `json:"access_code"`
	PlanType          PlanType   `json:"plan_type"`
	MessageLimit      *int32     `json:"message_limit"`
	Price             float64    `json:"price"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

type RedeemAccessCodeRequest struct {
	AccessCode        string `json:"access_code" binding:"required"`
	SessionIdentifier string `json:"session_identifier"`
}

type RedeemAccessCodeResponse struct {
	Success           bool     `json:"success"`
	Message           string   `json:"message"`
	SubscriptionToken string   `json:"subscription_token,omitempty"`
	PlanType          PlanType `json:"plan_type,omitempty"`
	MessageLimit      *int32   `json:"message_limit,omitempty"`
}

// ToCreateResponse converts a stored subscription into its API shape.
func (s *Subscription) ToCreateResponse() *CreateSubscriptionResponse {
	resp := &CreateSubscriptionResponse{
		SubscriptionToken: s.SubscriptionToken,
		AccessCode:        s.AccessCode,
		PlanType:          s.PlanType,
		Price:             s.Price,
	}
	if s.MessageLimit.Valid {
		limit := s.MessageLimit.Int32
		resp.MessageLimit = &limit
	}
	if s.ExpiresAt.Valid {
		t := s.ExpiresAt.Time
		resp.ExpiresAt = &t
	}
	return resp
}
