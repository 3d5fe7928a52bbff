// internal/domain/subscription/entity.go
package subscription

import (
	"database/sql"
	"time"
)

type PlanType string

const (
	PlanFree    PlanType = "free"
	PlanBasic   PlanType = "basic"
	PlanPremium PlanType = "premium"

	// PlanNone is never stored; it is the reported plan for sessions
	// that have no linked subscription.
	PlanNone PlanType = "none"
)

// AccessCodePrefix returns the human-facing prefix used when
// generating access codes for this plan.
func (p PlanType) AccessCodePrefix() string {
	switch p {
	case PlanFree:
		return "FREE"
	case PlanBasic:
		return "BASIC"
	case PlanPremium:
		return "PREMIUM"
	default:
		return "SUB"
	}
}

// Subscription is immutable reference data once created: only is_active
// may be toggled. Expiry is enforced lazily at read time, the row is
// never deleted or mutated when it lapses.
type Subscription struct {
	ID                int64         `json:"id" db:"id"`
	SubscriptionToken string        `json:"subscription_token" db:"subscription_token"`
	AccessCode        string        `json:"access_code" db:"access_code"`
	PlanType          PlanType      `json:"plan_type" db:"plan_type"`
	MessageLimit      sql.NullInt32 `json:"message_limit" db:"message_limit"`
	Price             float64       `json:"price" db:"price"`
	IsActive          bool          `json:"is_active" db:"is_active"`
	ExpiresAt         sql.NullTime  `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the subscription has lapsed by timestamp
// comparison. Rows with no expiry never expire.
func (s *Subscription) Expired(now time.Time) bool {
	return s.ExpiresAt.Valid && s.ExpiresAt.Time.Before(now)
}

// Unlimited reports whether the plan has no message cap.
func (s *Subscription) Unlimited() bool {
	return !s.MessageLimit.Valid
}
