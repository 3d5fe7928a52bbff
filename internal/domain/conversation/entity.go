// internal/domain/conversation/entity.go
package conversation

import (
	"database/sql"
	"time"
)

// Conversation is the per-session chat container. Its lifecycle is
// independent from usage ledger entries: a conversation can exist with
// no ledger entry, which surfaces as the "none" plan.
type Conversation struct {
	ID                int64        `json:"id" db:"id"`
	PublicID          string       `json:"public_id" db:"public_id"`
	SessionIdentifier string       `json:"session_identifier" db:"session_identifier"`
	Title             string       `json:"title" db:"title"`
	IsActive          bool         `json:"is_active" db:"is_active"`
	ExpiresAt         sql.NullTime `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at" db:"updated_at"`
}
