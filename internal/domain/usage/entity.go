// internal/domain/usage/entity.go
package usage

import (
	"database/sql"
	"time"
)

// LedgerEntry is the single usage record a subscription token ever
// gets. It is re-keyed between sessions instead of duplicated: the
// unique constraint on subscription_token backs that up at the
// database level.
//
// States:
//   - Linked:   SessionIdentifier is set, counter >= 0.
//   - Orphaned: SessionIdentifier is NULL, counter preserved and
//     available for adoption by exactly one future session.
//
// A token with no row at all is simply unlinked.
type LedgerEntry struct {
	ID                int64          `json:"id" db:"id"`
	SessionIdentifier sql.NullString `json:"session_identifier" db:"session_identifier"`
	SubscriptionToken string         `json:"subscription_token" db:"subscription_token"`
	MessagesUsed      int32          `json:"messages_used" db:"messages_used"`
	LastUsedAt        sql.NullTime   `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
}

// Orphaned reports whether the entry is currently unbound from any
// session.
func (e *LedgerEntry) Orphaned() bool {
	return !e.SessionIdentifier.Valid
}

// BoundTo reports whether the entry is linked to the given session.
func (e *LedgerEntry) BoundTo(sessionID string) bool {
	return e.SessionIdentifier.Valid && e.SessionIdentifier.String == sessionID
}
