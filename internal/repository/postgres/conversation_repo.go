// internal/repository/postgres/conversation_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mindwell-service/internal/domain/conversation"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

type ConversationRepository struct {
	db *pgxpool.Pool
}

func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationTTL = 24 * time.Hour

// GetOrCreateTx returns the active conversation for a session,
// creating it when absent. Idempotent: concurrent callers racing on
// the same session land on the same row via the unique constraint.
func (r *ConversationRepository) GetOrCreateTx(ctx context.Context, tx pgx.Tx, sessionID string) (*conversation.Conversation, error) {
	selectQuery := `
		SELECT id, public_id, session_identifier, title, is_active, expires_at, created_at, updated_at
		FROM conversations
		WHERE session_identifier = $1 AND is_active = TRUE
	`

	conv, err := r.scanConversation(tx.QueryRow(ctx, selectQuery, sessionID))
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	insertQuery := `
		INSERT INTO conversations (public_id, session_identifier, title, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_identifier) DO NOTHING
	`

	publicID := ulid.Make().String()
	expiresAt := time.Now().Add(conversationTTL)

	if _, err := tx.Exec(ctx, insertQuery, publicID, sessionID, "New Conversation", expiresAt); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	// Re-read so a lost conflict race still returns the surviving row.
	conv, err = r.scanConversation(tx.QueryRow(ctx, selectQuery, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation after insert: %w", err)
	}
	return conv, nil
}

func (r *ConversationRepository) scanConversation(row pgx.Row) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	err := row.Scan(
		&conv.ID, &conv.PublicID, &conv.SessionIdentifier, &conv.Title,
		&conv.IsActive, &conv.ExpiresAt, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}
