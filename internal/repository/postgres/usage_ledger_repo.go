// internal/repository/postgres/usage_ledger_repo.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mindwell-service/internal/domain/usage"
	xerrors "mindwell-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageLedgerRepository persists the one-row-per-subscription-token
// usage ledger. Every state transition (link, orphan, rebind,
// increment) is a named method issuing an explicit UPDATE, and all of
// them run inside a caller-provided transaction.
type UsageLedgerRepository struct {
	db *pgxpool.Pool
}

func NewUsageLedgerRepository(db *pgxpool.Pool) *UsageLedgerRepository {
	return &UsageLedgerRepository{db: db}
}

const ledgerColumns = `
	id, session_identifier, subscription_token, messages_used, last_used_at, created_at
`

func scanLedgerEntry(row pgx.Row) (*usage.LedgerEntry, error) {
	var entry usage.LedgerEntry
	err := row.Scan(
		&entry.ID, &entry.SessionIdentifier, &entry.SubscriptionToken,
		&entry.MessagesUsed, &entry.LastUsedAt, &entry.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
	}
	return &entry, nil
}

// CreateTx inserts a fresh Linked entry with a zero counter. The
// unique constraint on subscription_token rejects a second row for the
// same token with ErrDuplicateEntry.
func (r *UsageLedgerRepository) CreateTx(ctx context.Context, tx pgx.Tx, entry *usage.LedgerEntry) error {
	query := `
		INSERT INTO usage_ledger (session_identifier, subscription_token, messages_used)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := tx.QueryRow(
		ctx, query,
		entry.SessionIdentifier, entry.SubscriptionToken, entry.MessagesUsed,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return xerrors.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}

	return nil
}

// FindBySessionTx retrieves the entry currently bound to a session.
func (r *UsageLedgerRepository) FindBySessionTx(ctx context.Context, tx pgx.Tx, sessionID string) (*usage.LedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM usage_ledger
		WHERE session_identifier = $1
		FOR UPDATE
	`
	return scanLedgerEntry(tx.QueryRow(ctx, query, sessionID))
}

// FindAllByTokenTx retrieves every entry for a subscription token,
// lowest id first. The unique constraint should keep this at one row;
// the service treats anything more as an invariant violation.
func (r *UsageLedgerRepository) FindAllByTokenTx(ctx context.Context, tx pgx.Tx, token string) ([]usage.LedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM usage_ledger
		WHERE subscription_token = $1
		ORDER BY id ASC
		FOR UPDATE
	`

	rows, err := tx.Query(ctx, query, token)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []usage.LedgerEntry{}
	for rows.Next() {
		var entry usage.LedgerEntry
		err := rows.Scan(
			&entry.ID, &entry.SessionIdentifier, &entry.SubscriptionToken,
			&entry.MessagesUsed, &entry.LastUsedAt, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// FindOrphanedTx retrieves the oldest entry with no session binding.
func (r *UsageLedgerRepository) FindOrphanedTx(ctx context.Context, tx pgx.Tx) (*usage.LedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM usage_ledger
		WHERE session_identifier IS NULL
		ORDER BY id ASC
		LIMIT 1
		FOR UPDATE
	`
	return scanLedgerEntry(tx.QueryRow(ctx, query))
}

// OrphanTx transitions an entry Linked -> Orphaned, preserving its
// counter for a future adoption.
func (r *UsageLedgerRepository) OrphanTx(ctx context.Context, tx pgx.Tx, id int64) error {
	query := `UPDATE usage_ledger SET session_identifier = NULL WHERE id = $1`

	result, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to orphan ledger entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// RebindTx transitions an entry Orphaned -> Linked (or re-keys a
// Linked entry) onto the given session, counter untouched.
func (r *UsageLedgerRepository) RebindTx(ctx context.Context, tx pgx.Tx, id int64, sessionID string) error {
	query := `UPDATE usage_ledger SET session_identifier = $1 WHERE id = $2`

	result, err := tx.Exec(ctx, query, sql.NullString{String: sessionID, Valid: true}, id)
	if err != nil {
		return fmt.Errorf("failed to rebind ledger entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// IncrementTx bumps the monotonic counter and stamps last_used_at.
func (r *UsageLedgerRepository) IncrementTx(ctx context.Context, tx pgx.Tx, id int64) error {
	query := `
		UPDATE usage_ledger
		SET messages_used = messages_used + 1, last_used_at = NOW()
		WHERE id = $1
	`

	result, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
