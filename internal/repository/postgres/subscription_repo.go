// internal/repository/postgres/subscription_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"mindwell-service/internal/domain/subscription"
	xerrors "mindwell-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

type SubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `
	id, subscription_token, access_code, plan_type, message_limit,
	price, is_active, expires_at, created_at, updated_at
`

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	err := row.Scan(
		&sub.ID, &sub.SubscriptionToken, &sub.AccessCode, &sub.PlanType, &sub.MessageLimit,
		&sub.Price, &sub.IsActive, &sub.ExpiresAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return &sub, nil
}

// Create inserts a new subscription row. Token and access code carry
// unique constraints; a collision surfaces as ErrDuplicateEntry so the
// caller can retry with fresh identifiers.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			subscription_token, access_code, plan_type, message_limit,
			price, is_active, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		sub.SubscriptionToken, sub.AccessCode, sub.PlanType, sub.MessageLimit,
		sub.Price, sub.IsActive, sub.ExpiresAt,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return xerrors.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

// FindByAccessCode retrieves the active subscription for an access
// code. Expiry is not filtered here; the service applies the lazy
// expiry check so it can report "expired" distinctly from "not found".
func (r *SubscriptionRepository) FindByAccessCode(ctx context.Context, accessCode string) (*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE access_code = $1 AND is_active = TRUE
	`
	return scanSubscription(r.db.QueryRow(ctx, query, accessCode))
}

// FindByTokenTx retrieves the active subscription for a token within a
// transaction. Inactive rows are treated as absent.
func (r *SubscriptionRepository) FindByTokenTx(ctx context.Context, tx pgx.Tx, token string) (*subscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE subscription_token = $1 AND is_active = TRUE
	`
	return scanSubscription(tx.QueryRow(ctx, query, token))
}

// SetActive toggles the only mutable subscription attribute.
func (r *SubscriptionRepository) SetActive(ctx context.Context, token string, active bool) error {
	query := `UPDATE subscriptions SET is_active = $1, updated_at = NOW() WHERE subscription_token = $2`

	result, err := r.db.Exec(ctx, query, active, token)
	if err != nil {
		return fmt.Errorf("failed to update subscription state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
