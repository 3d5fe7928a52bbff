// internal/service/usage/usage_service.go
package usage

import (
	"context"
	"errors"

	"mindwell-service/internal/domain/conversation"
	"mindwell-service/internal/domain/subscription"
	"mindwell-service/internal/domain/usage"
	xerrors "mindwell-service/internal/pkg/errors"
	"mindwell-service/internal/pkg/session"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// TxBeginner opens the transaction every multi-step ledger transition
// runs inside. *postgres.DB satisfies it.
type TxBeginner interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
}

type LedgerRepository interface {
	CreateTx(ctx context.Context, tx pgx.Tx, entry *usage.LedgerEntry) error
	FindBySessionTx(ctx context.Context, tx pgx.Tx, sessionID string) (*usage.LedgerEntry, error)
	FindAllByTokenTx(ctx context.Context, tx pgx.Tx, token string) ([]usage.LedgerEntry, error)
	FindOrphanedTx(ctx context.Context, tx pgx.Tx) (*usage.LedgerEntry, error)
	OrphanTx(ctx context.Context, tx pgx.Tx, id int64) error
	RebindTx(ctx context.Context, tx pgx.Tx, id int64, sessionID string) error
	IncrementTx(ctx context.Context, tx pgx.Tx, id int64) error
}

type ConversationRepository interface {
	GetOrCreateTx(ctx context.Context, tx pgx.Tx, sessionID string) (*conversation.Conversation, error)
}

type SubscriptionFinder interface {
	FindByTokenTx(ctx context.Context, tx pgx.Tx, token string) (*subscription.Subscription, error)
}

// UsageService owns the ledger state machine: Unlinked -> Linked ->
// Orphaned -> Linked, one entry per subscription token, counters
// preserved across rebindings. Failures never escape as errors; every
// operation returns a bool or a fully populated Decision, and every
// code path terminates its transaction.
type UsageService struct {
	ledgerRepo       LedgerRepository
	conversationRepo ConversationRepository
	subscriptionRepo SubscriptionFinder
	db               TxBeginner
	counter          *session.MessageCounter
	logger           *zap.Logger
}

func NewUsageService(
	ledgerRepo LedgerRepository,
	conversationRepo ConversationRepository,
	subscriptionRepo SubscriptionFinder,
	db TxBeginner,
	counter *session.MessageCounter,
	logger *zap.Logger,
) *UsageService {
	return &UsageService{
		ledgerRepo:       ledgerRepo,
		conversationRepo: conversationRepo,
		subscriptionRepo: subscriptionRepo,
		db:               db,
		counter:          counter,
		logger:           logger,
	}
}

// LinkSession binds a session to a subscription token.
//
// With allowReuse the existing ledger entry for the token follows the
// session: a binding held by another session is orphaned first, then
// the entry is relinked with its counter intact. This is how one
// access code moves across devices without resetting quota. Without
// allowReuse a fresh zero-counter entry is created.
//
// The session's previous binding, if any, is always orphaned so a
// session holds at most one subscription at a time.
func (s *UsageService) LinkSession(ctx context.Context, sessionID, token string, allowReuse bool) bool {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		s.logger.Error("failed to begin transaction",
			zap.String("op", "link_session"),
			zap.String("session_identifier", sessionID),
			zap.Error(err),
		)
		return false
	}
	defer tx.Rollback(ctx)

	if _, err := s.conversationRepo.GetOrCreateTx(ctx, tx, sessionID); err != nil {
		s.logger.Error("failed to ensure conversation",
			zap.String("session_identifier", sessionID),
			zap.Error(err),
		)
		return false
	}

	if err := s.orphanSessionBinding(ctx, tx, sessionID); err != nil {
		s.logger.Error("failed to unlink previous binding",
			zap.String("session_identifier", sessionID),
			zap.Error(err),
		)
		return false
	}

	if allowReuse {
		entry, err := s.findTokenEntry(ctx, tx, token)
		if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
			s.logger.Error("failed to look up ledger entry",
				zap.String("subscription_token", token),
				zap.Error(err),
			)
			return false
		}

		if entry != nil {
			if entry.SessionIdentifier.Valid && !entry.BoundTo(sessionID) {
				// Force the current holder's binding to orphaned before
				// the entry moves; the counter travels with it.
				if err := s.ledgerRepo.OrphanTx(ctx, tx, entry.ID); err != nil {
					s.logger.Error("failed to orphan ledger entry",
						zap.Int64("ledger_id", entry.ID),
						zap.Error(err),
					)
					return false
				}
				s.logger.Info("orphaned ledger entry held by another session",
					zap.String("subscription_token", token),
					zap.String("previous_session", entry.SessionIdentifier.String),
				)
			}

			if err := s.ledgerRepo.RebindTx(ctx, tx, entry.ID, sessionID); err != nil {
				s.logger.Error("failed to rebind ledger entry",
					zap.Int64("ledger_id", entry.ID),
					zap.Error(err),
				)
				return false
			}

			if err := tx.Commit(ctx); err != nil {
				s.logger.Error("failed to commit link", zap.Error(err))
				return false
			}

			s.mirrorCounter(ctx, sessionID, entry.MessagesUsed)
			s.logger.Info("relinked existing ledger entry",
				zap.String("session_identifier", sessionID),
				zap.String("subscription_token", token),
				zap.Int32("messages_used", entry.MessagesUsed),
			)
			return true
		}
	}

	entry := &usage.LedgerEntry{
		SessionIdentifier: sqlString(sessionID),
		SubscriptionToken: token,
		MessagesUsed:      0,
	}
	if err := s.ledgerRepo.CreateTx(ctx, tx, entry); err != nil {
		s.logger.Error("failed to create ledger entry",
			zap.String("session_identifier", sessionID),
			zap.String("subscription_token", token),
			zap.Error(err),
		)
		return false
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("failed to commit link", zap.Error(err))
		return false
	}

	s.mirrorCounter(ctx, sessionID, 0)
	s.logger.Info("created new ledger entry",
		zap.String("session_identifier", sessionID),
		zap.String("subscription_token", token),
	)
	return true
}

// UnlinkSession transitions the session's entry Linked -> Orphaned,
// keeping the counter available for adoption. Returns false when the
// session has no binding.
func (s *UsageService) UnlinkSession(ctx context.Context, sessionID string) bool {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		s.logger.Error("failed to begin transaction",
			zap.String("op", "unlink_session"),
			zap.String("session_identifier", sessionID),
			zap.Error(err),
		)
		return false
	}
	defer tx.Rollback(ctx)

	entry, err := s.ledgerRepo.FindBySessionTx(ctx, tx, sessionID)
	if errors.Is(err, xerrors.ErrNotFound) {
		s.logger.Info("no ledger entry to unlink",
			zap.String("session_identifier", sessionID),
		)
		return false
	}
	if err != nil {
		s.logger.Error("failed to find ledger entry",
			zap.String("session_identifier", sessionID),
			zap.Error(err),
		)
		return false
	}

	if err := s.ledgerRepo.OrphanTx(ctx, tx, entry.ID); err != nil {
		s.logger.Error("failed to orphan ledger entry",
			zap.Int64("ledger_id", entry.ID),
			zap.Error(err),
		)
		return false
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("failed to commit unlink", zap.Error(err))
		return false
	}

	s.logger.Info("unlinked session from subscription",
		zap.String("session_identifier", sessionID),
		zap.String("subscription_token", entry.SubscriptionToken),
		zap.Int32("messages_used", entry.MessagesUsed),
	)
	return true
}

// EvaluateUsage decides whether the session may send another message.
//
// With allowOrphanedReuse and no binding, the oldest orphaned entry is
// adopted onto this session before evaluating. The adoption carries no
// matching key beyond "is orphaned"; callers gate it behind explicit
// access-code flows for that reason.
func (s *UsageService) EvaluateUsage(ctx context.Context, sessionID string, allowOrphanedReuse bool) *usage.Decision {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		s.logger.Error("failed to begin transaction",
			zap.String("op", "evaluate_usage"),
			zap.String("session_identifier", sessionID),
			zap.Error(err),
		)
		return usage.Declined("Error checking usage: " + err.Error())
	}
	defer tx.Rollback(ctx)

	entry, err := s.ledgerRepo.FindBySessionTx(ctx, tx, sessionID)
	if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		s.logger.Error("failed to find ledger entry",
			zap.String("session_identifier", sessionID),
			zap.Error(err),
		)
		return usage.Declined("Error checking usage: " + err.Error())
	}

	if entry == nil && allowOrphanedReuse {
		entry, err = s.adoptOrphan(ctx, tx, sessionID)
		if err != nil {
			return usage.Declined("Error checking usage: " + err.Error())
		}
	}

	if entry == nil {
		// No implicit free tier: a subscription must be linked first.
		s.logger.Info("no ledger entry for session, returning none plan",
			zap.String("session_identifier", sessionID),
		)
		if err := tx.Commit(ctx); err != nil {
			s.logger.Error("failed to commit evaluation", zap.Error(err))
		}
		return usage.Declined("No subscription found. Please use an access code to continue.")
	}

	sub, err := s.subscriptionRepo.FindByTokenTx(ctx, tx, entry.SubscriptionToken)
	if errors.Is(err, xerrors.ErrNotFound) {
		if err := tx.Commit(ctx); err != nil {
			s.logger.Error("failed to commit evaluation", zap.Error(err))
		}
		zero := int32(0)
		return &usage.Decision{
			CanSend:      false,
			MessagesUsed: entry.MessagesUsed,
			MessageLimit: &zero,
			PlanType:     subscription.PlanNone,
			Error:        "Subscription not found or inactive",
		}
	}
	if err != nil {
		s.logger.Error("failed to load subscription",
			zap.String("subscription_token", entry.SubscriptionToken),
			zap.Error(err),
		)
		return usage.Declined("Error checking usage: " + err.Error())
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("failed to commit evaluation", zap.Error(err))
		return usage.Declined("Error checking usage: " + err.Error())
	}

	return s.decide(entry, sub)
}

// RecordMessageSent bumps the session's counter by one. Returns false
// without crashing when no binding exists, e.g. when the entry was
// concurrently orphaned between evaluate and increment.
func (s *UsageService) RecordMessageSent(ctx context.Context, sessionID string) bool {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		s.logger.Error("failed to begin transaction",
			zap.String("op", "record_message"),
			zap.String("session_identifier", sessionID),
			zap.Error(err),
		)
		return false
	}
	defer tx.Rollback(ctx)

	entry, err := s.ledgerRepo.FindBySessionTx(ctx, tx, sessionID)
	if errors.Is(err, xerrors.ErrNotFound) {
		s.logger.Warn("no ledger entry to increment",
			zap.String("session_identifier", sessionID),
		)
		return false
	}
	if err != nil {
		s.logger.Error("failed to find ledger entry",
			zap.String("session_identifier", sessionID),
			zap.Error(err),
		)
		return false
	}

	if err := s.ledgerRepo.IncrementTx(ctx, tx, entry.ID); err != nil {
		s.logger.Error("failed to increment usage",
			zap.Int64("ledger_id", entry.ID),
			zap.Error(err),
		)
		return false
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("failed to commit increment", zap.Error(err))
		return false
	}

	s.mirrorIncrement(ctx, sessionID)
	s.logger.Info("incremented usage",
		zap.String("session_identifier", sessionID),
		zap.Int32("messages_used", entry.MessagesUsed+1),
	)
	return true
}

// --- internals ---

// orphanSessionBinding releases whatever entry the session currently
// holds. Absence is not an error.
func (s *UsageService) orphanSessionBinding(ctx context.Context, tx pgx.Tx, sessionID string) error {
	entry, err := s.ledgerRepo.FindBySessionTx(ctx, tx, sessionID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.ledgerRepo.OrphanTx(ctx, tx, entry.ID)
}

// findTokenEntry resolves the single ledger entry for a token. More
// than one row means the uniqueness constraint was bypassed: log
// loudly and pick the lowest id deterministically.
func (s *UsageService) findTokenEntry(ctx context.Context, tx pgx.Tx, token string) (*usage.LedgerEntry, error) {
	entries, err := s.ledgerRepo.FindAllByTokenTx(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, xerrors.ErrNotFound
	}
	if len(entries) > 1 {
		s.logger.Error("multiple ledger entries for one subscription token",
			zap.String("subscription_token", token),
			zap.Int("count", len(entries)),
			zap.Error(xerrors.ErrInvariantViolation),
		)
	}
	return &entries[0], nil
}

func (s *UsageService) adoptOrphan(ctx context.Context, tx pgx.Tx, sessionID string) (*usage.LedgerEntry, error) {
	orphan, err := s.ledgerRepo.FindOrphanedTx(ctx, tx)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("failed to look up orphaned entries", zap.Error(err))
		return nil, err
	}

	if _, err := s.conversationRepo.GetOrCreateTx(ctx, tx, sessionID); err != nil {
		s.logger.Error("failed to ensure conversation",
			zap.String("session_identifier", sessionID),
			zap.Error(err),
		)
		return nil, err
	}

	if err := s.ledgerRepo.RebindTx(ctx, tx, orphan.ID, sessionID); err != nil {
		s.logger.Error("failed to adopt orphaned entry",
			zap.Int64("ledger_id", orphan.ID),
			zap.Error(err),
		)
		return nil, err
	}

	orphan.SessionIdentifier = sqlString(sessionID)
	s.logger.Info("adopted orphaned ledger entry",
		zap.String("session_identifier", sessionID),
		zap.String("subscription_token", orphan.SubscriptionToken),
		zap.Int32("messages_used", orphan.MessagesUsed),
	)
	return orphan, nil
}

func (s *UsageService) decide(entry *usage.LedgerEntry, sub *subscription.Subscription) *usage.Decision {
	decision := &usage.Decision{
		MessagesUsed:      entry.MessagesUsed,
		PlanType:          sub.PlanType,
		SubscriptionToken: sub.SubscriptionToken,
		AccessCode:        sub.AccessCode,
	}
	if sub.MessageLimit.Valid {
		limit := sub.MessageLimit.Int32
		decision.MessageLimit = &limit
	}

	if sub.Expired(timeNow()) {
		decision.CanSend = false
		decision.SubscriptionToken = ""
		decision.AccessCode = ""
		decision.Error = "Subscription has expired"
		if decision.MessageLimit == nil {
			zero := int32(0)
			decision.MessageLimit = &zero
		}
		return decision
	}

	if sub.Unlimited() {
		decision.CanSend = true
		return decision
	}

	decision.CanSend = entry.MessagesUsed < sub.MessageLimit.Int32
	return decision
}

// mirrorCounter rewrites the Redis mirror after a rebinding; failures
// only cost the orchestrator a cache miss.
func (s *UsageService) mirrorCounter(ctx context.Context, sessionID string, messagesUsed int32) {
	if s.counter == nil {
		return
	}
	if err := s.counter.Rebuild(ctx, sessionID, messagesUsed); err != nil {
		s.logger.Warn("failed to rebuild message counter mirror",
			zap.String("session_identifier", sessionID),
			zap.Error(err),
		)
	}
}

func (s *UsageService) mirrorIncrement(ctx context.Context, sessionID string) {
	if s.counter == nil {
		return
	}
	if _, err := s.counter.Incr(ctx, sessionID); err != nil {
		s.logger.Warn("failed to increment message counter mirror",
			zap.String("session_identifier", sessionID),
			zap.Error(err),
		)
	}
}
