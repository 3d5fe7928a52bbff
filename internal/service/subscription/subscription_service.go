// internal/service/subscription/subscription_service.go
package subscription

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mindwell-service/internal/config"
	"mindwell-service/internal/domain/subscription"
	xerrors "mindwell-service/internal/pkg/errors"
	"mindwell-service/internal/pkg/token"

	"go.uber.org/zap"
)

// identifier collisions are astronomically unlikely at the generator's
// entropy, but the insert treats them as retryable all the same.
const maxCreateAttempts = 3

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *subscription.Subscription) error
	FindByAccessCode(ctx context.Context, accessCode string) (*subscription.Subscription, error)
}

type AccessCodeMailer interface {
	SendAccessCode(to string, sub *subscription.Subscription) error
}

// SubscriptionService creates plan subscriptions and redeems access
// codes. Subscriptions are immutable after creation; expiry is applied
// lazily at read time so no background sweep is needed.
type SubscriptionService struct {
	subscriptionRepo SubscriptionRepository
	plans            map[subscription.PlanType]config.PlanSpec
	mailer           AccessCodeMailer
	logger           *zap.Logger
}

func NewSubscriptionService(
	subscriptionRepo SubscriptionRepository,
	plans map[subscription.PlanType]config.PlanSpec,
	mailer AccessCodeMailer,
	logger *zap.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		subscriptionRepo: subscriptionRepo,
		plans:            plans,
		mailer:           mailer,
		logger:           logger,
	}
}

// CreateSubscription mints a subscription for the given plan and
// returns it with a fresh token and access code. When email is set the
// access code is mailed out best effort.
func (s *SubscriptionService) CreateSubscription(ctx context.Context, planType subscription.PlanType, email string) (*subscription.Subscription, error) {
	spec, ok := s.plans[planType]
	if !ok {
		return nil, xerrors.ErrInvalidInput
	}

	var messageLimit sql.NullInt32
	if spec.MessageLimit > 0 {
		messageLimit = sql.NullInt32{Int32: int32(spec.MessageLimit), Valid: true}
	}

	var expiresAt sql.NullTime
	if spec.TTL > 0 {
		expiresAt = sql.NullTime{Time: timeNow().Add(spec.TTL), Valid: true}
	}

	var sub *subscription.Subscription
	for attempt := 1; ; attempt++ {
		sub = &subscription.Subscription{
			SubscriptionToken: token.NewSubscriptionToken(),
			AccessCode:        token.NewAccessCode(planType),
			PlanType:          planType,
			MessageLimit:      messageLimit,
			Price:             spec.Price,
			IsActive:          true,
			ExpiresAt:         expiresAt,
		}

		err := s.subscriptionRepo.Create(ctx, sub)
		if err == nil {
			break
		}
		if errors.Is(err, xerrors.ErrDuplicateEntry) && attempt < maxCreateAttempts {
			s.logger.Warn("identifier collision on subscription insert, retrying",
				zap.Int("attempt", attempt),
			)
			continue
		}
		s.logger.Error("failed to create subscription",
			zap.String("plan_type", string(planType)),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("subscription created",
		zap.String("subscription_token", sub.SubscriptionToken),
		zap.String("plan_type", string(planType)),
		zap.Int32("message_limit", messageLimit.Int32),
		zap.Float64("price", spec.Price),
	)

	if email != "" && s.mailer != nil {
		if err := s.mailer.SendAccessCode(email, sub); err != nil {
			s.logger.Warn("failed to email access code",
				zap.String("subscription_token", sub.SubscriptionToken),
				zap.Error(err),
			)
		}
	}

	return sub, nil
}

// RedeemAccessCode resolves an access code to its subscription.
// Inactive codes surface as ErrNotFound; rows that are still active
// but past their expiry surface as ErrExpired. The row itself is never
// mutated on expiry.
func (s *SubscriptionService) RedeemAccessCode(ctx context.Context, accessCode string) (*subscription.Subscription, error) {
	sub, err := s.subscriptionRepo.FindByAccessCode(ctx, accessCode)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		s.logger.Error("failed to look up access code",
			zap.String("access_code", accessCode),
			zap.Error(err),
		)
		return nil, err
	}

	if sub.Expired(timeNow()) {
		s.logger.Warn("access code for expired subscription",
			zap.String("access_code", accessCode),
			zap.Time("expired_at", sub.ExpiresAt.Time),
		)
		return nil, xerrors.ErrExpired
	}

	return sub, nil
}

// timeNow is swappable in tests to simulate expiry.
var timeNow = time.Now
