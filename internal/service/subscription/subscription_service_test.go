package subscription

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"mindwell-service/internal/config"
	"mindwell-service/internal/domain/subscription"
	xerrors "mindwell-service/internal/pkg/errors"

	"go.uber.org/zap"
)

type fakeRepo struct {
	created    []*subscription.Subscription
	createErrs []error // popped per call; nil means success
	byCode     map[string]*subscription.Subscription
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byCode: map[string]*subscription.Subscription{}}
}

func (f *fakeRepo) Create(ctx context.Context, sub *subscription.Subscription) error {
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return err
		}
	}
	sub.ID = int64(len(f.created) + 1)
	sub.CreatedAt = time.Now()
	f.created = append(f.created, sub)
	f.byCode[sub.AccessCode] = sub
	return nil
}

func (f *fakeRepo) FindByAccessCode(ctx context.Context, accessCode string) (*subscription.Subscription, error) {
	sub, ok := f.byCode[accessCode]
	if !ok || !sub.IsActive {
		return nil, xerrors.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

type fakeMailer struct {
	sent []string
	err  error
}

func (f *fakeMailer) SendAccessCode(to string, sub *subscription.Subscription) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

func testPlans() map[subscription.PlanType]config.PlanSpec {
	return map[subscription.PlanType]config.PlanSpec{
		subscription.PlanFree:    {MessageLimit: 5, Price: 0, TTL: 24 * time.Hour},
		subscription.PlanBasic:   {MessageLimit: 10, Price: 5, TTL: 30 * 24 * time.Hour},
		subscription.PlanPremium: {MessageLimit: 0, Price: 15, TTL: 30 * 24 * time.Hour},
	}
}

func newTestService(repo *fakeRepo, mailer AccessCodeMailer) *SubscriptionService {
	return NewSubscriptionService(repo, testPlans(), mailer, zap.NewNop())
}

func TestCreateBasicSubscription(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil)

	sub, err := svc.CreateSubscription(context.Background(), subscription.PlanBasic, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if !strings.HasPrefix(sub.SubscriptionToken, "sub_") {
		t.Fatalf("bad token: %s", sub.SubscriptionToken)
	}
	if !strings.HasPrefix(sub.AccessCode, "BASIC-") {
		t.Fatalf("bad access code: %s", sub.AccessCode)
	}
	if !sub.MessageLimit.Valid || sub.MessageLimit.Int32 != 10 {
		t.Fatalf("bad limit: %+v", sub.MessageLimit)
	}
	if sub.Price != 5 || !sub.IsActive {
		t.Fatalf("bad subscription: %+v", sub)
	}
	if !sub.ExpiresAt.Valid {
		t.Fatal("expected an expiry")
	}
	ttl := time.Until(sub.ExpiresAt.Time)
	if ttl < 29*24*time.Hour || ttl > 31*24*time.Hour {
		t.Fatalf("expected ~30d expiry, got %v", ttl)
	}
}

func TestCreateSubscriptionUnlimitedPlan(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil)

	// A zero configured limit means no cap: the limit is stored NULL.
	sub, err := svc.CreateSubscription(context.Background(), subscription.PlanPremium, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.MessageLimit.Valid {
		t.Fatalf("expected NULL limit, got %d", sub.MessageLimit.Int32)
	}
	if !strings.HasPrefix(sub.AccessCode, "PREMIUM-") {
		t.Fatalf("bad access code: %s", sub.AccessCode)
	}
}

func TestCreateSubscriptionUnknownPlan(t *testing.T) {
	svc := newTestService(newFakeRepo(), nil)

	_, err := svc.CreateSubscription(context.Background(), subscription.PlanType("platinum"), "")
	if !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateSubscriptionRetriesOnCollision(t *testing.T) {
	repo := newFakeRepo()
	repo.createErrs = []error{xerrors.ErrDuplicateEntry, xerrors.ErrDuplicateEntry, nil}
	svc := newTestService(repo, nil)

	sub, err := svc.CreateSubscription(context.Background(), subscription.PlanFree, "")
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected exactly one stored row, got %d", len(repo.created))
	}
	if !strings.HasPrefix(sub.AccessCode, "FREE-") {
		t.Fatalf("bad access code: %s", sub.AccessCode)
	}
}

func TestCreateSubscriptionGivesUpAfterRetries(t *testing.T) {
	repo := newFakeRepo()
	repo.createErrs = []error{xerrors.ErrDuplicateEntry, xerrors.ErrDuplicateEntry, xerrors.ErrDuplicateEntry}
	svc := newTestService(repo, nil)

	if _, err := svc.CreateSubscription(context.Background(), subscription.PlanFree, ""); err == nil {
		t.Fatal("expected create to fail after repeated collisions")
	}
}

func TestCreateSubscriptionMailsAccessCode(t *testing.T) {
	repo := newFakeRepo()
	mailer := &fakeMailer{}
	svc := newTestService(repo, mailer)

	if _, err := svc.CreateSubscription(context.Background(), subscription.PlanBasic, "user@example.org"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0] != "user@example.org" {
		t.Fatalf("expected one mail, got %v", mailer.sent)
	}

	// A mail failure must not fail the creation.
	mailer.err = errors.New("smtp down")
	if _, err := svc.CreateSubscription(context.Background(), subscription.PlanBasic, "user@example.org"); err != nil {
		t.Fatalf("mail failure leaked: %v", err)
	}
}

func TestRedeemAccessCode(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil)

	created, err := svc.CreateSubscription(context.Background(), subscription.PlanBasic, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sub, err := svc.RedeemAccessCode(context.Background(), created.AccessCode)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if sub.SubscriptionToken != created.SubscriptionToken {
		t.Fatalf("wrong subscription: %+v", sub)
	}
}

func TestRedeemUnknownAccessCode(t *testing.T) {
	svc := newTestService(newFakeRepo(), nil)

	_, err := svc.RedeemAccessCode(context.Background(), "BASIC-NOPENOPE")
	if !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedeemExpiredAccessCode(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil)

	// The row stays active and untouched; only the timestamp
	// comparison declines it.
	repo.byCode["BASIC-OLDCODE1"] = &subscription.Subscription{
		SubscriptionToken: "sub_expired",
		AccessCode:        "BASIC-OLDCODE1",
		PlanType:          subscription.PlanBasic,
		IsActive:          true,
		ExpiresAt:         sql.NullTime{Time: time.Now().Add(-time.Minute), Valid: true},
	}

	_, err := svc.RedeemAccessCode(context.Background(), "BASIC-OLDCODE1")
	if !errors.Is(err, xerrors.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if !repo.byCode["BASIC-OLDCODE1"].IsActive {
		t.Fatal("lazy expiry must not mutate the row")
	}
}

func TestRedeemInactiveAccessCode(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil)

	repo.byCode["BASIC-DISABLED"] = &subscription.Subscription{
		SubscriptionToken: "sub_off",
		AccessCode:        "BASIC-DISABLED",
		PlanType:          subscription.PlanBasic,
		IsActive:          false,
	}

	_, err := svc.RedeemAccessCode(context.Background(), "BASIC-DISABLED")
	if !errors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for inactive code, got %v", err)
	}
}
