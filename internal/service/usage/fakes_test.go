package usage

import (
	"context"
	"sort"

	"mindwell-service/internal/domain/conversation"
	"mindwell-service/internal/domain/subscription"
	"mindwell-service/internal/domain/usage"
	xerrors "mindwell-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// fakeTx embeds pgx.Tx for the methods the fakes never touch and
// records commit/rollback so tests can assert every operation
// terminates its transaction.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	beginErr error
	txs      []*fakeTx
}

func (d *fakeDB) BeginTx(ctx context.Context) (pgx.Tx, error) {
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	tx := &fakeTx{}
	d.txs = append(d.txs, tx)
	return tx, nil
}

func (d *fakeDB) lastTx() *fakeTx {
	if len(d.txs) == 0 {
		return nil
	}
	return d.txs[len(d.txs)-1]
}

// fakeLedger is an in-memory stand-in for the Postgres ledger,
// enforcing the same uniqueness rules the real table carries.
type fakeLedger struct {
	nextID  int64
	entries map[int64]*usage.LedgerEntry
	// errs injects a failure for a named method.
	errs map[string]error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: map[int64]*usage.LedgerEntry{}, errs: map[string]error{}}
}

func (f *fakeLedger) fail(method string) error {
	return f.errs[method]
}

func (f *fakeLedger) CreateTx(ctx context.Context, tx pgx.Tx, entry *usage.LedgerEntry) error {
	if err := f.fail("create"); err != nil {
		return err
	}
	for _, e := range f.entries {
		if e.SubscriptionToken == entry.SubscriptionToken {
			return xerrors.ErrDuplicateEntry
		}
		if entry.SessionIdentifier.Valid && e.BoundTo(entry.SessionIdentifier.String) {
			return xerrors.ErrDuplicateEntry
		}
	}
	f.nextID++
	entry.ID = f.nextID
	stored := *entry
	f.entries[entry.ID] = &stored
	return nil
}

func (f *fakeLedger) FindBySessionTx(ctx context.Context, tx pgx.Tx, sessionID string) (*usage.LedgerEntry, error) {
	if err := f.fail("findBySession"); err != nil {
		return nil, err
	}
	for _, e := range f.entries {
		if e.BoundTo(sessionID) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeLedger) FindAllByTokenTx(ctx context.Context, tx pgx.Tx, token string) ([]usage.LedgerEntry, error) {
	if err := f.fail("findAllByToken"); err != nil {
		return nil, err
	}
	out := []usage.LedgerEntry{}
	for _, e := range f.entries {
		if e.SubscriptionToken == token {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeLedger) FindOrphanedTx(ctx context.Context, tx pgx.Tx) (*usage.LedgerEntry, error) {
	if err := f.fail("findOrphaned"); err != nil {
		return nil, err
	}
	var oldest *usage.LedgerEntry
	for _, e := range f.entries {
		if e.Orphaned() && (oldest == nil || e.ID < oldest.ID) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil, xerrors.ErrNotFound
	}
	cp := *oldest
	return &cp, nil
}

func (f *fakeLedger) OrphanTx(ctx context.Context, tx pgx.Tx, id int64) error {
	if err := f.fail("orphan"); err != nil {
		return err
	}
	e, ok := f.entries[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	e.SessionIdentifier.Valid = false
	e.SessionIdentifier.String = ""
	return nil
}

func (f *fakeLedger) RebindTx(ctx context.Context, tx pgx.Tx, id int64, sessionID string) error {
	if err := f.fail("rebind"); err != nil {
		return err
	}
	e, ok := f.entries[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	e.SessionIdentifier = sqlString(sessionID)
	return nil
}

func (f *fakeLedger) IncrementTx(ctx context.Context, tx pgx.Tx, id int64) error {
	if err := f.fail("increment"); err != nil {
		return err
	}
	e, ok := f.entries[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	e.MessagesUsed++
	return nil
}

func (f *fakeLedger) byToken(token string) []*usage.LedgerEntry {
	out := []*usage.LedgerEntry{}
	for _, e := range f.entries {
		if e.SubscriptionToken == token {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeConversations struct {
	created map[string]int
	err     error
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{created: map[string]int{}}
}

func (f *fakeConversations) GetOrCreateTx(ctx context.Context, tx pgx.Tx, sessionID string) (*conversation.Conversation, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created[sessionID]++
	return &conversation.Conversation{SessionIdentifier: sessionID, Title: "New Conversation", IsActive: true}, nil
}

type fakeSubscriptions struct {
	subs map[string]*subscription.Subscription
	err  error
}

func newFakeSubscriptions() *fakeSubscriptions {
	return &fakeSubscriptions{subs: map[string]*subscription.Subscription{}}
}

func (f *fakeSubscriptions) FindByTokenTx(ctx context.Context, tx pgx.Tx, token string) (*subscription.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[token]
	if !ok || !sub.IsActive {
		return nil, xerrors.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

type testEnv struct {
	svc           *UsageService
	db            *fakeDB
	ledger        *fakeLedger
	conversations *fakeConversations
	subscriptions *fakeSubscriptions
}

func newTestEnv() *testEnv {
	env := &testEnv{
		db:            &fakeDB{},
		ledger:        newFakeLedger(),
		conversations: newFakeConversations(),
		subscriptions: newFakeSubscriptions(),
	}
	env.svc = NewUsageService(
		env.ledger,
		env.conversations,
		env.subscriptions,
		env.db,
		nil,
		zap.NewNop(),
	)
	return env
}
