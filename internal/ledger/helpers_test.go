package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ompay/ompay/internal/logging"
	"github.com/ompay/ompay/internal/money"
)

type testDirectory struct {
	mu       sync.Mutex
	accounts map[string]Account
	phones   map[string]string
	names    map[string]string
}

func newTestDirectory() *testDirectory {
	return &testDirectory{
		accounts: make(map[string]Account),
		phones:   make(map[string]string),
		names:    make(map[string]string),
	}
}

func (d *testDirectory) open(phone, name string, kind AccountKind, status AccountStatus) Account {
	d.mu.Lock()
	defer d.mu.Unlock()
	owner, ok := d.phones[phone]
	if !ok {
		owner = uuid.NewString()
		d.phones[phone] = owner
		d.names[owner] = name
	}
	acct := Account{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Kind:      kind,
		Status:    status,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, len(d.accounts), 0, time.UTC),
	}
	if kind == KindMerchant {
		acct.MerchantCode = "MCH" + acct.ID[:6]
	}
	d.accounts[acct.ID] = acct
	return acct
}

func (d *testDirectory) update(id string, fn func(*Account)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	acct := d.accounts[id]
	fn(&acct)
	d.accounts[id] = acct
}

func (d *testDirectory) AccountByID(_ context.Context, id string) (Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.accounts[id]
	if !ok || acct.Status == StatusClosed {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (d *testDirectory) AccountByPhone(_ context.Context, phone string) (Account, error) {
	d.mu.Lock()
	owner, ok := d.phones[phone]
	d.mu.Unlock()
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	owned := d.ownedBy(owner)
	if len(owned) == 0 {
		return Account{}, ErrAccountNotFound
	}
	return owned[0], nil
}

func (d *testDirectory) ownedBy(owner string) []Account {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Account
	for _, acct := range d.accounts {
		if acct.OwnerID == owner && acct.Status != StatusClosed {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (d *testDirectory) AccountByMerchantCode(_ context.Context, code string) (Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, acct := range d.accounts {
		if acct.MerchantCode == code && acct.Status != StatusClosed {
			return acct, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (d *testDirectory) OwnerName(_ context.Context, partyID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.names[partyID], nil
}

func (d *testDirectory) ActiveAccountIDs(_ context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for id, acct := range d.accounts {
		if acct.Status == StatusActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type recordingOutbox struct {
	mu   sync.Mutex
	msgs []OutboxMessage
	fail error
}

func (o *recordingOutbox) Append(_ context.Context, msgs ...OutboxMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.msgs = append(o.msgs, msgs...)
	return nil
}

func (o *recordingOutbox) messages() []OutboxMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]OutboxMessage(nil), o.msgs...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []EntryPosted
	fail   bool
}

func (s *recordingSink) EntryPosted(_ context.Context, evt EntryPosted) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	if s.fail {
		return errors.New("sink unavailable")
	}
	return nil
}

func (s *recordingSink) received() []EntryPosted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EntryPosted(nil), s.events...)
}

type fixture struct {
	dir    *testDirectory
	store  *MemoryStore
	outbox *recordingOutbox
	sink   *recordingSink
	ledger *AccountLedger
	cache  *BalanceCache
	poster *Poster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := newTestDirectory()
	outbox := &recordingOutbox{}
	store := NewInMemory(dir, outbox)
	accounts := NewAccountLedger(dir, store)
	cache := NewBalanceCache(NewMemoryCacheStore(nil), accounts, time.Minute, logging.Discard())
	sink := &recordingSink{}

	var seq atomic.Int64
	refs := NewReferenceGenerator(
		func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
		func() int { return int(seq.Add(1)) },
	)

	poster := NewPoster(PosterDeps{
		Store:          store,
		Directory:      dir,
		Cache:          cache,
		References:     refs,
		Sink:           sink,
		Logger:         logging.Discard(),
		EventsExchange: "ledger.events",
	})
	return &fixture{dir: dir, store: store, outbox: outbox, sink: sink, ledger: accounts, cache: cache, poster: poster}
}

func (f *fixture) deposit(t *testing.T, acct Account, amount string) Entry {
	t.Helper()
	entry, err := f.poster.Deposit(context.Background(), DepositRequest{
		AccountID:   acct.ID,
		InitiatorID: acct.OwnerID,
		Amount:      money.MustParse(amount),
	})
	require.NoError(t, err, "deposit %s", amount)
	return entry
}

func (f *fixture) balance(t *testing.T, acct Account) string {
	t.Helper()
	b, err := f.ledger.ComputeBalance(context.Background(), acct.ID)
	require.NoError(t, err)
	return b.String()
}
