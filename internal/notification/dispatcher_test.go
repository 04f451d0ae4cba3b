package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ompay/ompay/internal/ledger"
	"github.com/ompay/ompay/internal/logging"
	"github.com/ompay/ompay/internal/money"
)

type stubContacts struct {
	phones map[string]string
	names  map[string]string
}

func (c stubContacts) OwnerName(_ context.Context, id string) (string, error) {
	name, ok := c.names[id]
	if !ok {
		return "", errors.New("unknown party")
	}
	return name, nil
}

func (c stubContacts) Phone(_ context.Context, id string) (string, error) {
	phone, ok := c.phones[id]
	if !ok {
		return "", errors.New("unknown party")
	}
	return phone, nil
}

type captureNotifier struct {
	mu   sync.Mutex
	fail bool
	sent []Message
}

func (n *captureNotifier) Send(_ context.Context, m Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("gateway down")
	}
	n.sent = append(n.sent, m)
	return nil
}

var contacts = stubContacts{
	phones: map[string]string{"alice": "+242060000001", "bob": "+242060000002"},
	names:  map[string]string{"alice": "Alice Ngoma", "bob": "Bob Mabiala"},
}

func transferDebit() ledger.EntryPosted {
	return ledger.EntryPosted{
		EventID:            "evt-1",
		Kind:               ledger.PostingTransfer,
		OwnerID:            "alice",
		Leg:                ledger.LegDebit,
		Amount:             money.MustParse("250"),
		Reference:          "TXN20240301120000000001D",
		BaseReference:      "TXN20240301120000000001",
		CounterpartOwnerID: "bob",
		BalanceAfter:       money.MustParse("750"),
	}
}

func TestComposeMessages(t *testing.T) {
	assert.Equal(t,
		"Transfer of 250.00 FCFA sent to Bob Mabiala. Reference: TXN20240301120000000001. Remaining balance: 750.00 FCFA.",
		Compose(transferDebit(), "Bob Mabiala"))

	credit := transferDebit()
	credit.Leg = ledger.LegCredit
	credit.BalanceAfter = money.MustParse("1250.5")
	assert.Equal(t,
		"Transfer of 250.00 FCFA received from Alice Ngoma. Reference: TXN20240301120000000001. New balance: 1250.50 FCFA.",
		Compose(credit, "Alice Ngoma"))

	pay := transferDebit()
	pay.Kind = ledger.PostingMerchantPayment
	pay.MerchantCode = "MCHAB12CD"
	assert.Contains(t, Compose(pay, "Shop"), "Payment of 250.00 FCFA sent to Shop (MCHAB12CD)")

	dep := ledger.EntryPosted{Kind: ledger.PostingDeposit, Leg: ledger.LegCredit, Amount: money.MustParse("10"), Reference: "TXN1", BalanceAfter: money.MustParse("10")}
	assert.Equal(t, "Deposit of 10.00 FCFA credited to your account. Reference: TXN1. New balance: 10.00 FCFA.", Compose(dep, ""))
}

func TestHandleSendsOncePerEvent(t *testing.T) {
	n := &captureNotifier{}
	d := NewDispatcher(contacts, n, NewMemoryDeduper(), logging.Discard())

	require.NoError(t, d.Handle(context.Background(), transferDebit()))
	require.NoError(t, d.Handle(context.Background(), transferDebit()))

	require.Len(t, n.sent, 1)
	assert.Equal(t, "+242060000001", n.sent[0].Destination)
	assert.Equal(t, "transfer", n.sent[0].Kind)
	assert.Contains(t, n.sent[0].Body, "Bob Mabiala")
}

func TestHandleReleasesClaimOnFailure(t *testing.T) {
	n := &captureNotifier{fail: true}
	d := NewDispatcher(contacts, n, NewMemoryDeduper(), logging.Discard())

	require.Error(t, d.Handle(context.Background(), transferDebit()))

	n.fail = false
	require.NoError(t, d.Handle(context.Background(), transferDebit()))
	assert.Len(t, n.sent, 1)
}

func TestHandleDelivery(t *testing.T) {
	n := &captureNotifier{}
	d := NewDispatcher(contacts, n, nil, logging.Discard())

	assert.True(t, d.HandleDelivery([]byte("not json")))

	unknown := transferDebit()
	unknown.OwnerID = "carol"
	body, err := json.Marshal(unknown)
	require.NoError(t, err)
	assert.False(t, d.HandleDelivery(body))

	body, err = json.Marshal(transferDebit())
	require.NoError(t, err)
	assert.True(t, d.HandleDelivery(body))
	assert.Len(t, n.sent, 1)
}

func TestLocalPublisherDeliversEntryEvents(t *testing.T) {
	n := &captureNotifier{}
	p := NewLocalPublisher(NewDispatcher(contacts, n, nil, logging.Discard()))
	body, err := json.Marshal(transferDebit())
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), "ledger.events", "other.key", body))
	assert.Empty(t, n.sent)
	require.NoError(t, p.Publish(context.Background(), "ledger.events", ledger.EntryPostedRoutingKey, body))
	assert.Len(t, n.sent, 1)
}

func TestRedisDeduper(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	d := NewRedisDeduper(client)
	ctx := context.Background()

	fresh, err := d.Claim(ctx, "evt-9", time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.True(t, mr.Exists("notify:event:evt-9"))

	fresh, err = d.Claim(ctx, "evt-9", time.Hour)
	require.NoError(t, err)
	assert.False(t, fresh)

	require.NoError(t, d.Release(ctx, "evt-9"))
	fresh, err = d.Claim(ctx, "evt-9", time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh)

	mr.FastForward(2 * time.Hour)
	fresh, err = d.Claim(ctx, "evt-9", time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh)
}
