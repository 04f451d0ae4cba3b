package ledger

import (
	"context"
)

// Directory resolves accounts and their owners. Closed accounts are never returned.
type Directory interface {
	AccountByID(ctx context.Context, id string) (Account, error)
	AccountByPhone(ctx context.Context, phone string) (Account, error)
	AccountByMerchantCode(ctx context.Context, code string) (Account, error)
	OwnerName(ctx context.Context, partyID string) (string, error)
	ActiveAccountIDs(ctx context.Context) ([]string, error)
}

// EntryReader lists every entry recorded against an account.
type EntryReader interface {
	Entries(ctx context.Context, accountID string) ([]Entry, error)
}

// Tx is a unit of work holding exclusive locks on the accounts it touched.
type Tx interface {
	EntryReader
	// LockAccounts locks the given accounts in ascending id order and returns
	// their state as seen under the lock.
	LockAccounts(ctx context.Context, ids ...string) (map[string]Account, error)
	// FindByIdempotencyKey returns the entries the initiator recorded under key
	// for the given kind of posting. Keys are scoped per kind.
	FindByIdempotencyKey(ctx context.Context, initiatorID string, kind PostingKind, key string) ([]Entry, error)
	InsertEntries(ctx context.Context, entries ...Entry) error
	Enqueue(ctx context.Context, msgs ...OutboxMessage) error
}

// Store persists entries. WithinTx commits when fn returns nil and discards
// every write otherwise.
type Store interface {
	EntryReader
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	History(ctx context.Context, accountID string, q HistoryQuery) (HistoryPage, error)
}

// OutboxMessage is an event queued for relay in the same unit of work as the entries.
type OutboxMessage struct {
	Exchange   string
	RoutingKey string
	Payload    []byte
}

// OutboxWriter accepts outbox messages when the in-memory store commits.
type OutboxWriter interface {
	Append(ctx context.Context, msgs ...OutboxMessage) error
}

// HistoryQuery selects one page of an account's entries, newest first.
type HistoryQuery struct {
	Page    int
	PerPage int
	Type    EntryType
}

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

func (q HistoryQuery) normalized() HistoryQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = defaultPerPage
	}
	if q.PerPage > maxPerPage {
		q.PerPage = maxPerPage
	}
	return q
}

func (q HistoryQuery) offset() int {
	return (q.Page - 1) * q.PerPage
}

// HistoryPage is one page of entries plus the total matching count.
type HistoryPage struct {
	Entries []Entry
	Page    int
	PerPage int
	Total   int
}

// LastPage returns the 1-based index of the final page.
func (p HistoryPage) LastPage() int {
	if p.Total == 0 || p.PerPage == 0 {
		return 1
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}
