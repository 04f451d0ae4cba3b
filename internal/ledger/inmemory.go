package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is a concurrency-safe Store for unit tests and single-node runs.
// Accounts are locked with one mutex each, always taken in ascending id order.
type MemoryStore struct {
	dir    Directory
	outbox OutboxWriter

	mu         sync.RWMutex
	entries    []Entry
	references map[string]struct{}
	idempotent map[string][]int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewInMemory creates an in-memory store reading account state from dir.
// Outbox messages are handed to outbox on commit; it may be nil.
func NewInMemory(dir Directory, outbox OutboxWriter) *MemoryStore {
	return &MemoryStore{
		dir:        dir,
		outbox:     outbox,
		references: make(map[string]struct{}),
		idempotent: make(map[string][]int),
		locks:      make(map[string]*sync.Mutex),
	}
}

func idempotencyIndex(initiatorID string, kind PostingKind, key string) string {
	return initiatorID + "|" + string(kind) + "|" + key
}

func (s *MemoryStore) accountLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

// Entries returns the committed entries of an account in insertion order.
func (s *MemoryStore) Entries(_ context.Context, accountID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

// History pages through an account's entries, newest first.
func (s *MemoryStore) History(_ context.Context, accountID string, q HistoryQuery) (HistoryPage, error) {
	q = q.normalized()
	s.mu.RLock()
	var matched []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.AccountID != accountID || (q.Type != "" && e.Type != q.Type) {
			continue
		}
		matched = append(matched, e)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].OperatedAt.After(matched[j].OperatedAt)
	})

	page := HistoryPage{Page: q.Page, PerPage: q.PerPage, Total: len(matched), Entries: []Entry{}}
	start := q.offset()
	if start >= len(matched) {
		return page, nil
	}
	end := start + q.PerPage
	if end > len(matched) {
		end = len(matched)
	}
	page.Entries = append(page.Entries, matched[start:end]...)
	return page, nil
}

// WithinTx runs fn and applies its buffered writes atomically on success.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memoryTx{store: s, held: make(map[string]*sync.Mutex)}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(ctx, tx)
}

func (s *MemoryStore) commit(ctx context.Context, tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range tx.pending {
		if _, dup := s.references[e.Reference]; dup {
			return fmt.Errorf("reference %s already used", e.Reference)
		}
		if e.IdempotencyKey == "" {
			continue
		}
		for _, i := range s.idempotent[idempotencyIndex(e.InitiatorID, e.Kind, e.IdempotencyKey)] {
			if s.entries[i].Leg == e.Leg {
				return ErrDuplicatePosting
			}
		}
	}

	if s.outbox != nil && len(tx.outbox) > 0 {
		if err := s.outbox.Append(ctx, tx.outbox...); err != nil {
			return fmt.Errorf("append outbox: %w", err)
		}
	}

	for _, e := range tx.pending {
		s.entries = append(s.entries, e)
		s.references[e.Reference] = struct{}{}
		if e.IdempotencyKey != "" {
			k := idempotencyIndex(e.InitiatorID, e.Kind, e.IdempotencyKey)
			s.idempotent[k] = append(s.idempotent[k], len(s.entries)-1)
		}
	}
	return nil
}

type memoryTx struct {
	store   *MemoryStore
	held    map[string]*sync.Mutex
	pending []Entry
	outbox  []OutboxMessage
}

func (t *memoryTx) LockAccounts(ctx context.Context, ids ...string) (map[string]Account, error) {
	sorted := sortedUnique(ids)
	for _, id := range sorted {
		if _, ok := t.held[id]; ok {
			continue
		}
		m := t.store.accountLock(id)
		m.Lock()
		t.held[id] = m
	}

	accounts := make(map[string]Account, len(sorted))
	for _, id := range sorted {
		acct, err := t.store.dir.AccountByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if acct.Status == StatusClosed {
			return nil, ErrAccountNotFound
		}
		accounts[id] = acct
	}
	return accounts, nil
}

func (t *memoryTx) Entries(ctx context.Context, accountID string) ([]Entry, error) {
	committed, err := t.store.Entries(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, e := range t.pending {
		if e.AccountID == accountID {
			committed = append(committed, e)
		}
	}
	return committed, nil
}

func (t *memoryTx) FindByIdempotencyKey(_ context.Context, initiatorID string, kind PostingKind, key string) ([]Entry, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	var out []Entry
	for _, i := range t.store.idempotent[idempotencyIndex(initiatorID, kind, key)] {
		out = append(out, t.store.entries[i])
	}
	return out, nil
}

func (t *memoryTx) InsertEntries(_ context.Context, entries ...Entry) error {
	for _, e := range entries {
		if _, ok := t.held[e.AccountID]; !ok {
			return fmt.Errorf("account %s is not locked", e.AccountID)
		}
	}
	t.pending = append(t.pending, entries...)
	return nil
}

func (t *memoryTx) Enqueue(_ context.Context, msgs ...OutboxMessage) error {
	t.outbox = append(t.outbox, msgs...)
	return nil
}

func (t *memoryTx) release() {
	for id, m := range t.held {
		m.Unlock()
		delete(t.held, id)
	}
}

func sortedUnique(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
