package ledger

import (
	"context"
	"fmt"

	"github.com/ompay/ompay/internal/money"
)

// Derive sums the signed entries recorded against accountID. A sum that
// leaves the int64 range fails with ErrBalanceLimit instead of wrapping.
func Derive(entries []Entry, accountID string) (money.Amount, error) {
	var total money.Amount
	for _, e := range entries {
		if e.AccountID != accountID {
			continue
		}
		next, err := total.Add(e.Signed())
		if err != nil {
			return 0, fmt.Errorf("account %s: %w", accountID, ErrBalanceLimit)
		}
		total = next
	}
	return total, nil
}

// BalanceWithin reads the authoritative balance through r. Inside a Tx the
// account is expected to be locked already.
func BalanceWithin(ctx context.Context, r EntryReader, accountID string) (money.Amount, error) {
	entries, err := r.Entries(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("load entries: %w", err)
	}
	return Derive(entries, accountID)
}

// Stats aggregates an account's activity.
type Stats struct {
	TotalDeposits          money.Amount
	TotalWithdrawals       money.Amount
	TotalTransfersSent     money.Amount
	TotalTransfersReceived money.Amount
	EntryCount             int
	Balance                money.Amount
}

// AccountLedger derives balances and reports from the entry log.
type AccountLedger struct {
	dir   Directory
	store Store
}

// NewAccountLedger wires the ledger to its directory and entry store.
func NewAccountLedger(dir Directory, store Store) *AccountLedger {
	return &AccountLedger{dir: dir, store: store}
}

// ComputeBalance scans every entry of the account. It fails with
// ErrAccountNotFound for unknown or closed accounts.
func (l *AccountLedger) ComputeBalance(ctx context.Context, accountID string) (money.Amount, error) {
	if _, err := l.dir.AccountByID(ctx, accountID); err != nil {
		return 0, err
	}
	return BalanceWithin(ctx, l.store, accountID)
}

// ActiveAccountIDs lists the accounts eligible for cache warmup.
func (l *AccountLedger) ActiveAccountIDs(ctx context.Context) ([]string, error) {
	return l.dir.ActiveAccountIDs(ctx)
}

// History returns one page of the account's entries, newest first.
func (l *AccountLedger) History(ctx context.Context, accountID string, q HistoryQuery) (HistoryPage, error) {
	if _, err := l.dir.AccountByID(ctx, accountID); err != nil {
		return HistoryPage{}, err
	}
	if q.Type != "" && !q.Type.Valid() {
		return HistoryPage{}, fmt.Errorf("unknown entry type %q", q.Type)
	}
	return l.store.History(ctx, accountID, q.normalized())
}

// Stats totals the account's entries per category.
func (l *AccountLedger) Stats(ctx context.Context, accountID string) (Stats, error) {
	if _, err := l.dir.AccountByID(ctx, accountID); err != nil {
		return Stats{}, err
	}
	entries, err := l.store.Entries(ctx, accountID)
	if err != nil {
		return Stats{}, fmt.Errorf("load entries: %w", err)
	}

	var s Stats
	for _, e := range entries {
		if e.AccountID != accountID {
			continue
		}
		s.EntryCount++
		var total *money.Amount
		switch {
		case e.Type == TypeDeposit:
			total = &s.TotalDeposits
		case e.Type == TypeWithdrawal:
			total = &s.TotalWithdrawals
		case e.Leg == LegDebit:
			total = &s.TotalTransfersSent
		default:
			total = &s.TotalTransfersReceived
		}
		if *total, err = total.Add(e.Amount); err != nil {
			return Stats{}, fmt.Errorf("account %s: %w", accountID, ErrBalanceLimit)
		}
	}
	if s.Balance, err = Derive(entries, accountID); err != nil {
		return Stats{}, err
	}
	return s, nil
}
