package ledger

import (
	"errors"
	"time"

	"github.com/ompay/ompay/internal/money"
)

var (
	// ErrAccountNotFound is returned when an account is missing or has been closed.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientFunds occurs when the debited account lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInactiveAccount indicates an account that may not take part in the posting.
	ErrInactiveAccount = errors.New("account is not active")

	// ErrInvalidTarget covers self-dealing and payments to non-merchant accounts.
	ErrInvalidTarget = errors.New("invalid posting target")

	// ErrConflictingAmount rejects zero or negative amounts.
	ErrConflictingAmount = errors.New("amount must be positive")

	// ErrBalanceLimit rejects a credit that would take a balance past the
	// largest representable amount.
	ErrBalanceLimit = errors.New("balance limit exceeded")

	// ErrDuplicatePosting indicates the idempotency key was already used by the
	// initiating party for the same kind of posting. The original entries are
	// returned alongside it.
	ErrDuplicatePosting = errors.New("duplicate posting")
)

// AccountKind distinguishes merchant accounts from simple ones.
type AccountKind string

const (
	KindSimple   AccountKind = "simple"
	KindMerchant AccountKind = "merchant"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
	StatusBlocked  AccountStatus = "blocked"
	StatusClosed   AccountStatus = "closed"
)

// Account is a balance-less holder of ledger entries.
type Account struct {
	ID           string
	OwnerID      string
	Number       string
	Kind         AccountKind
	Status       AccountStatus
	MerchantCode string
	BlockReason  string
	ClosedAt     *time.Time
	CreatedAt    time.Time
}

// EntryType classifies a ledger entry.
type EntryType string

const (
	TypeDeposit    EntryType = "deposit"
	TypeWithdrawal EntryType = "withdrawal"
	TypeTransfer   EntryType = "transfer"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypeTransfer:
		return true
	}
	return false
}

// Leg tells whether an entry adds to or subtracts from its account balance.
type Leg string

const (
	LegDebit  Leg = "debit"
	LegCredit Leg = "credit"
)

// EntryStatus is stored for reporting; the poster only writes EntrySuccess.
type EntryStatus string

const (
	EntrySuccess EntryStatus = "success"
	EntryFailed  EntryStatus = "failed"
	EntryPending EntryStatus = "pending"
)

// Entry is one immutable movement on a single account.
type Entry struct {
	ID             string
	AccountID      string
	InitiatorID    string
	Type           EntryType
	Leg            Leg
	Kind           PostingKind
	Amount         money.Amount
	Status         EntryStatus
	OperatedAt     time.Time
	Description    string
	CounterpartID  string
	Reference      string
	IdempotencyKey string
}

// Signed returns the entry's contribution to its account balance.
func (e Entry) Signed() money.Amount {
	if e.Leg == LegDebit {
		return -e.Amount
	}
	return e.Amount
}

// DepositRequest credits an account with externally received funds.
type DepositRequest struct {
	AccountID      string
	InitiatorID    string
	Amount         money.Amount
	Description    string
	IdempotencyKey string
}

// WithdrawRequest debits an account for funds leaving the system.
type WithdrawRequest struct {
	AccountID      string
	InitiatorID    string
	Amount         money.Amount
	Description    string
	IdempotencyKey string
}

// TransferRequest moves funds to the account owned by RecipientPhone.
type TransferRequest struct {
	SenderAccountID string
	RecipientPhone  string
	InitiatorID     string
	Amount          money.Amount
	Description     string
	IdempotencyKey  string
}

// MerchantPaymentRequest pays the merchant account identified by MerchantCode.
type MerchantPaymentRequest struct {
	PayerAccountID string
	MerchantCode   string
	InitiatorID    string
	Amount         money.Amount
	IdempotencyKey string
}

// TransferResult holds both legs of a two-entry posting.
type TransferResult struct {
	Reference string
	Debit     Entry
	Credit    Entry
}
