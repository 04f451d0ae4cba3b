package account

import (
	"errors"

	"github.com/ompay/ompay/internal/ledger"
)

var (
	// ErrDuplicateCode is returned by repositories when a generated account
	// number or merchant code collides with an existing one.
	ErrDuplicateCode = errors.New("account number or merchant code already in use")
	// ErrInvalidKind rejects unknown account kinds.
	ErrInvalidKind = errors.New("invalid account kind")
	// ErrInvalidTransition rejects lifecycle changes not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid account status transition")
)

// OpenInput captures data required to open an account.
type OpenInput struct {
	OwnerID string
	Kind    ledger.AccountKind
}
