package party

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no party matches the lookup.
	ErrNotFound = errors.New("party not found")
	// ErrPhoneTaken indicates another party already registered the phone number.
	ErrPhoneTaken = errors.New("phone number already registered")
)

// Party is the owner of one or more accounts.
type Party struct {
	ID        string
	Phone     string
	FullName  string
	CreatedAt time.Time
}
