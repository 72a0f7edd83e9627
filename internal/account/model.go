package account

import (
	"errors"
	"time"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

var (
	// ErrNotFound is returned when no account matches the lookup.
	ErrNotFound = errors.New("account not found")
	// ErrNoPrimaryAccount is returned when a user owns no active primary account.
	ErrNoPrimaryAccount = errors.New("primary account not found")
	// ErrExists is returned when an account number is already taken.
	ErrExists = errors.New("account exists")
)

// Account is a balance-holding account owned by a user. ID is the stable
// numeric identity used to order account locks.
type Account struct {
	ID        int64
	Number    string
	OwnerID   string
	Currency  string
	Status    string
	Primary   bool
	CreatedAt time.Time
}

// Active reports whether the account may take part in transfers.
func (a Account) Active() bool {
	return a.Status == StatusActive
}
