package transfer

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a transfer.
type Status string

const (
	StatusRequested  Status = "REQUESTED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusTimeout    Status = "TIMEOUT"
	StatusUnknown    Status = "UNKNOWN"
	StatusCancelled  Status = "CANCELLED"
)

// Kind tells which money path a transfer takes.
type Kind string

const (
	KindInternal Kind = "internal"
	KindExternal Kind = "external"
)

var (
	// ErrNotFound is returned when no transfer has the requested id.
	ErrNotFound = errors.New("transfer not found")
	// ErrStatusConflict is returned when a transition's expected source status
	// does not match the stored one.
	ErrStatusConflict = errors.New("transfer status conflict")
	// ErrIllegalTransition is returned for transitions the state machine forbids.
	ErrIllegalTransition = errors.New("illegal transfer status transition")
	// ErrExists is returned when a transfer id is already taken.
	ErrExists = errors.New("transfer already exists")
	// ErrClaimed is returned when another worker holds the transfer claim.
	ErrClaimed = errors.New("transfer already claimed")
	// ErrNotReconcilable is returned when claiming a transfer that already
	// reached a status reconciliation does not touch.
	ErrNotReconcilable = errors.New("transfer not reconcilable")
)

// Transfer is the persisted record of one money movement request.
type Transfer struct {
	ID                    string
	Kind                  Kind
	SenderUserID          string
	SenderAccountNumber   string
	ReceiverUserID        *string
	ReceiverAccountNumber string
	ReceiverBankCode      string
	Amount                decimal.Decimal
	Currency              string
	Memo                  string
	Status                Status
	BankTransactionID     *string
	FailureReason         *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	ProcessedAt           *time.Time
	ClaimedUntil          *time.Time
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Ambiguous reports whether the outcome awaits reconciliation.
func (s Status) Ambiguous() bool {
	return s == StatusTimeout || s == StatusUnknown
}

var transitions = map[Status][]Status{
	StatusRequested:  {StatusProcessing, StatusCancelled, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusTimeout, StatusUnknown},
	StatusTimeout:    {StatusCompleted, StatusFailed, StatusUnknown},
	StatusUnknown:    {StatusCompleted, StatusFailed, StatusTimeout},
}

// CanTransition reports whether the state machine allows from -> to.
// A no-op transition between identical ambiguous states is permitted so that
// reconciliation can record a new observation without changing status.
func CanTransition(from, to Status) bool {
	if from == to {
		return from.Ambiguous()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Update describes the fields a transition writes.
type Update struct {
	Status            Status
	BankTransactionID *string
	FailureReason     *string
	ProcessedAt       *time.Time
}

// Criteria selects transfers eligible for reconciliation.
type Criteria struct {
	// CreatedBefore is the grace cutoff; younger transfers are skipped.
	CreatedBefore time.Time
	// ProcessingBefore selects PROCESSING transfers whose last update is older.
	ProcessingBefore time.Time
	// Now excludes transfers whose claim has not expired.
	Now   time.Time
	Limit int
}

func (c Criteria) matches(t Transfer) bool {
	if !t.CreatedAt.Before(c.CreatedBefore) {
		return false
	}
	if t.ClaimedUntil != nil && t.ClaimedUntil.After(c.Now) {
		return false
	}
	switch t.Status {
	case StatusTimeout, StatusUnknown:
		return true
	case StatusProcessing:
		return t.UpdatedAt.Before(c.ProcessingBefore)
	}
	return false
}

// Reconcilable reports whether reconciliation may act on a transfer in s.
func (s Status) Reconcilable() bool {
	switch s {
	case StatusProcessing, StatusTimeout, StatusUnknown:
		return true
	}
	return false
}

func strPtr(s string) *string { return &s }

// Reason is a helper for building Update.FailureReason.
func Reason(s string) *string {
	if s == "" {
		return nil
	}
	return strPtr(s)
}
