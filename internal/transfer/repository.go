package transfer

import (
	"context"
	"time"
)

// Repository persists transfers. Transition is a compare-and-set on status:
// it applies only when the stored status is one of from.
type Repository interface {
	Create(ctx context.Context, t Transfer) error
	Get(ctx context.Context, id string) (Transfer, error)
	Transition(ctx context.Context, id string, from []Status, update Update) (Transfer, error)
	ListReconcilable(ctx context.Context, criteria Criteria) ([]Transfer, error)
	Claim(ctx context.Context, id string, until, now time.Time) error
	Release(ctx context.Context, id string) error
}

func validTransition(from []Status, to Status) bool {
	for _, f := range from {
		if !CanTransition(f, to) {
			return false
		}
	}
	return len(from) > 0
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
