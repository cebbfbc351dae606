package order

import (
	"context"
	"time"
)

type Repository interface {
	FindByID(ctx context.Context, id string) (*Order, error)

	// CommitSubmission persists a submitted order. It must only succeed if the
	// stored order is still pending, and returns ErrConcurrentModification
	// otherwise.
	CommitSubmission(ctx context.Context, submitted *Order) error
}

// Authorizer reserves funds for an order with the payment provider.
// A refused charge is reported as *DeclinedError.
type Authorizer interface {
	AuthorizeCharge(ctx context.Context, o *Order, amountCents int64) error
}

// Locker serialises work on a single order. The returned release func must
// be called exactly once.
type Locker interface {
	Lock(ctx context.Context, orderID string) (release func(), err error)
}

type Metrics interface {
	ObserveSubmission(outcome string)
	ObserveAuthorization(d time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSubmission(string) {}
func (noopMetrics) ObserveAuthorization(time.Duration, error) {}
