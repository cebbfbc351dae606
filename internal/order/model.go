package order

import (
	"fmt"
	"time"
)

// SubmittedStateTTL is how long a submitted order stays fresh before it is
// considered stale.
const SubmittedStateTTL = 48 * time.Hour

type Order struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	PartnerID            string     `json:"partner_id"`
	State                State      `json:"-"`
	ItemsTotalCents      int64      `json:"items_total_cents"`
	CreditCardID         *string    `json:"credit_card_id,omitempty"`
	DestinationAccountID *string    `json:"destination_account_id,omitempty"`
	StateUpdatedAt       time.Time  `json:"state_updated_at"`
	StateExpiresAt       *time.Time `json:"state_expires_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers can hand out orders without sharing
// pointer fields.
func (o *Order) Clone() *Order {
	c := *o
	if o.CreditCardID != nil {
		v := *o.CreditCardID
		c.CreditCardID = &v
	}
	if o.DestinationAccountID != nil {
		v := *o.DestinationAccountID
		c.DestinationAccountID = &v
	}
	if o.StateExpiresAt != nil {
		v := *o.StateExpiresAt
		c.StateExpiresAt = &v
	}
	return &c
}

// StateExpired reports whether the current state has gone stale at now.
// Orders without an expiry never expire.
func (o *Order) StateExpired(now time.Time) bool {
	return o.StateExpiresAt != nil && !now.Before(*o.StateExpiresAt)
}

// Submit returns the order as it looks after a successful submission at now.
// The receiver is left untouched.
func (o *Order) Submit(creditCardID, destinationAccountID string, now time.Time) (*Order, error) {
	switch o.State {
	case StatePending:
	case StateAbandoned, StateSubmitted, StateApproved, StateRejected, StateFulfilled, StateCanceled:
		return nil, fmt.Errorf("%w: cannot submit %s order %s", ErrInvalidTransition, o.State, o.ID)
	default:
		return nil, fmt.Errorf("%w: order %s has unknown state %d", ErrInvalidTransition, o.ID, o.State)
	}
	if o.CreditCardID != nil || o.DestinationAccountID != nil {
		return nil, fmt.Errorf("%w: payment fields of order %s already set", ErrInvalidTransition, o.ID)
	}

	updatedAt := now.UTC()
	expiresAt := updatedAt.Add(SubmittedStateTTL)

	next := o.Clone()
	next.State = StateSubmitted
	next.CreditCardID = &creditCardID
	next.DestinationAccountID = &destinationAccountID
	next.StateUpdatedAt = updatedAt
	next.StateExpiresAt = &expiresAt
	next.UpdatedAt = updatedAt
	return next, nil
}
