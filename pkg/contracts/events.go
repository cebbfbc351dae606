package contracts

import "time"

const EventOrderSubmitted = "orders.submitted"

type OrderSubmittedEvent struct {
	EventID              string    `json:"event_id"`
	OrderID              string    `json:"order_id"`
	UserID               string    `json:"user_id"`
	PartnerID            string    `json:"partner_id"`
	State                string    `json:"state"`
	AmountCents          int64     `json:"amount_cents"`
	CreditCardID         string    `json:"credit_card_id"`
	DestinationAccountID string    `json:"destination_account_id"`
	StateUpdatedAt       time.Time `json:"state_updated_at"`
	StateExpiresAt       time.Time `json:"state_expires_at"`
}

type AuthorizationStatus string

const (
	AuthorizationApproved AuthorizationStatus = "authorized"
	AuthorizationDeclined AuthorizationStatus = "declined"
)

type AuthorizeChargeRequest struct {
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	AmountCents int64  `json:"amount_cents"`
}

type AuthorizeChargeResponse struct {
	AuthorizationID string              `json:"authorization_id,omitempty"`
	Status          AuthorizationStatus `json:"status"`
	Reason          string              `json:"reason,omitempty"`
}
