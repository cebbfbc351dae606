package order

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrConcurrentModification = errors.New("order modified concurrently")
	ErrInvalidTransition      = errors.New("invalid order transition")
)

// Kind classifies an expected submission failure.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindPermissionDenied
	KindInvalidState
	KindPaymentFailed
	KindConcurrentModification
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindInvalidState:
		return "invalid_state"
	case KindPaymentFailed:
		return "payment_failed"
	case KindConcurrentModification:
		return "concurrent_modification"
	default:
		return "unknown"
	}
}

const MsgNotPermitted = "Not permitted"

// Error is an expected, user-visible submission failure. Message is what the
// caller sees; Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func notFound(id string) *Error {
	return &Error{Kind: KindNotFound, Message: "Order not found", Err: fmt.Errorf("%w: %s", ErrOrderNotFound, id)}
}

func permissionDenied() *Error {
	return &Error{Kind: KindPermissionDenied, Message: MsgNotPermitted}
}

func invalidState(s State) *Error {
	return &Error{Kind: KindInvalidState, Message: invalidActionMessage(s)}
}

func concurrentModification(s State) *Error {
	return &Error{Kind: KindConcurrentModification, Message: invalidActionMessage(s), Err: ErrConcurrentModification}
}

func paymentFailed(message string, cause error) *Error {
	return &Error{Kind: KindPaymentFailed, Message: message, Err: cause}
}

func invalidActionMessage(s State) string {
	return fmt.Sprintf("Invalid action on this %s order", s)
}

// DeclinedError is returned by an Authorizer when the charge was refused.
// Reason is shown to the user as is.
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string {
	return e.Reason
}
