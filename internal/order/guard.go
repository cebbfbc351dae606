package order

import "slices"

type PrincipalType string

const (
	PrincipalUser    PrincipalType = "user"
	PrincipalPartner PrincipalType = "partner"
)

// Principal is the already authenticated caller.
type Principal struct {
	Type       PrincipalType
	UserID     string
	PartnerIDs []string
}

// PermissionGuard decides whether a principal may act on an order.
// Users may act on their own orders; partner principals may act on orders
// placed with one of their partners.
type PermissionGuard struct{}

func (PermissionGuard) Allow(o *Order, p Principal) bool {
	switch p.Type {
	case PrincipalUser, "":
		return p.UserID != "" && p.UserID == o.UserID
	case PrincipalPartner:
		return o.PartnerID != "" && slices.Contains(p.PartnerIDs, o.PartnerID)
	default:
		return false
	}
}

// StateGuard allows submission only from pending.
type StateGuard struct{}

func (StateGuard) Allow(o *Order) bool {
	return o.State == StatePending
}
