package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gozon/checkout/internal/order"
)

const (
	HeaderUserID        = "X-User-ID"
	HeaderPartnerIDs    = "X-Partner-IDs"
	HeaderPrincipalType = "X-Principal-Type"
)

// PrincipalFromRequest reads the caller identity set by the authenticating
// gateway in front of this service.
func PrincipalFromRequest(r *http.Request) (order.Principal, error) {
	p := order.Principal{
		Type:   order.PrincipalUser,
		UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
	}
	for _, id := range strings.Split(r.Header.Get(HeaderPartnerIDs), ",") {
		if id = strings.TrimSpace(id); id != "" {
			p.PartnerIDs = append(p.PartnerIDs, id)
		}
	}

	switch typ := order.PrincipalType(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderPrincipalType)))); typ {
	case "", order.PrincipalUser:
		if p.UserID == "" {
			return order.Principal{}, errors.New("missing X-User-ID header")
		}
	case order.PrincipalPartner:
		p.Type = order.PrincipalPartner
		if len(p.PartnerIDs) == 0 {
			return order.Principal{}, errors.New("missing X-Partner-IDs header")
		}
	default:
		return order.Principal{}, errors.New("unknown principal type")
	}
	return p, nil
}
