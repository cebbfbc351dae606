package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gozon/checkout/internal/order"
	"gozon/checkout/pkg/contracts"
)

// HTTPAuthorizer authorizes order charges against the payments service.
type HTTPAuthorizer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAuthorizer(baseURL string, client *http.Client) *HTTPAuthorizer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAuthorizer{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (a *HTTPAuthorizer) AuthorizeCharge(ctx context.Context, o *order.Order, amountCents int64) error {
	req := contracts.AuthorizeChargeRequest{
		OrderID:     o.ID,
		UserID:      o.UserID,
		AmountCents: amountCents,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal authorization: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/authorizations", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build authorization request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("authorize charge: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read authorization response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPaymentRequired:
	default:
		return fmt.Errorf("authorize charge: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out contracts.AuthorizeChargeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode authorization response: %w", err)
	}

	switch out.Status {
	case contracts.AuthorizationApproved:
		return nil
	case contracts.AuthorizationDeclined:
		reason := out.Reason
		if reason == "" {
			reason = "Payment declined"
		}
		return &order.DeclinedError{Reason: reason}
	default:
		return fmt.Errorf("authorize charge: unknown status %q", out.Status)
	}
}
