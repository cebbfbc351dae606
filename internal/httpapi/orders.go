package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gozon/checkout/internal/order"
)

type OrderService interface {
	Submit(ctx context.Context, cmd order.SubmitCommand) (*order.Result, error)
	Get(ctx context.Context, id string, p order.Principal) (*order.Order, error)
}

type OrdersServer struct {
	orders OrderService
	logger *slog.Logger
	mux    *http.ServeMux
	now    func() time.Time
}

func NewOrdersServer(orders OrderService, logger *slog.Logger) *OrdersServer {
	s := &OrdersServer{
		orders: orders,
		logger: logger,
		mux:    http.NewServeMux(),
		now:    time.Now,
	}

	s.routes()
	return s
}

func (s *OrdersServer) routes() {
	s.mux.HandleFunc("POST /orders/{orderID}/submit", s.submitOrder)
	s.mux.HandleFunc("GET /orders/{orderID}", s.getOrder)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func (s *OrdersServer) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *OrdersServer) HandleFunc(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, h)
}

func (s *OrdersServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type OrderView struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	PartnerID            string     `json:"partner_id"`
	State                string     `json:"state"`
	ItemsTotalCents      int64      `json:"items_total_cents"`
	CreditCardID         *string    `json:"credit_card_id,omitempty"`
	DestinationAccountID *string    `json:"destination_account_id,omitempty"`
	StateUpdatedAt       time.Time  `json:"state_updated_at"`
	StateExpiresAt       *time.Time `json:"state_expires_at,omitempty"`
	StateExpired         bool       `json:"state_expired"`
}

func newOrderView(o *order.Order, now time.Time) *OrderView {
	if o == nil {
		return nil
	}
	return &OrderView{
		ID:                   o.ID,
		UserID:               o.UserID,
		PartnerID:            o.PartnerID,
		State:                o.State.Symbol(),
		ItemsTotalCents:      o.ItemsTotalCents,
		CreditCardID:         o.CreditCardID,
		DestinationAccountID: o.DestinationAccountID,
		StateUpdatedAt:       o.StateUpdatedAt,
		StateExpiresAt:       o.StateExpiresAt,
		StateExpired:         o.StateExpired(now),
	}
}

type submitOrderResponse struct {
	Order  *OrderView `json:"order"`
	Errors []string   `json:"errors"`
}

func (s *OrdersServer) submitOrder(w http.ResponseWriter, r *http.Request) {
	principal, err := PrincipalFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req struct {
		CreditCardID         string `json:"credit_card_id"`
		DestinationAccountID string `json:"destination_account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.CreditCardID = strings.TrimSpace(req.CreditCardID)
	req.DestinationAccountID = strings.TrimSpace(req.DestinationAccountID)
	if req.CreditCardID == "" || req.DestinationAccountID == "" {
		writeError(w, http.StatusBadRequest, "credit_card_id and destination_account_id are required")
		return
	}

	res, err := s.orders.Submit(r.Context(), order.SubmitCommand{
		OrderID:              r.PathValue("orderID"),
		Principal:            principal,
		CreditCardID:         req.CreditCardID,
		DestinationAccountID: req.DestinationAccountID,
	})
	if err != nil {
		s.logger.Error("submit order", "order_id", r.PathValue("orderID"), "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, submitStatus(res), submitOrderResponse{
		Order:  newOrderView(res.Order, s.now()),
		Errors: res.Errors,
	})
}

func submitStatus(res *order.Result) int {
	if res.Failure == nil {
		return http.StatusOK
	}
	switch res.Failure.Kind {
	case order.KindNotFound:
		return http.StatusNotFound
	case order.KindPermissionDenied:
		return http.StatusForbidden
	case order.KindInvalidState, order.KindConcurrentModification:
		return http.StatusConflict
	case order.KindPaymentFailed:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func (s *OrdersServer) getOrder(w http.ResponseWriter, r *http.Request) {
	principal, err := PrincipalFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	o, err := s.orders.Get(r.Context(), r.PathValue("orderID"), principal)
	if err != nil {
		var denied *order.Error
		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.As(err, &denied):
			writeError(w, http.StatusForbidden, denied.Message)
		default:
			s.logger.Error("get order", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, newOrderView(o, s.now()))
}
