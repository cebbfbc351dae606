package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"gozon/checkout/internal/payment"
	"gozon/checkout/pkg/contracts"
)

type Ledger interface {
	CreateAccount(ctx context.Context, userID string) error
	Deposit(ctx context.Context, userID string, amount int64) (int64, error)
	Balance(ctx context.Context, userID string) (int64, error)
	Authorize(ctx context.Context, req contracts.AuthorizeChargeRequest) (contracts.AuthorizeChargeResponse, error)
}

type PaymentsServer struct {
	ledger Ledger
	logger *slog.Logger
	mux    *http.ServeMux
}

func NewPaymentsServer(ledger Ledger, logger *slog.Logger) *PaymentsServer {
	s := &PaymentsServer{
		ledger: ledger,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *PaymentsServer) routes() {
	s.mux.HandleFunc("POST /accounts", s.createAccount)
	s.mux.HandleFunc("POST /accounts/deposit", s.deposit)
	s.mux.HandleFunc("GET /accounts/balance", s.balance)
	s.mux.HandleFunc("POST /authorizations", s.authorize)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func (s *PaymentsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *PaymentsServer) createAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ledger.CreateAccount(r.Context(), userID); err != nil {
		if errors.Is(err, payment.ErrAccountExists) {
			writeError(w, http.StatusConflict, "account already exists")
			return
		}
		s.logger.Error("create account", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *PaymentsServer) deposit(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	balance, err := s.ledger.Deposit(r.Context(), userID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, "account not found")
		case errors.Is(err, payment.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("deposit", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (s *PaymentsServer) balance(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	balance, err := s.ledger.Balance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, payment.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.logger.Error("get balance", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (s *PaymentsServer) authorize(w http.ResponseWriter, r *http.Request) {
	var req contracts.AuthorizeChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OrderID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "order_id and user_id are required")
		return
	}

	resp, err := s.ledger.Authorize(r.Context(), req)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("authorize charge", "order_id", req.OrderID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusOK
	if resp.Status == contracts.AuthorizationDeclined {
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, resp)
}

func (s *PaymentsServer) userID(r *http.Request) (string, error) {
	value := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if value == "" {
		return "", errors.New("missing X-User-ID header")
	}
	return value, nil
}
