package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gozon/checkout/pkg/contracts"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrAccountExists   = errors.New("account already exists")
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidAmount   = errors.New("amount must be positive")
)

const (
	ReasonAccountMissing    = "Payment account not found"
	ReasonInsufficientFunds = "Insufficient funds"
)

// Ledger keeps prepaid balances and authorizes order charges against them.
type Ledger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewLedger(pool *pgxpool.Pool, logger *slog.Logger) *Ledger {
	return &Ledger{pool: pool, logger: logger}
}

func (l *Ledger) CreateAccount(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	_, err := l.pool.Exec(ctx, `
		INSERT INTO accounts (user_id, balance, created_at, updated_at)
		VALUES ($1, 0, $2, $2)`,
		userID, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAccountExists
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (l *Ledger) Deposit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING balance`, userID, amount,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("update balance: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO account_transactions (id, user_id, amount, kind)
		VALUES ($1, $2, $3, $4)`,
		uuid.New(), userID, amount, "deposit",
	)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return balance, nil
}

func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := l.pool.QueryRow(ctx, `
		SELECT balance FROM accounts WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return balance, nil
}

// Authorize places a hold on the user's balance for the order total. Once an
// order is authorized, repeated requests return that authorization and never
// debit twice; a declined order is evaluated again. A zero total is approved
// without touching the balance.
func (l *Ledger) Authorize(ctx context.Context, req contracts.AuthorizeChargeRequest) (contracts.AuthorizeChargeResponse, error) {
	if req.AmountCents < 0 {
		return contracts.AuthorizeChargeResponse{}, ErrInvalidAmount
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return contracts.AuthorizeChargeResponse{}, err
	}
	defer tx.Rollback(ctx)

	authID := uuid.New()
	tag, err := tx.Exec(ctx, `
		INSERT INTO authorizations (order_id, id, user_id, amount, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO UPDATE
		SET id = EXCLUDED.id,
		    amount = EXCLUDED.amount,
		    status = EXCLUDED.status,
		    reason = '',
		    created_at = NOW()
		WHERE authorizations.status <> $6`,
		req.OrderID, authID, req.UserID, req.AmountCents, contracts.AuthorizationDeclined,
		contracts.AuthorizationApproved,
	)
	if err != nil {
		return contracts.AuthorizeChargeResponse{}, fmt.Errorf("insert authorization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return l.existing(ctx, tx, req.OrderID)
	}

	reason := ""
	if req.AmountCents > 0 {
		var balance int64
		err = tx.QueryRow(ctx, `
			SELECT balance
			FROM accounts
			WHERE user_id = $1
			FOR UPDATE`,
			req.UserID,
		).Scan(&balance)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			reason = ReasonAccountMissing
		case err != nil:
			return contracts.AuthorizeChargeResponse{}, fmt.Errorf("select balance: %w", err)
		case balance < req.AmountCents:
			reason = ReasonInsufficientFunds
		}
	}

	resp := contracts.AuthorizeChargeResponse{AuthorizationID: authID.String(), Status: contracts.AuthorizationApproved}
	switch {
	case reason != "":
		resp = contracts.AuthorizeChargeResponse{Status: contracts.AuthorizationDeclined, Reason: reason}
	case req.AmountCents > 0:
		_, err = tx.Exec(ctx, `
			UPDATE accounts
			SET balance = balance - $2, updated_at = NOW()
			WHERE user_id = $1`, req.UserID, req.AmountCents)
		if err != nil {
			return contracts.AuthorizeChargeResponse{}, fmt.Errorf("hold balance: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO account_transactions (id, user_id, order_id, amount, kind)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), req.UserID, req.OrderID, req.AmountCents, "hold",
		)
		if err != nil {
			return contracts.AuthorizeChargeResponse{}, fmt.Errorf("insert account transaction: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE authorizations
		SET status = $2, reason = $3
		WHERE order_id = $1`,
		req.OrderID, resp.Status, resp.Reason,
	)
	if err != nil {
		return contracts.AuthorizeChargeResponse{}, fmt.Errorf("update authorization: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return contracts.AuthorizeChargeResponse{}, err
	}

	l.logger.Info("charge authorization",
		"order_id", req.OrderID,
		"user_id", req.UserID,
		"amount_cents", req.AmountCents,
		"status", resp.Status,
		"reason", resp.Reason,
	)
	return resp, nil
}

func (l *Ledger) existing(ctx context.Context, tx pgx.Tx, orderID string) (contracts.AuthorizeChargeResponse, error) {
	var (
		resp   contracts.AuthorizeChargeResponse
		authID uuid.UUID
	)
	err := tx.QueryRow(ctx, `
		SELECT id, status, reason
		FROM authorizations
		WHERE order_id = $1`, orderID,
	).Scan(&authID, &resp.Status, &resp.Reason)
	if err != nil {
		return contracts.AuthorizeChargeResponse{}, fmt.Errorf("select authorization: %w", err)
	}
	if resp.Status == contracts.AuthorizationApproved {
		resp.AuthorizationID = authID.String()
	}
	return resp, nil
}
