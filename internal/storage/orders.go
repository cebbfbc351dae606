package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gozon/checkout/internal/order"
	"gozon/checkout/pkg/contracts"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Orders is the Postgres order repository. A committed submission and its
// orders.submitted outbox event are written in one transaction.
type Orders struct {
	pool *pgxpool.Pool
}

func NewOrders(pool *pgxpool.Pool) *Orders {
	return &Orders{pool: pool}
}

func (r *Orders) FindByID(ctx context.Context, id string) (*order.Order, error) {
	var (
		o     order.Order
		state string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, partner_id, state, items_total_cents,
		       credit_card_id, destination_account_id,
		       state_updated_at, state_expires_at, created_at, updated_at
		FROM orders
		WHERE id = $1`, id,
	).Scan(
		&o.ID, &o.UserID, &o.PartnerID, &state, &o.ItemsTotalCents,
		&o.CreditCardID, &o.DestinationAccountID,
		&o.StateUpdatedAt, &o.StateExpiresAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	o.State, err = order.ParseState(state)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", id, err)
	}
	return &o, nil
}

func (r *Orders) CommitSubmission(ctx context.Context, submitted *order.Order) error {
	if submitted.CreditCardID == nil || submitted.DestinationAccountID == nil || submitted.StateExpiresAt == nil {
		return fmt.Errorf("commit submission %s: payment fields missing", submitted.ID)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET state = $2,
		    credit_card_id = $3,
		    destination_account_id = $4,
		    state_updated_at = $5,
		    state_expires_at = $6,
		    updated_at = $7
		WHERE id = $1
		  AND state = $8
		  AND credit_card_id IS NULL
		  AND destination_account_id IS NULL`,
		submitted.ID,
		submitted.State.String(),
		*submitted.CreditCardID,
		*submitted.DestinationAccountID,
		submitted.StateUpdatedAt,
		*submitted.StateExpiresAt,
		submitted.UpdatedAt,
		order.StatePending.String(),
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrConcurrentModification
	}

	event := contracts.OrderSubmittedEvent{
		EventID:              uuid.New().String(),
		OrderID:              submitted.ID,
		UserID:               submitted.UserID,
		PartnerID:            submitted.PartnerID,
		State:                submitted.State.Symbol(),
		AmountCents:          submitted.ItemsTotalCents,
		CreditCardID:         *submitted.CreditCardID,
		DestinationAccountID: *submitted.DestinationAccountID,
		StateUpdatedAt:       submitted.StateUpdatedAt,
		StateExpiresAt:       *submitted.StateExpiresAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_outbox (event_id, event_type, payload)
		VALUES ($1, $2, $3)`,
		event.EventID, contracts.EventOrderSubmitted, payload,
	)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}

	return tx.Commit(ctx)
}

// Insert stores a new order. Orders are created by the ordering flow; this
// is used for seeding and tests.
func (r *Orders) Insert(ctx context.Context, o *order.Order) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = now
	}
	if o.StateUpdatedAt.IsZero() {
		o.StateUpdatedAt = now
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO orders (id, user_id, partner_id, state, items_total_cents,
		                    credit_card_id, destination_account_id,
		                    state_updated_at, state_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		o.ID, o.UserID, o.PartnerID, o.State.String(), o.ItemsTotalCents,
		o.CreditCardID, o.DestinationAccountID,
		o.StateUpdatedAt, o.StateExpiresAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}
