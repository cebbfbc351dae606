package storage

import (
	"context"
	"sync"

	"gozon/checkout/internal/order"
)

// Memory is an in-process order repository with the same commit semantics
// as Orders. Committed submissions are kept for inspection.
type Memory struct {
	mu        sync.Mutex
	orders    map[string]*order.Order
	submitted []*order.Order
}

func NewMemory(orders ...*order.Order) *Memory {
	m := &Memory{orders: make(map[string]*order.Order)}
	for _, o := range orders {
		m.Put(o)
	}
	return m
}

func (m *Memory) Put(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o.Clone()
}

func (m *Memory) FindByID(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (m *Memory) CommitSubmission(_ context.Context, submitted *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.orders[submitted.ID]
	if !ok {
		return order.ErrOrderNotFound
	}
	if current.State != order.StatePending || current.CreditCardID != nil || current.DestinationAccountID != nil {
		return order.ErrConcurrentModification
	}
	m.orders[submitted.ID] = submitted.Clone()
	m.submitted = append(m.submitted, submitted.Clone())
	return nil
}

// Submitted returns every committed submission in commit order.
func (m *Memory) Submitted() []*order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*order.Order, len(m.submitted))
	copy(out, m.submitted)
	return out
}
