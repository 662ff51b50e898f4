package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Memory is an in-process Ledger. It backs tests and single-node runs
// without a database; the balance check and the entry append happen
// under one lock, so concurrent debits can never drive a balance
// negative.
type Memory struct {
	mu       sync.Mutex
	entries  []*Entry
	byRef    map[string]*Entry
	balances map[int64]decimal.Decimal
	nextID   int64
}

func NewMemory() *Memory {
	return &Memory{
		byRef:    make(map[string]*Entry),
		balances: make(map[int64]decimal.Decimal),
	}
}

func (m *Memory) Apply(ctx context.Context, e Entry) (*Entry, error) {
	if err := validate(e); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// replay of a known ref returns the recorded outcome unchanged
	if prev, ok := m.byRef[e.Ref]; ok {
		cp := *prev
		return replayed(&cp)
	}

	m.nextID++
	now := time.Now().UTC()
	e.ID = m.nextID
	e.CreatedAt = now

	if e.Kind.Debit() && m.balances[e.UserID].Add(e.Amount).IsNegative() {
		e.Status = StatusFailed
		stored := e
		m.entries = append(m.entries, &stored)
		m.byRef[e.Ref] = &stored
		cp := stored
		return &cp, ErrInsufficientBalance
	}

	e.Status = StatusCompleted
	e.CompletedAt = &now
	m.balances[e.UserID] = m.balances[e.UserID].Add(e.Amount)
	stored := e
	m.entries = append(m.entries, &stored)
	m.byRef[e.Ref] = &stored
	cp := stored
	return &cp, nil
}

func (m *Memory) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *Memory) Lookup(ctx context.Context, ref string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byRef[ref]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// History returns a user's entries in application order, for audit views.
func (m *Memory) History(ctx context.Context, userID int64) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	return out, nil
}
