// Package payment defines the payment rail the engine moves value through,
// together with an in-memory rail for tests and local deployments.
package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/bitfsorg/libjukebox-go/fault"
	"github.com/bitfsorg/libjukebox-go/record"
)

var (
	// ErrInsufficientFunds indicates the payer cannot cover the transfer.
	ErrInsufficientFunds = fmt.Errorf("payment: insufficient funds: %w", fault.ErrPaymentFailed)

	// ErrRejected indicates the rail refused the transfer.
	ErrRejected = fmt.Errorf("payment: transfer rejected: %w", fault.ErrPaymentFailed)

	// ErrOverflow indicates the payee balance would overflow.
	ErrOverflow = fmt.Errorf("payment: balance overflow: %w", fault.ErrPaymentFailed)
)

// Rail moves value between accounts. Every error it returns must satisfy
// errors.Is(err, fault.ErrPaymentFailed).
type Rail interface {
	Transfer(ctx context.Context, from, to record.Principal, amount uint64) error
}

// Transfer is one completed movement, as recorded by Memory.
type Transfer struct {
	From, To record.Principal
	Amount   uint64
}

// Memory is an in-memory rail holding account balances.
type Memory struct {
	mu       sync.Mutex
	balances map[record.Principal]uint64
	blocked  map[record.Principal]bool
	history  []Transfer
}

// Compile-time interface check.
var _ Rail = (*Memory)(nil)

// NewMemory returns an empty in-memory rail.
func NewMemory() *Memory {
	return &Memory{
		balances: make(map[record.Principal]uint64),
		blocked:  make(map[record.Principal]bool),
	}
}

// Fund credits amount to p out of thin air.
func (m *Memory) Fund(p record.Principal, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[p] += amount
}

// Balance returns the balance of p.
func (m *Memory) Balance(p record.Principal) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[p]
}

// Block makes every transfer to or from p fail until unblocked.
func (m *Memory) Block(p record.Principal, blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if blocked {
		m.blocked[p] = true
	} else {
		delete(m.blocked, p)
	}
}

// History returns the completed transfers in order.
func (m *Memory) History() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transfer(nil), m.history...)
}

// Transfer implements Rail. A zero amount succeeds without effect.
func (m *Memory) Transfer(ctx context.Context, from, to record.Principal, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.blocked[from] || m.blocked[to] {
		return fmt.Errorf("%w: %s -> %s", ErrRejected, from, to)
	}
	if amount == 0 {
		return nil
	}
	if m.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, m.balances[from], amount)
	}
	if from != to && m.balances[to]+amount < m.balances[to] {
		return fmt.Errorf("%w: %s", ErrOverflow, to)
	}
	m.balances[from] -= amount
	m.balances[to] += amount
	m.history = append(m.history, Transfer{From: from, To: to, Amount: amount})
	return nil
}
