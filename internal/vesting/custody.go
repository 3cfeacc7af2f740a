package vesting

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Custody moves the underlying asset into and out of the engine's control.
// Real deployments plug a settlement-network adapter here; failures abort
// the surrounding engine operation as a unit.
type Custody interface {
	Debit(ctx context.Context, from, asset string, amount int64) error
	Credit(ctx context.Context, to, asset string, amount int64) error
}

// ErrInsufficientFunds is returned by the in-memory custody when a debit
// exceeds the holder's balance.
var ErrInsufficientFunds = errors.New("vesting: insufficient funds")

// InMemoryCustody tracks per-holder, per-asset balances in process.
type InMemoryCustody struct {
	mu        sync.Mutex
	balances  map[string]map[string]int64 // holder -> asset -> amount
	overdraft bool
}

// NewInMemoryCustody creates an empty custody ledger. With overdraft
// enabled, debits may drive balances negative (dev/demo mode).
func NewInMemoryCustody(overdraft bool) *InMemoryCustody {
	return &InMemoryCustody{
		balances:  make(map[string]map[string]int64),
		overdraft: overdraft,
	}
}

var _ Custody = (*InMemoryCustody)(nil)

// Fund credits a holder without a counterparty. Test/demo helper.
func (c *InMemoryCustody) Fund(holder, asset string, amount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(holder, asset, amount)
}

// Balance reports the current holding.
func (c *InMemoryCustody) Balance(holder, asset string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[holder][asset]
}

func (c *InMemoryCustody) Debit(ctx context.Context, from, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be > 0, got %d", amount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.overdraft && c.balances[from][asset] < amount {
		return ErrInsufficientFunds
	}
	c.add(from, asset, -amount)
	return nil
}

func (c *InMemoryCustody) Credit(ctx context.Context, to, asset string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be > 0, got %d", amount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(to, asset, amount)
	return nil
}

func (c *InMemoryCustody) add(holder, asset string, delta int64) {
	if c.balances[holder] == nil {
		c.balances[holder] = make(map[string]int64)
	}
	c.balances[holder][asset] += delta
}
