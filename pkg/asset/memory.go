package asset

import (
	"context"
	"math"
	"sync"

	"github.com/canopy-network/mutualpool/pkg/pool/types"
)

// Memory is an in-process token with ERC20 semantics, used for development and tests.
type Memory struct {
	mu         sync.Mutex
	balances   map[types.Identity]types.Amount
	allowances map[types.Identity]map[types.Identity]types.Amount
	supply     types.Amount
}

// NewMemory returns a token with the given opening balances.
func NewMemory(balances map[types.Identity]types.Amount) *Memory {
	m := &Memory{
		balances:   make(map[types.Identity]types.Amount, len(balances)),
		allowances: make(map[types.Identity]map[types.Identity]types.Amount),
	}
	for id, amount := range balances {
		m.balances[id] = amount
		m.supply += amount
	}
	return m
}

// Mint credits amount to owner.
func (m *Memory) Mint(owner types.Identity, amount types.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[owner] += amount
	m.supply += amount
}

// TotalSupply returns the sum of all balances.
func (m *Memory) TotalSupply() types.Amount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply
}

func (m *Memory) Approve(_ context.Context, owner, spender types.Identity, amount types.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowances[owner] == nil {
		m.allowances[owner] = make(map[types.Identity]types.Amount)
	}
	m.allowances[owner][spender] = amount
	return nil
}

func (m *Memory) TransferFrom(_ context.Context, spender, from, to types.Identity, amount types.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkBalance(from, amount); err != nil {
		return err
	}
	allowed := m.allowances[from][spender]
	if allowed < amount {
		return types.ErrInsufficientAllowance
	}
	m.move(from, to, amount)
	// an unlimited approval is never consumed
	if amount > 0 && allowed != math.MaxUint64 {
		m.allowances[from][spender] = allowed - amount
	}
	return nil
}

func (m *Memory) Transfer(_ context.Context, from, to types.Identity, amount types.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkBalance(from, amount); err != nil {
		return err
	}
	m.move(from, to, amount)
	return nil
}

func (m *Memory) BalanceOf(_ context.Context, owner types.Identity) (types.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[owner], nil
}

func (m *Memory) Allowance(_ context.Context, owner, spender types.Identity) (types.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowances[owner][spender], nil
}

func (m *Memory) checkBalance(from types.Identity, amount types.Amount) error {
	if m.balances[from] < amount {
		return types.ErrInsufficientBalance
	}
	return nil
}

func (m *Memory) move(from, to types.Identity, amount types.Amount) {
	m.balances[from] -= amount
	m.balances[to] += amount
}
