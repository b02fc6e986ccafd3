package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/equinox/validation-engine/internal/model"
)

// MemoryLedger implements Ledger with in-memory maps. Used for testing and
// single-instance deployments. Not suitable for production (no persistence).
type MemoryLedger struct {
	mu       sync.RWMutex
	accounts map[string]*accountState
}

type accountState struct {
	available decimal.Decimal
	escrows   map[string]decimal.Decimal // marketID → escrowed amount
}

// NewMemoryLedger creates a new in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[string]*accountState),
	}
}

func (l *MemoryLedger) account(name string) *accountState {
	a, ok := l.accounts[name]
	if !ok {
		a = &accountState{
			available: decimal.Zero,
			escrows:   make(map[string]decimal.Decimal),
		}
		l.accounts[name] = a
	}
	return a
}

func (l *MemoryLedger) Deposit(_ context.Context, account string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.account(account)
	a.available = a.available.Add(amount)
	return nil
}

func (l *MemoryLedger) Withdraw(_ context.Context, account string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.account(account)
	if a.available.LessThan(amount) {
		return ErrInsufficientFunds
	}
	a.available = a.available.Sub(amount)
	return nil
}

func (l *MemoryLedger) Escrow(_ context.Context, account, marketID string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	a := l.account(account)
	if a.available.LessThan(amount) {
		return ErrInsufficientFunds
	}
	a.available = a.available.Sub(amount)
	a.escrows[marketID] = a.escrows[marketID].Add(amount)
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, account, marketID string, amount decimal.Decimal, to string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	from, ok := l.accounts[account]
	if !ok {
		return ErrUnknownEscrow
	}
	held := from.escrows[marketID]
	if held.LessThan(amount) {
		return ErrUnknownEscrow
	}

	remaining := held.Sub(amount)
	if remaining.IsZero() {
		delete(from.escrows, marketID)
	} else {
		from.escrows[marketID] = remaining
	}

	l.account(to).available = l.account(to).available.Add(amount)
	return nil
}

func (l *MemoryLedger) ReleaseBatch(_ context.Context, marketID string, transfers []Transfer) error {
	for _, t := range transfers {
		if t.Amount.LessThanOrEqual(decimal.Zero) {
			return ErrInvalidAmount
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Validate the whole batch against current escrows before moving
	// anything, so a short escrow rejects the batch with no side effects.
	needed := make(map[string]decimal.Decimal)
	for _, t := range transfers {
		needed[t.From] = needed[t.From].Add(t.Amount)
	}
	for from, amount := range needed {
		a, ok := l.accounts[from]
		if !ok || a.escrows[marketID].LessThan(amount) {
			return ErrUnknownEscrow
		}
	}

	for _, t := range transfers {
		from := l.accounts[t.From]
		remaining := from.escrows[marketID].Sub(t.Amount)
		if remaining.IsZero() {
			delete(from.escrows, marketID)
		} else {
			from.escrows[marketID] = remaining
		}
		to := l.account(t.To)
		to.available = to.available.Add(t.Amount)
	}
	return nil
}

func (l *MemoryLedger) BalanceOf(_ context.Context, account string) (model.Balance, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b := model.Balance{
		Account:   account,
		Available: decimal.Zero,
		Escrowed:  decimal.Zero,
	}
	a, ok := l.accounts[account]
	if !ok {
		return b, nil
	}
	b.Available = a.available
	for _, amt := range a.escrows {
		b.Escrowed = b.Escrowed.Add(amt)
	}
	return b, nil
}

// TotalFunds sums available + escrowed across all accounts. Only deposits and
// withdrawals change it; used by tests to check conservation.
func (l *MemoryLedger) TotalFunds() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, a := range l.accounts {
		total = total.Add(a.available)
		for _, amt := range a.escrows {
			total = total.Add(amt)
		}
	}
	return total
}
