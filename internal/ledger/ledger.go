// Package ledger tracks account balances and escrowed stakes for the
// validation market engine. Funds move between an account's available balance
// and per-market escrow; escrow is released exactly once, at resolution or
// cancellation. All monetary values use shopspring/decimal.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/equinox/validation-engine/internal/model"
)

var (
	// ErrInsufficientFunds is returned when an operation needs more than the
	// account's available balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrUnknownEscrow is returned when a release names an escrow record that
	// does not exist or holds less than the requested amount.
	ErrUnknownEscrow = errors.New("ledger: unknown escrow")

	// ErrInvalidAmount is returned when an amount is zero or negative.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Transfer names one escrow release: amount moves out of (From, market)
// escrow into To's available balance. From == To is a refund.
type Transfer struct {
	From   string
	To     string
	Amount decimal.Decimal
}

// Ledger is the funds interface. The in-memory implementation is the default;
// PostgreSQL backs it when durability is required. Every method is atomic:
// a failed call leaves balances unchanged.
type Ledger interface {
	// Deposit credits an account's available balance. This is the external
	// funding capability (wallet bridge); the engine itself never mints.
	Deposit(ctx context.Context, account string, amount decimal.Decimal) error

	// Withdraw debits an account's available balance.
	Withdraw(ctx context.Context, account string, amount decimal.Decimal) error

	// Escrow moves amount from the account's available balance into escrow
	// against marketID. Fails with ErrInsufficientFunds.
	Escrow(ctx context.Context, account, marketID string, amount decimal.Decimal) error

	// Release removes amount from (account, marketID) escrow and credits the
	// available balance of to — which may differ from account, as payouts
	// move losers' escrow to winners. Fails with ErrUnknownEscrow.
	Release(ctx context.Context, account, marketID string, amount decimal.Decimal, to string) error

	// ReleaseBatch applies a set of releases against one market as a single
	// unit: either every transfer posts or none do. Settlement uses this so
	// a failure mid-plan can never leave a market partially paid out.
	ReleaseBatch(ctx context.Context, marketID string, transfers []Transfer) error

	// BalanceOf returns an (available, escrowed) snapshot. No side effects.
	BalanceOf(ctx context.Context, account string) (model.Balance, error)
}
