// Package limits enforces stake limits on position-taking.
//
// Because an account may hold any number of positions in one market, a single
// whale can otherwise dominate a validation pool and make the outcome signal
// worthless. The limiter caps the single-position size, the aggregate an
// account may stake in one market, and the account's total escrowed exposure
// across all markets.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPositionTooLarge is returned when a single stake exceeds the
	// per-position maximum.
	ErrPositionTooLarge = errors.New("limits: position exceeds per-position maximum")

	// ErrMarketExposureExceeded is returned when an account's aggregate stake
	// in one market would exceed the per-market maximum.
	ErrMarketExposureExceeded = errors.New("limits: per-market exposure limit exceeded")

	// ErrTotalExposureExceeded is returned when an account's total escrowed
	// funds across all markets would exceed the global maximum.
	ErrTotalExposureExceeded = errors.New("limits: total exposure limit exceeded")
)

// StakeLimiter enforces position-size limits. A zero limit disables that
// check.
type StakeLimiter struct {
	// MaxPerPosition is the largest single stake allowed.
	MaxPerPosition decimal.Decimal

	// MaxPerMarket is the largest aggregate stake one account may hold in
	// one market, across all of its positions there.
	MaxPerMarket decimal.Decimal

	// MaxTotalExposure is the largest total escrowed amount one account may
	// hold across all open markets.
	MaxTotalExposure decimal.Decimal
}

// NewStakeLimiter creates a limiter with the given caps.
func NewStakeLimiter(maxPerPosition, maxPerMarket, maxTotalExposure decimal.Decimal) *StakeLimiter {
	return &StakeLimiter{
		MaxPerPosition:   maxPerPosition,
		MaxPerMarket:     maxPerMarket,
		MaxTotalExposure: maxTotalExposure,
	}
}

// Check validates a prospective stake.
//
// Parameters:
//   - amount: the new stake being placed
//   - stakedInMarket: the account's existing aggregate stake in this market
//   - totalEscrowed: the account's current escrowed total across all markets
//
// Returns nil if the stake is within limits, or an error naming the violation.
func (l *StakeLimiter) Check(amount, stakedInMarket, totalEscrowed decimal.Decimal) error {
	if l == nil {
		return nil
	}

	if l.MaxPerPosition.IsPositive() && amount.GreaterThan(l.MaxPerPosition) {
		return ErrPositionTooLarge
	}

	if l.MaxPerMarket.IsPositive() && stakedInMarket.Add(amount).GreaterThan(l.MaxPerMarket) {
		return ErrMarketExposureExceeded
	}

	if l.MaxTotalExposure.IsPositive() && totalEscrowed.Add(amount).GreaterThan(l.MaxTotalExposure) {
		return ErrTotalExposureExceeded
	}

	return nil
}
