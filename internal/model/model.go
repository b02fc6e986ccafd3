// Package model defines the core domain types shared across the validation
// market engine. All monetary values use shopspring/decimal — never float64
// for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position sides. A position stakes on the paper being valid or invalid.
const (
	SideValid   = "VALID"
	SideInvalid = "INVALID"
)

// Market lifecycle states. Resolved and Cancelled are terminal.
const (
	StatusOpen              = "open"
	StatusPendingResolution = "pending_resolution"
	StatusResolved          = "resolved"
	StatusCancelled         = "cancelled"
)

// Resolution outcomes. OutcomeTie is mapped through the market's tie-break
// rule before settlement.
const (
	OutcomeValid   = "VALID"
	OutcomeInvalid = "INVALID"
	OutcomeTie     = "TIE"
)

// Tie-break rules stored on a market at creation.
const (
	TieBreakValid   = "valid"   // a tie settles as VALID
	TieBreakInvalid = "invalid" // a tie settles as INVALID
	TieBreakRefund  = "refund"  // a tie refunds every stake 1:1
)

// Market represents one yes/no research-validation question with an
// associated staking pool and resolution deadline.
//
// Aggregate stake totals mirror the sum of position stakes per side; the
// creator's initial stake is a bond held in escrow, not a position.
type Market struct {
	ID             string          `json:"id" db:"id"`
	PaperID        string          `json:"paper_id" db:"paper_id"`
	Question       string          `json:"question" db:"question"`
	Creator        string          `json:"creator" db:"creator"`
	InitialStake   decimal.Decimal `json:"initial_stake" db:"initial_stake"`
	StakeValid     decimal.Decimal `json:"stake_valid" db:"stake_valid"`
	StakeInvalid   decimal.Decimal `json:"stake_invalid" db:"stake_invalid"`
	PositionCount  int             `json:"position_count" db:"position_count"`
	TieBreak       string          `json:"tie_break" db:"tie_break"`
	Status         string          `json:"status" db:"status"`
	Outcome        string          `json:"outcome,omitempty" db:"outcome"`
	ResolutionDate time.Time       `json:"resolution_date" db:"resolution_date"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// TotalPool returns the aggregate stake across both sides, excluding the
// creator's bond.
func (m *Market) TotalPool() decimal.Decimal {
	return m.StakeValid.Add(m.StakeInvalid)
}

// Terminal reports whether the market can never change state again.
func (m *Market) Terminal() bool {
	return m.Status == StatusResolved || m.Status == StatusCancelled
}

// Position is one account's stake on one side of a market. Immutable once
// recorded, except for the settled flag which is set exactly once at
// resolution. Seq is the per-market insertion order, used to assign the
// settlement remainder deterministically.
type Position struct {
	ID       string          `json:"id" db:"id"`
	MarketID string          `json:"market_id" db:"market_id"`
	Account  string          `json:"account" db:"account"`
	Side     string          `json:"side" db:"side"`
	Stake    decimal.Decimal `json:"stake" db:"stake"`
	Seq      int             `json:"seq" db:"seq"`
	Settled  bool            `json:"settled" db:"settled"`
	PlacedAt time.Time       `json:"placed_at" db:"placed_at"`
}

// Balance is a snapshot of one account's funds: available for staking plus
// the total currently escrowed against open markets.
type Balance struct {
	Account   string          `json:"account"`
	Available decimal.Decimal `json:"available"`
	Escrowed  decimal.Decimal `json:"escrowed"`
}

// Payout records what one account received for one position at settlement.
type Payout struct {
	PositionID string          `json:"position_id"`
	Account    string          `json:"account"`
	Amount     decimal.Decimal `json:"amount"`
	Refund     bool            `json:"refund"` // stake returned 1:1 rather than won
}

// PayoutSummary is the result of resolving a market.
type PayoutSummary struct {
	MarketID    string          `json:"market_id"`
	Outcome     string          `json:"outcome"`
	TotalPool   decimal.Decimal `json:"total_pool"`
	WinningPool decimal.Decimal `json:"winning_pool"`
	Payouts     []Payout        `json:"payouts"`
	BondRefund  decimal.Decimal `json:"bond_refund"` // creator bond returned
}

// MarketFilter narrows listMarkets results. Zero values match everything.
// Filters are applied per call against a fresh snapshot, never a live cursor.
type MarketFilter struct {
	Status         string     `json:"status,omitempty"`
	PaperID        string     `json:"paper_id,omitempty"`
	Creator        string     `json:"creator,omitempty"`
	CreatedAfter   *time.Time `json:"created_after,omitempty"`
	CreatedBefore  *time.Time `json:"created_before,omitempty"`
	ResolvesBefore *time.Time `json:"resolves_before,omitempty"`
}

// Matches reports whether a market passes the filter.
func (f MarketFilter) Matches(m *Market) bool {
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.PaperID != "" && m.PaperID != f.PaperID {
		return false
	}
	if f.Creator != "" && m.Creator != f.Creator {
		return false
	}
	if f.CreatedAfter != nil && !m.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !m.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if f.ResolvesBefore != nil && !m.ResolutionDate.Before(*f.ResolvesBefore) {
		return false
	}
	return true
}

// ValidSide reports whether s is a recognized position side.
func ValidSide(s string) bool {
	return s == SideValid || s == SideInvalid
}

// ValidTieBreak reports whether s is a recognized tie-break rule.
func ValidTieBreak(s string) bool {
	return s == TieBreakValid || s == TieBreakInvalid || s == TieBreakRefund
}
