// Package settle implements the payout computation for resolved validation
// markets.
//
// The rule is pool-proportional: every winning position receives
//
//	payout_i = stake_i × totalPool / winningPool
//
// truncated toward zero at Scale decimal places. The accumulated truncation
// remainder is credited to the winning position with the lowest sequence
// number, so the distributed total always equals the pool exactly. If nobody
// staked on the winning side, every position is refunded 1:1 instead.
//
// Compute is a pure function over position snapshots; it produces both the
// per-position payouts and the escrow transfer plan that realizes them, so
// the engine applies funds movement without re-deriving any arithmetic.
//
// All monetary values use shopspring/decimal — never float64 for money.
package settle

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/equinox/validation-engine/internal/model"
)

// Scale is the number of decimal places stakes and payouts are carried at.
// Stakes with finer precision are rejected at position time, which keeps
// truncation from ever paying a winner less than its own stake back.
const Scale int32 = 9

var (
	// ErrInvalidOutcome is returned for an outcome other than VALID or INVALID.
	ErrInvalidOutcome = errors.New("settle: outcome must be VALID or INVALID")

	// ErrUnsettledStake is returned when the transfer plan cannot exactly
	// exhaust the losing pool. Indicates corrupted position data.
	ErrUnsettledStake = errors.New("settle: transfer plan does not balance")
)

// Transfer moves amount out of (From, market) escrow into To's available
// balance. From == To is a refund.
type Transfer struct {
	From   string
	To     string
	Amount decimal.Decimal
}

// Plan is the full settlement of one market: what every position receives
// and the escrow releases that deliver it.
type Plan struct {
	Outcome     string
	TotalPool   decimal.Decimal
	WinningPool decimal.Decimal
	Payouts     []model.Payout
	Transfers   []Transfer
}

// ValidStake reports whether a stake amount is positive and representable at
// Scale decimal places. Trailing zeros beyond Scale are fine; any real
// precision beyond it is not.
func ValidStake(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Truncate(Scale).Equal(amount)
}

// Compute settles positions for the given outcome. Positions must be the
// complete set for one market; outcome must already have any tie-break rule
// applied (see Refund for the tie-break refund path).
func Compute(positions []model.Position, outcome string) (*Plan, error) {
	if outcome != model.OutcomeValid && outcome != model.OutcomeInvalid {
		return nil, ErrInvalidOutcome
	}

	ordered := bySeq(positions)

	totalPool := decimal.Zero
	winningPool := decimal.Zero
	for _, p := range ordered {
		totalPool = totalPool.Add(p.Stake)
		if p.Side == outcome {
			winningPool = winningPool.Add(p.Stake)
		}
	}

	// No one picked the outcome: return every stake to its owner rather
	// than paying a pool to nobody or confiscating funds.
	if winningPool.IsZero() {
		plan := refundPlan(ordered)
		plan.Outcome = outcome
		return plan, nil
	}

	plan := &Plan{
		Outcome:     outcome,
		TotalPool:   totalPool,
		WinningPool: winningPool,
	}

	// Truncated proportional payouts, remainder to the first winner.
	var winners, losers []model.Position
	distributed := decimal.Zero
	for _, p := range ordered {
		if p.Side != outcome {
			losers = append(losers, p)
			plan.Payouts = append(plan.Payouts, model.Payout{
				PositionID: p.ID,
				Account:    p.Account,
				Amount:     decimal.Zero,
			})
			continue
		}
		winners = append(winners, p)
		payout, _ := p.Stake.Mul(totalPool).QuoRem(winningPool, Scale)
		distributed = distributed.Add(payout)
		plan.Payouts = append(plan.Payouts, model.Payout{
			PositionID: p.ID,
			Account:    p.Account,
			Amount:     payout,
		})
	}

	remainder := totalPool.Sub(distributed)
	if remainder.IsPositive() {
		for i := range plan.Payouts {
			if plan.Payouts[i].PositionID == winners[0].ID {
				plan.Payouts[i].Amount = plan.Payouts[i].Amount.Add(remainder)
				break
			}
		}
	}

	if err := plan.buildTransfers(winners, losers); err != nil {
		return nil, err
	}
	return plan, nil
}

// Refund produces a 1:1 refund plan for every position. Used when a market's
// tie-break rule is "refund" and the outcome is a tie.
func Refund(positions []model.Position) *Plan {
	plan := refundPlan(bySeq(positions))
	plan.Outcome = model.OutcomeTie
	return plan
}

func refundPlan(ordered []model.Position) *Plan {
	plan := &Plan{
		TotalPool:   decimal.Zero,
		WinningPool: decimal.Zero,
	}
	for _, p := range ordered {
		plan.TotalPool = plan.TotalPool.Add(p.Stake)
		plan.Payouts = append(plan.Payouts, model.Payout{
			PositionID: p.ID,
			Account:    p.Account,
			Amount:     p.Stake,
			Refund:     true,
		})
		plan.Transfers = append(plan.Transfers, Transfer{
			From:   p.Account,
			To:     p.Account,
			Amount: p.Stake,
		})
	}
	return plan
}

// buildTransfers pairs escrow sources against payout sinks. Each winner first
// takes back its own stake, then draws the rest of its payout from losers'
// escrow in sequence order. The losing pool is exhausted exactly.
func (plan *Plan) buildTransfers(winners, losers []model.Position) error {
	payoutByID := make(map[string]decimal.Decimal, len(plan.Payouts))
	for _, p := range plan.Payouts {
		payoutByID[p.PositionID] = p.Amount
	}

	li := 0
	loserLeft := decimal.Zero
	if len(losers) > 0 {
		loserLeft = losers[0].Stake
	}

	for _, w := range winners {
		plan.Transfers = append(plan.Transfers, Transfer{
			From:   w.Account,
			To:     w.Account,
			Amount: w.Stake,
		})

		owed := payoutByID[w.ID].Sub(w.Stake)
		for owed.IsPositive() {
			if li >= len(losers) {
				return ErrUnsettledStake
			}
			take := owed
			if loserLeft.LessThan(take) {
				take = loserLeft
			}
			plan.Transfers = append(plan.Transfers, Transfer{
				From:   losers[li].Account,
				To:     w.Account,
				Amount: take,
			})
			owed = owed.Sub(take)
			loserLeft = loserLeft.Sub(take)
			if loserLeft.IsZero() {
				li++
				if li < len(losers) {
					loserLeft = losers[li].Stake
				}
			}
		}
	}

	// Every loser's stake must have been consumed.
	if li < len(losers) && loserLeft.IsPositive() {
		return ErrUnsettledStake
	}
	return nil
}

func bySeq(positions []model.Position) []model.Position {
	ordered := make([]model.Position, len(positions))
	copy(ordered, positions)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })
	return ordered
}
