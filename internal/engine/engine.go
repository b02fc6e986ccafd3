// Package engine composes the ledger, market registry, position book, and
// settlement math into the externally callable validation market operations.
// It owns invariant enforcement across components: stake is escrowed before a
// position exists, aggregate totals always equal the sum of recorded
// positions, and a market settles exactly once.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/equinox/validation-engine/internal/ledger"
	"github.com/equinox/validation-engine/internal/limits"
	"github.com/equinox/validation-engine/internal/model"
	"github.com/equinox/validation-engine/internal/paper"
	"github.com/equinox/validation-engine/internal/settle"
	"github.com/equinox/validation-engine/internal/store"
)

var (
	// ErrInvalidResolutionDate is returned when a market's resolution date is
	// not strictly in the future.
	ErrInvalidResolutionDate = errors.New("engine: resolution date must be in the future")

	// ErrInvalidStake is returned when a stake is zero, negative, or carries
	// more precision than the settlement scale.
	ErrInvalidStake = errors.New("engine: invalid stake amount")

	// ErrInvalidSide is returned for a position side other than VALID/INVALID.
	ErrInvalidSide = errors.New("engine: side must be VALID or INVALID")

	// ErrInvalidTieBreak is returned for an unrecognized tie-break rule.
	ErrInvalidTieBreak = errors.New("engine: invalid tie-break rule")

	// ErrInvalidOutcome is returned for an unrecognized resolution outcome.
	ErrInvalidOutcome = errors.New("engine: outcome must be VALID, INVALID, or TIE")

	// ErrMarketNotOpen is returned when the market is not accepting positions
	// or cancellation.
	ErrMarketNotOpen = errors.New("engine: market is not open")

	// ErrMarketExpired is returned when a position arrives at or after the
	// market's resolution date.
	ErrMarketExpired = errors.New("engine: market has passed its resolution date")

	// ErrAlreadyResolved is returned when resolution is attempted on a
	// terminal market, or when a concurrent resolver claimed it first.
	ErrAlreadyResolved = errors.New("engine: market already resolved")

	// ErrTooEarly is returned when resolve is called before the resolution
	// date without the authorized-resolver override.
	ErrTooEarly = errors.New("engine: market resolution date not reached")

	// ErrPositionsExist is returned when cancellation is attempted on a
	// market that already has third-party positions.
	ErrPositionsExist = errors.New("engine: market has open positions")
)

// Engine is the validation market facade. Safe for concurrent use; all
// read-then-write access to a single market's state runs under that market's
// lock, while distinct markets proceed in parallel.
type Engine struct {
	store   store.Store
	ledger  ledger.Ledger
	limiter *limits.StakeLimiter
	locks   marketLocks
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source. Used by tests to exercise
// expiry and early-resolution paths deterministically.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLimiter enables stake limits on position-taking.
func WithLimiter(l *limits.StakeLimiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// New creates an engine over the given store and ledger.
func New(st store.Store, lg ledger.Ledger, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		ledger: lg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateMarket validates inputs, escrows the creator's bond, and registers a
// new open market. The bond is refunded 1:1 at resolution or cancellation.
func (e *Engine) CreateMarket(ctx context.Context, creator, paperID, question string,
	resolutionDate time.Time, initialStake decimal.Decimal, tieBreak string) (*model.Market, error) {

	ref, err := paper.ParseReference(paperID)
	if err != nil {
		return nil, err
	}
	if err := paper.ValidateQuestion(question); err != nil {
		return nil, err
	}
	if !settle.ValidStake(initialStake) {
		return nil, ErrInvalidStake
	}
	if tieBreak == "" {
		tieBreak = model.TieBreakRefund
	}
	if !model.ValidTieBreak(tieBreak) {
		return nil, ErrInvalidTieBreak
	}

	now := e.now().UTC()
	if !resolutionDate.After(now) {
		return nil, ErrInvalidResolutionDate
	}

	market := &model.Market{
		ID:             uuid.New().String(),
		PaperID:        ref.ID,
		Question:       question,
		Creator:        creator,
		InitialStake:   initialStake,
		StakeValid:     decimal.Zero,
		StakeInvalid:   decimal.Zero,
		TieBreak:       tieBreak,
		Status:         model.StatusOpen,
		ResolutionDate: resolutionDate.UTC(),
		CreatedAt:      now,
	}

	if err := e.ledger.Escrow(ctx, creator, market.ID, initialStake); err != nil {
		return nil, err
	}

	if err := e.store.CreateMarket(ctx, market); err != nil {
		// Undo the bond escrow so a registry failure has no side effect.
		if rerr := e.ledger.Release(ctx, creator, market.ID, initialStake, creator); rerr != nil {
			slog.Error("bond release after failed create", "market", market.ID, "err", rerr)
		}
		return nil, err
	}

	slog.Info("market created",
		"id", market.ID,
		"paper", ref.ID,
		"creator", creator,
		"bond", initialStake.String(),
		"resolves", market.ResolutionDate,
	)
	return market, nil
}

// TakePosition escrows the stake and records a position. An account may hold
// multiple positions in the same market, even on the same side; each is an
// independent escrow, and opposing positions from one account are never
// netted.
func (e *Engine) TakePosition(ctx context.Context, account, marketID, side string,
	amount decimal.Decimal) (*model.Position, error) {

	if !model.ValidSide(side) {
		return nil, ErrInvalidSide
	}
	if !settle.ValidStake(amount) {
		return nil, ErrInvalidStake
	}

	unlock := e.locks.lock(marketID)
	defer unlock()

	market, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market.Status != model.StatusOpen {
		return nil, ErrMarketNotOpen
	}
	now := e.now().UTC()
	if !now.Before(market.ResolutionDate) {
		return nil, ErrMarketExpired
	}

	if e.limiter != nil {
		staked, err := e.store.AccountStakeInMarket(ctx, marketID, account)
		if err != nil {
			return nil, err
		}
		balance, err := e.ledger.BalanceOf(ctx, account)
		if err != nil {
			return nil, err
		}
		if err := e.limiter.Check(amount, staked, balance.Escrowed); err != nil {
			return nil, err
		}
	}

	if err := e.ledger.Escrow(ctx, account, marketID, amount); err != nil {
		return nil, err
	}

	position := &model.Position{
		ID:       uuid.New().String(),
		MarketID: marketID,
		Account:  account,
		Side:     side,
		Stake:    amount,
		PlacedAt: now,
	}
	// The insert also moves the market's aggregates, atomically; on failure
	// the escrow is returned, so the whole call has no effect.
	if err := e.store.InsertPosition(ctx, position); err != nil {
		if rerr := e.ledger.Release(ctx, account, marketID, amount, account); rerr != nil {
			slog.Error("escrow release after failed insert", "market", marketID, "err", rerr)
		}
		return nil, err
	}

	slog.Info("position taken",
		"position", position.ID,
		"market", marketID,
		"account", account,
		"side", side,
		"stake", amount.String(),
	)
	return position, nil
}

// GetMarket returns a market snapshot.
func (e *Engine) GetMarket(ctx context.Context, marketID string) (*model.Market, error) {
	return e.store.GetMarket(ctx, marketID)
}

// ListMarkets returns market snapshots matching the filter, newest first.
func (e *Engine) ListMarkets(ctx context.Context, filter model.MarketFilter) ([]model.Market, error) {
	return e.store.ListMarkets(ctx, filter)
}

// PositionsFor returns a market's positions in insertion order.
func (e *Engine) PositionsFor(ctx context.Context, marketID string) ([]model.Position, error) {
	if _, err := e.store.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	return e.store.PositionsByMarket(ctx, marketID)
}

// BalanceOf returns an account's (available, escrowed) snapshot.
func (e *Engine) BalanceOf(ctx context.Context, account string) (model.Balance, error) {
	return e.ledger.BalanceOf(ctx, account)
}

// Deposit credits an account from the external funding capability.
func (e *Engine) Deposit(ctx context.Context, account string, amount decimal.Decimal) error {
	return e.ledger.Deposit(ctx, account, amount)
}

// Withdraw debits an account's available balance.
func (e *Engine) Withdraw(ctx context.Context, account string, amount decimal.Decimal) error {
	return e.ledger.Withdraw(ctx, account, amount)
}

// Resolve settles a market. The status transition open→pending_resolution is
// a compare-and-set, so of two concurrent resolvers exactly one proceeds and
// the other fails with ErrAlreadyResolved. All settlement releases, the
// creator's bond included, apply as one ledger batch: either every payout
// posts or none do, and a market left in pending_resolution by a failed
// attempt can be resolved again with no funds moved twice. A TIE outcome is
// mapped through the market's tie-break rule. force bypasses the
// resolution-date check and is reserved for the authorized resolver.
func (e *Engine) Resolve(ctx context.Context, marketID, outcome string, force bool) (*model.PayoutSummary, error) {
	if outcome != model.OutcomeValid && outcome != model.OutcomeInvalid && outcome != model.OutcomeTie {
		return nil, ErrInvalidOutcome
	}

	unlock := e.locks.lock(marketID)
	defer unlock()

	market, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	rerun := market.Status == model.StatusPendingResolution
	if market.Status != model.StatusOpen && !rerun {
		return nil, ErrAlreadyResolved
	}
	if !force && e.now().UTC().Before(market.ResolutionDate) {
		return nil, ErrTooEarly
	}

	// Claim the market. After this point no position can be added and no
	// second resolve can proceed.
	if !rerun {
		if err := e.store.TransitionStatus(ctx, marketID, model.StatusOpen, model.StatusPendingResolution); err != nil {
			if errors.Is(err, store.ErrStatusConflict) {
				return nil, ErrAlreadyResolved
			}
			return nil, err
		}
	}

	positions, err := e.store.PositionsByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("load positions for %s: %w", marketID, err)
	}

	plan, finalOutcome, err := e.settlementPlan(market, positions, outcome)
	if err != nil {
		return nil, err
	}

	// The settled flag records that a prior attempt already posted the
	// batch; a re-run then only has to finalize.
	moved := len(positions) > 0 && positions[0].Settled
	if !moved {
		batch := make([]ledger.Transfer, 0, len(plan.Transfers)+1)
		for _, t := range plan.Transfers {
			batch = append(batch, ledger.Transfer{From: t.From, To: t.To, Amount: t.Amount})
		}
		if market.InitialStake.IsPositive() {
			batch = append(batch, ledger.Transfer{
				From:   market.Creator,
				To:     market.Creator,
				Amount: market.InitialStake,
			})
		}
		if err := e.ledger.ReleaseBatch(ctx, marketID, batch); err != nil {
			// An empty market carries only the bond; on a re-run a missing
			// escrow means the previous attempt already returned it.
			if !(rerun && len(positions) == 0 && errors.Is(err, ledger.ErrUnknownEscrow)) {
				return nil, fmt.Errorf("apply settlement for %s: %w", marketID, err)
			}
		}
		if len(positions) > 0 {
			if err := e.store.MarkPositionsSettled(ctx, marketID); err != nil {
				return nil, err
			}
		}
	}

	resolvedAt := e.now().UTC()
	if err := e.store.FinalizeMarket(ctx, marketID, finalOutcome, resolvedAt); err != nil {
		return nil, err
	}

	summary := &model.PayoutSummary{
		MarketID:    marketID,
		Outcome:     finalOutcome,
		TotalPool:   plan.TotalPool,
		WinningPool: plan.WinningPool,
		Payouts:     plan.Payouts,
		BondRefund:  market.InitialStake,
	}

	slog.Info("market resolved",
		"market", marketID,
		"outcome", finalOutcome,
		"pool", plan.TotalPool.String(),
		"winning_pool", plan.WinningPool.String(),
		"payouts", len(plan.Payouts),
	)
	return summary, nil
}

// Cancel tears down an open market with no positions, refunding the creator's
// bond. Permitted only while no third-party stake is at risk.
func (e *Engine) Cancel(ctx context.Context, marketID string) error {
	unlock := e.locks.lock(marketID)
	defer unlock()

	market, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return err
	}
	if market.Status != model.StatusOpen {
		return ErrMarketNotOpen
	}
	if market.PositionCount > 0 {
		return ErrPositionsExist
	}

	if err := e.store.TransitionStatus(ctx, marketID, model.StatusOpen, model.StatusCancelled); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return ErrMarketNotOpen
		}
		return err
	}

	if market.InitialStake.IsPositive() {
		if err := e.ledger.Release(ctx, market.Creator, marketID, market.InitialStake, market.Creator); err != nil {
			return fmt.Errorf("release bond for %s: %w", marketID, err)
		}
	}

	slog.Info("market cancelled", "market", marketID, "creator", market.Creator)
	return nil
}

// settlementPlan maps a TIE through the tie-break rule and computes payouts.
func (e *Engine) settlementPlan(market *model.Market, positions []model.Position,
	outcome string) (*settle.Plan, string, error) {

	if outcome == model.OutcomeTie {
		switch market.TieBreak {
		case model.TieBreakValid:
			outcome = model.OutcomeValid
		case model.TieBreakInvalid:
			outcome = model.OutcomeInvalid
		default:
			return settle.Refund(positions), model.OutcomeTie, nil
		}
	}

	plan, err := settle.Compute(positions, outcome)
	if err != nil {
		return nil, "", err
	}
	return plan, outcome, nil
}

