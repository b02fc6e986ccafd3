// Package store defines the persistence interface for the market registry
// and position book. Implementations include PostgreSQL (source of truth),
// Redis (read-through cache), and in-memory (for testing and
// single-instance deployments).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/equinox/validation-engine/internal/model"
)

var (
	// ErrMarketNotFound is returned when a market id is unknown.
	ErrMarketNotFound = errors.New("store: market not found")

	// ErrDuplicateMarket is returned when a market id collides on creation.
	ErrDuplicateMarket = errors.New("store: duplicate market id")

	// ErrStatusConflict is returned when a status transition's expected
	// current status does not match, i.e. another caller got there first.
	ErrStatusConflict = errors.New("store: market status conflict")
)

// Store is the persistence interface. Snapshots returned by reads are copies;
// mutating them does not affect stored state.
type Store interface {
	// --- Market registry ---

	// CreateMarket persists a new market. Fails with ErrDuplicateMarket on
	// id collision.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market snapshot by id.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns market snapshots matching the filter, newest first.
	// Recomputed per call, never a live cursor.
	ListMarkets(ctx context.Context, filter model.MarketFilter) ([]model.Market, error)

	// TransitionStatus atomically moves a market from one status to another.
	// Fails with ErrStatusConflict if the market is not in the expected
	// status — this compare-and-set guards against double resolution.
	TransitionStatus(ctx context.Context, id, from, to string) error

	// FinalizeMarket records the outcome and resolution time for a market
	// in pending_resolution and moves it to resolved.
	FinalizeMarket(ctx context.Context, id, outcome string, resolvedAt time.Time) error

	// --- Position book ---

	// InsertPosition appends a position record, assigning the per-market
	// sequence number on the passed struct, and updates the market's
	// aggregate stake and position count in the same atomic step. The
	// aggregates therefore always equal the sum of recorded positions,
	// even when the insert fails.
	InsertPosition(ctx context.Context, p *model.Position) error

	// PositionsByMarket returns all positions for a market in insertion order.
	PositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error)

	// AccountStakeInMarket returns the aggregate amount an account has staked
	// across its positions in one market.
	AccountStakeInMarket(ctx context.Context, marketID, account string) (decimal.Decimal, error)

	// MarkPositionsSettled sets the settled flag on every position of a
	// market. Called exactly once, at resolution.
	MarkPositionsSettled(ctx context.Context, marketID string) error
}
