package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/equinox/validation-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for market snapshots. Writes go to the primary store and invalidate
// the cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) TransitionStatus(ctx context.Context, id, from, to string) error {
	if err := s.primary.TransitionStatus(ctx, id, from, to); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) FinalizeMarket(ctx context.Context, id, outcome string, resolvedAt time.Time) error {
	if err := s.primary.FinalizeMarket(ctx, id, outcome, resolvedAt); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) InsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.InsertPosition(ctx, p); err != nil {
		return err
	}
	// The insert moved the market's aggregates; next read re-populates.
	s.rdb.Del(ctx, marketKey(p.MarketID))
	return nil
}

func (s *CachedStore) MarkPositionsSettled(ctx context.Context, marketID string) error {
	return s.primary.MarkPositionsSettled(ctx, marketID)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context, filter model.MarketFilter) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx, filter)
}

func (s *CachedStore) PositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	return s.primary.PositionsByMarket(ctx, marketID)
}

func (s *CachedStore) AccountStakeInMarket(ctx context.Context, marketID, account string) (decimal.Decimal, error) {
	return s.primary.AccountStakeInMarket(ctx, marketID, account)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
