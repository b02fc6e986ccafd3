package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/equinox/validation-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	markets   map[string]*model.Market
	positions map[string][]model.Position // marketID → insertion order
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:   make(map[string]*model.Market),
		positions: make(map[string][]model.Position),
	}
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.ID]; exists {
		return ErrDuplicateMarket
	}

	// Store a copy to avoid external mutation.
	copy := *m
	s.markets[m.ID] = &copy
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrMarketNotFound
	}
	copy := *m
	return &copy, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context, filter model.MarketFilter) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if filter.Matches(m) {
			markets = append(markets, *m)
		}
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) TransitionStatus(_ context.Context, id, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return ErrMarketNotFound
	}
	if m.Status != from {
		return ErrStatusConflict
	}
	m.Status = to
	return nil
}

func (s *MemoryStore) FinalizeMarket(_ context.Context, id, outcome string, resolvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return ErrMarketNotFound
	}
	if m.Status != model.StatusPendingResolution {
		return ErrStatusConflict
	}
	m.Status = model.StatusResolved
	m.Outcome = outcome
	t := resolvedAt
	m.ResolvedAt = &t
	return nil
}

func (s *MemoryStore) InsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[p.MarketID]
	if !ok {
		return ErrMarketNotFound
	}
	p.Seq = len(s.positions[p.MarketID]) + 1
	s.positions[p.MarketID] = append(s.positions[p.MarketID], *p)

	// Aggregates move with the record, under the same lock.
	if p.Side == model.SideValid {
		m.StakeValid = m.StakeValid.Add(p.Stake)
	} else {
		m.StakeInvalid = m.StakeInvalid.Add(p.Stake)
	}
	m.PositionCount++
	return nil
}

func (s *MemoryStore) PositionsByMarket(_ context.Context, marketID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.positions[marketID]
	out := make([]model.Position, len(src))
	copy(out, src)
	return out, nil
}

func (s *MemoryStore) AccountStakeInMarket(_ context.Context, marketID, account string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, p := range s.positions[marketID] {
		if p.Account == account {
			total = total.Add(p.Stake)
		}
	}
	return total, nil
}

func (s *MemoryStore) MarkPositionsSettled(_ context.Context, marketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps := s.positions[marketID]
	for i := range ps {
		ps[i].Settled = true
	}
	return nil
}
