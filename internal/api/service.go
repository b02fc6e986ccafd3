// Package api exposes the validation market engine over HTTP: market
// creation, position-taking, resolution, balances, and a WebSocket event
// feed for clients tracking live markets.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/equinox/validation-engine/internal/engine"
	"github.com/equinox/validation-engine/internal/ledger"
	"github.com/equinox/validation-engine/internal/limits"
	"github.com/equinox/validation-engine/internal/metrics"
	"github.com/equinox/validation-engine/internal/model"
	"github.com/equinox/validation-engine/internal/paper"
	"github.com/equinox/validation-engine/internal/store"
)

// Service handles HTTP requests against the market engine.
// Pass nil for hub if WebSocket broadcasting is not needed.
type Service struct {
	engine *engine.Engine
	hub    *WSHub
}

// NewService creates a new API service.
func NewService(eng *engine.Engine, hub *WSHub) *Service {
	return &Service{engine: eng, hub: hub}
}

// Routes mounts all handlers on a chi router. Resolve and cancel are
// restricted to the authorized resolver via adminKey; an empty adminKey
// leaves them open (development mode).
func (s *Service) Routes(r chi.Router, adminKey string) {
	r.Get("/markets", s.ListMarkets)
	r.Post("/markets", s.CreateMarket)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/positions", s.ListPositions)
	r.Post("/positions", s.TakePosition)

	r.Group(func(r chi.Router) {
		r.Use(RequireKey(adminKey))
		r.Post("/markets/{marketID}/resolve", s.Resolve)
		r.Post("/markets/{marketID}/cancel", s.Cancel)
	})

	r.Get("/balances/{account}", s.GetBalance)
	r.Post("/balances/{account}/deposit", s.Deposit)
	r.Post("/balances/{account}/withdraw", s.Withdraw)

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Creator        string          `json:"creator"`
	PaperID        string          `json:"paper_id"`
	Question       string          `json:"question"`
	ResolutionDate time.Time       `json:"resolution_date"`
	InitialStake   decimal.Decimal `json:"initial_stake"`
	TieBreak       string          `json:"tie_break,omitempty"`
}

// TakePositionRequest is the JSON body for POST /positions.
type TakePositionRequest struct {
	Account  string          `json:"account"`
	MarketID string          `json:"market_id"`
	Side     string          `json:"side"`
	Stake    decimal.Decimal `json:"stake"`
}

// ResolveRequest is the JSON body for POST /markets/{id}/resolve.
type ResolveRequest struct {
	Outcome string `json:"outcome"`
	Force   bool   `json:"force,omitempty"`
}

// AmountRequest is the JSON body for deposits and withdrawals.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// --- Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Creator == "" {
		writeError(w, "creator is required", http.StatusBadRequest)
		return
	}

	market, err := s.engine.CreateMarket(r.Context(), req.Creator, req.PaperID,
		req.Question, req.ResolutionDate, req.InitialStake, req.TieBreak)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.MarketsTotal.WithLabelValues("created").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(market)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.engine.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(market)
}

// ListMarkets handles GET /api/v1/markets
// Supports ?status=, ?paper_id=, ?creator=, and ?resolves_before= filters.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.MarketFilter{
		Status:  q.Get("status"),
		PaperID: q.Get("paper_id"),
		Creator: q.Get("creator"),
	}
	if v := q.Get("resolves_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "resolves_before must be RFC3339", http.StatusBadRequest)
			return
		}
		filter.ResolvesBefore = &t
	}

	markets, err := s.engine.ListMarkets(r.Context(), filter)
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markets)
}

// ListPositions handles GET /api/v1/markets/{marketID}/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.engine.PositionsFor(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// TakePosition handles POST /api/v1/positions
func (s *Service) TakePosition(w http.ResponseWriter, r *http.Request) {
	var req TakePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}

	position, err := s.engine.TakePosition(r.Context(), req.Account, req.MarketID, req.Side, req.Stake)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.PositionsTotal.WithLabelValues(position.Side).Inc()
	metrics.StakeVolume.WithLabelValues(position.Side).Add(position.Stake.InexactFloat64())

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:     "position_taken",
			MarketID: position.MarketID,
			Account:  position.Account,
			Side:     position.Side,
			Stake:    position.Stake.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(position)
}

// Resolve handles POST /api/v1/markets/{marketID}/resolve
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	summary, err := s.engine.Resolve(r.Context(), marketID, req.Outcome, req.Force)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.MarketsTotal.WithLabelValues("resolved").Inc()
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())
	metrics.PayoutVolume.Add(summary.TotalPool.InexactFloat64())

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:     "market_resolved",
			MarketID: summary.MarketID,
			Outcome:  summary.Outcome,
			Pool:     summary.TotalPool.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// Cancel handles POST /api/v1/markets/{marketID}/cancel
func (s *Service) Cancel(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	if err := s.engine.Cancel(r.Context(), marketID); err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.MarketsTotal.WithLabelValues("cancelled").Inc()

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:     "market_cancelled",
			MarketID: marketID,
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetBalance handles GET /api/v1/balances/{account}
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.engine.BalanceOf(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balance)
}

// Deposit handles POST /api/v1/balances/{account}/deposit
// This is the local stand-in for the external wallet funding capability.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	s.moveFunds(w, r, s.engine.Deposit)
}

// Withdraw handles POST /api/v1/balances/{account}/withdraw
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	s.moveFunds(w, r, s.engine.Withdraw)
}

func (s *Service) moveFunds(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, account string, amount decimal.Decimal) error) {

	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account := chi.URLParam(r, "account")
	if err := op(r.Context(), account, req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}

	balance, err := s.engine.BalanceOf(r.Context(), account)
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balance)
}

// --- Error mapping ---

// writeEngineError maps domain sentinel errors onto HTTP status codes.
// Validation errors → 400; unknown market → 404; stale-state races → 409;
// fund shortfalls → 402.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, store.ErrMarketNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidResolutionDate),
		errors.Is(err, engine.ErrInvalidStake),
		errors.Is(err, engine.ErrInvalidSide),
		errors.Is(err, engine.ErrInvalidTieBreak),
		errors.Is(err, engine.ErrInvalidOutcome),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, paper.ErrInvalidReference),
		errors.Is(err, paper.ErrReferenceTooLong),
		errors.Is(err, paper.ErrQuestionEmpty),
		errors.Is(err, paper.ErrQuestionTooLong):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrMarketNotOpen),
		errors.Is(err, engine.ErrMarketExpired),
		errors.Is(err, engine.ErrAlreadyResolved),
		errors.Is(err, engine.ErrTooEarly),
		errors.Is(err, engine.ErrPositionsExist),
		errors.Is(err, store.ErrDuplicateMarket),
		errors.Is(err, store.ErrStatusConflict),
		errors.Is(err, limits.ErrPositionTooLarge),
		errors.Is(err, limits.ErrMarketExposureExceeded),
		errors.Is(err, limits.ErrTotalExposureExceeded):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrUnknownEscrow):
		status = http.StatusPaymentRequired
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
