package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/equinox/validation-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const marketColumns = `id, paper_id, question, creator,
	initial_stake::TEXT, stake_valid::TEXT, stake_invalid::TEXT,
	position_count, tie_break, status, COALESCE(outcome, ''),
	resolution_date, created_at, resolved_at`

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, paper_id, question, creator, initial_stake, stake_valid, stake_invalid,
		                      position_count, tie_break, status, resolution_date, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11, $12)`,
		m.ID, m.PaperID, m.Question, m.Creator,
		m.InitialStake.String(), m.StakeValid.String(), m.StakeInvalid.String(),
		m.PositionCount, m.TieBreak, m.Status, m.ResolutionDate, m.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateMarket
	}
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)

	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context, f model.MarketFilter) ([]model.Market, error) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, cond+"$"+strconv.Itoa(len(args)))
	}

	if f.Status != "" {
		add("status = ", f.Status)
	}
	if f.PaperID != "" {
		add("paper_id = ", f.PaperID)
	}
	if f.Creator != "" {
		add("creator = ", f.Creator)
	}
	if f.CreatedAfter != nil {
		add("created_at > ", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		add("created_at < ", *f.CreatedBefore)
	}
	if f.ResolvesBefore != nil {
		add("resolution_date < ", *f.ResolvesBefore)
	}

	query := `SELECT ` + marketColumns + ` FROM markets`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, id, from, to string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $3 WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing market from a lost status race.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM markets WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrMarketNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

func (s *PostgresStore) FinalizeMarket(ctx context.Context, id, outcome string, resolvedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $2, outcome = $3, resolved_at = $4
		 WHERE id = $1 AND status = $5`,
		id, model.StatusResolved, outcome, resolvedAt, model.StatusPendingResolution,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *PostgresStore) InsertPosition(ctx context.Context, p *model.Position) error {
	// Seq assignment is race-free because the engine holds the per-market
	// lock across position inserts. The insert and the aggregate bump share
	// one transaction so the totals always equal the sum of positions.
	return s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO positions (id, market_id, account, side, stake, seq, settled, placed_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC,
			         (SELECT COALESCE(MAX(seq), 0) + 1 FROM positions WHERE market_id = $2),
			         FALSE, $6)
			 RETURNING seq`,
			p.ID, p.MarketID, p.Account, p.Side, p.Stake.String(), p.PlacedAt,
		).Scan(&p.Seq)
		if err != nil {
			return err
		}

		column := "stake_invalid"
		if p.Side == model.SideValid {
			column = "stake_valid"
		}
		tag, err := tx.Exec(ctx,
			`UPDATE markets SET `+column+` = `+column+` + $2::NUMERIC,
			        position_count = position_count + 1
			 WHERE id = $1`,
			p.MarketID, p.Stake.String(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrMarketNotFound
		}
		return nil
	})
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) PositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, account, side, stake::TEXT, seq, settled, placed_at
		 FROM positions WHERE market_id = $1 ORDER BY seq`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var stakeS string
		if err := rows.Scan(&p.ID, &p.MarketID, &p.Account, &p.Side,
			&stakeS, &p.Seq, &p.Settled, &p.PlacedAt); err != nil {
			return nil, err
		}
		p.Stake, _ = decimal.NewFromString(stakeS)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) AccountStakeInMarket(ctx context.Context, marketID, account string) (decimal.Decimal, error) {
	var totalS string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(stake), 0)::TEXT FROM positions
		 WHERE market_id = $1 AND account = $2`,
		marketID, account,
	).Scan(&totalS)
	if err != nil {
		return decimal.Zero, err
	}
	total, _ := decimal.NewFromString(totalS)
	return total, nil
}

func (s *PostgresStore) MarkPositionsSettled(ctx context.Context, marketID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE positions SET settled = TRUE WHERE market_id = $1`, marketID)
	return err
}

// pgxRow is satisfied by both pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanMarket(row pgxRow) (*model.Market, error) {
	var m model.Market
	var initialS, validS, invalidS string

	err := row.Scan(&m.ID, &m.PaperID, &m.Question, &m.Creator,
		&initialS, &validS, &invalidS,
		&m.PositionCount, &m.TieBreak, &m.Status, &m.Outcome,
		&m.ResolutionDate, &m.CreatedAt, &m.ResolvedAt)
	if err != nil {
		return nil, err
	}

	m.InitialStake, _ = decimal.NewFromString(initialS)
	m.StakeValid, _ = decimal.NewFromString(validS)
	m.StakeInvalid, _ = decimal.NewFromString(invalidS)

	return &m, nil
}
