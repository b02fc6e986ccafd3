package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/equinox/validation-engine/internal/model"
)

// PostgresLedger implements Ledger using PostgreSQL. Balances are stored as
// NUMERIC for exact decimal precision. Conditional UPDATEs make each balance
// mutation atomic per account without application-side locking.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a PostgreSQL-backed ledger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) Deposit(ctx context.Context, account string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO accounts (account, available) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (account) DO UPDATE SET available = accounts.available + $2::NUMERIC`,
		account, amount.String(),
	)
	return err
}

func (l *PostgresLedger) Withdraw(ctx context.Context, account string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	tag, err := l.pool.Exec(ctx,
		`UPDATE accounts SET available = available - $2::NUMERIC
		 WHERE account = $1 AND available >= $2::NUMERIC`,
		account, amount.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

func (l *PostgresLedger) Escrow(ctx context.Context, account, marketID string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	return l.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET available = available - $2::NUMERIC
			 WHERE account = $1 AND available >= $2::NUMERIC`,
			account, amount.String(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrInsufficientFunds
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO escrows (account, market_id, amount) VALUES ($1, $2, $3::NUMERIC)
			 ON CONFLICT (account, market_id) DO UPDATE SET amount = escrows.amount + $3::NUMERIC`,
			account, marketID, amount.String(),
		)
		return err
	})
}

func (l *PostgresLedger) Release(ctx context.Context, account, marketID string, amount decimal.Decimal, to string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	return l.withTx(ctx, func(tx pgx.Tx) error {
		return releaseInTx(ctx, tx, account, marketID, amount, to)
	})
}

// ReleaseBatch runs every release of a settlement plan inside one
// transaction; a failure on any transfer rolls back them all.
func (l *PostgresLedger) ReleaseBatch(ctx context.Context, marketID string, transfers []Transfer) error {
	for _, t := range transfers {
		if t.Amount.LessThanOrEqual(decimal.Zero) {
			return ErrInvalidAmount
		}
	}

	return l.withTx(ctx, func(tx pgx.Tx) error {
		for _, t := range transfers {
			if err := releaseInTx(ctx, tx, t.From, marketID, t.Amount, t.To); err != nil {
				return err
			}
		}
		return nil
	})
}

func releaseInTx(ctx context.Context, tx pgx.Tx, account, marketID string, amount decimal.Decimal, to string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE escrows SET amount = amount - $3::NUMERIC
		 WHERE account = $1 AND market_id = $2 AND amount >= $3::NUMERIC`,
		account, marketID, amount.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownEscrow
	}

	// Drop fully drained escrow rows.
	if _, err := tx.Exec(ctx,
		`DELETE FROM escrows WHERE account = $1 AND market_id = $2 AND amount = 0`,
		account, marketID,
	); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (account, available) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (account) DO UPDATE SET available = accounts.available + $2::NUMERIC`,
		to, amount.String(),
	)
	return err
}

func (l *PostgresLedger) BalanceOf(ctx context.Context, account string) (model.Balance, error) {
	b := model.Balance{
		Account:   account,
		Available: decimal.Zero,
		Escrowed:  decimal.Zero,
	}

	var available, escrowed string
	err := l.pool.QueryRow(ctx,
		`SELECT
			COALESCE((SELECT available FROM accounts WHERE account = $1), 0)::TEXT,
			COALESCE((SELECT SUM(amount) FROM escrows WHERE account = $1), 0)::TEXT`,
		account,
	).Scan(&available, &escrowed)
	if err != nil {
		return b, fmt.Errorf("balance of %s: %w", account, err)
	}

	b.Available, _ = decimal.NewFromString(available)
	b.Escrowed, _ = decimal.NewFromString(escrowed)
	return b, nil
}

func (l *PostgresLedger) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
