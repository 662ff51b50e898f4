package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Postgres stores entries in a double-entry style balances table:
// credits land in dr, debits in cr, balance = SUM(dr) - SUM(cr) over
// completed rows. tref carries the idempotency ref and is unique.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the balances table when it does not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS balances (
			id           BIGSERIAL PRIMARY KEY,
			user_id      BIGINT NOT NULL,
			ttype        TEXT NOT NULL,
			dr           NUMERIC(14,2) NOT NULL DEFAULT 0,
			cr           NUMERIC(14,2) NOT NULL DEFAULT 0,
			tref         TEXT NOT NULL UNIQUE,
			status       TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_balances_user ON balances (user_id);
	`)
	if err != nil {
		return fmt.Errorf("ensure balances schema: %w", err)
	}
	return nil
}

func (p *Postgres) Apply(ctx context.Context, e Entry) (*Entry, error) {
	if err := validate(e); err != nil {
		return nil, err
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// replay of a known ref returns the recorded outcome unchanged
	if prev, err := lookupTx(ctx, tx, e.Ref); err != nil {
		return nil, err
	} else if prev != nil {
		return replayed(prev)
	}

	status := StatusCompleted
	if e.Kind.Debit() {
		// lock the user's rows so no concurrent debit interleaves
		var totalDr, totalCr decimal.Decimal
		rows, err := tx.Query(ctx, `
			SELECT dr, cr FROM balances
			WHERE user_id = $1 AND status = 'completed'
			FOR UPDATE
		`, e.UserID)
		if err != nil {
			return nil, fmt.Errorf("lock balance rows: %w", err)
		}
		for rows.Next() {
			var dr, cr decimal.Decimal
			if err := rows.Scan(&dr, &cr); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan balance row: %w", err)
			}
			totalDr = totalDr.Add(dr)
			totalCr = totalCr.Add(cr)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("balance rows: %w", err)
		}

		if totalDr.Sub(totalCr).Add(e.Amount).IsNegative() {
			status = StatusFailed
		}
	}

	var dr, cr decimal.Decimal
	if e.Amount.IsNegative() {
		cr = e.Amount.Neg()
	} else {
		dr = e.Amount
	}

	applied := e
	applied.Status = status
	err = tx.QueryRow(ctx, `
		INSERT INTO balances (user_id, ttype, dr, cr, tref, status, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, CASE WHEN $6 = 'completed' THEN now() END)
		RETURNING id, created_at, completed_at
	`, e.UserID, string(e.Kind), dr, cr, e.Ref, string(status)).Scan(
		&applied.ID, &applied.CreatedAt, &applied.CompletedAt,
	)
	if err != nil {
		// a concurrent Apply with the same ref won the race; surface
		// its outcome instead of failing the caller
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			prev, lerr := p.Lookup(ctx, e.Ref)
			if lerr != nil {
				return nil, lerr
			}
			return replayed(prev)
		}
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	if status == StatusFailed {
		return &applied, ErrInsufficientBalance
	}
	return &applied, nil
}

func (p *Postgres) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var totalDr, totalCr decimal.Decimal
	err := p.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(dr), 0), COALESCE(SUM(cr), 0)
		FROM balances
		WHERE user_id = $1 AND status = 'completed'
	`, userID).Scan(&totalDr, &totalCr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum balance: %w", err)
	}
	return totalDr.Sub(totalCr), nil
}

func (p *Postgres) Lookup(ctx context.Context, ref string) (*Entry, error) {
	return lookupRow(ctx, p.db, ref)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lookupTx(ctx context.Context, tx pgx.Tx, ref string) (*Entry, error) {
	return lookupRow(ctx, tx, ref)
}

func lookupRow(ctx context.Context, q rowQuerier, ref string) (*Entry, error) {
	var (
		e      Entry
		kind   string
		status string
		dr, cr decimal.Decimal
	)
	err := q.QueryRow(ctx, `
		SELECT id, user_id, ttype, dr, cr, tref, status, created_at, completed_at
		FROM balances
		WHERE tref = $1
	`, ref).Scan(&e.ID, &e.UserID, &kind, &dr, &cr, &e.Ref, &status, &e.CreatedAt, &e.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup ledger entry %s: %w", ref, err)
	}
	e.Kind = Kind(kind)
	e.Status = Status(status)
	e.Amount = dr.Sub(cr)
	return &e, nil
}
