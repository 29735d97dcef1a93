package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sakif/waitlist/internal/apperror"
	"github.com/sakif/waitlist/internal/model"
	"github.com/sakif/waitlist/internal/repository"
)

var _ repository.SignupRepository = (*DB)(nil)

const signupColumns = `signup_id, email, email_hash, position, ip, user_agent, country, referrer, bot_score, created_at`

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// Exists reports whether a signup with this email hash is stored.
func (db *DB) Exists(ctx context.Context, emailHash string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM signups WHERE email_hash = $1)`, emailHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: checking signup: %w", err)
	}
	return exists, nil
}

// Append stores signup if its email hash is new.
//
// The table lock serializes position assignment across instances. ON
// CONFLICT DO NOTHING turns a lost race into zero returned rows.
func (db *DB) Append(ctx context.Context, signup *model.Signup) error {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: beginning append: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `LOCK TABLE signups IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("postgres: locking signups: %w", err)
	}

	var position int
	var createdAt time.Time
	err = tx.QueryRow(ctx, `
		INSERT INTO signups (signup_id, email, email_hash, position, ip, user_agent, country, referrer, bot_score)
		SELECT $1, $2, $3, COUNT(*) + 1, $4, $5, $6, $7, $8 FROM signups
		ON CONFLICT (email_hash) DO NOTHING
		RETURNING position, created_at
	`,
		signup.SignupID,
		signup.Email,
		signup.EmailHash,
		signup.IP,
		signup.UserAgent,
		signup.Country,
		signup.Referrer,
		signup.BotScore,
	).Scan(&position, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.Conflict("signup", signup.EmailHash)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperror.Conflict("signup", signup.EmailHash)
		}
		return fmt.Errorf("postgres: inserting signup: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: committing signup: %w", err)
	}

	signup.Position = position
	signup.CreatedAt = createdAt
	return nil
}

// All returns every signup in insertion order.
func (db *DB) All(ctx context.Context) ([]model.Signup, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+signupColumns+` FROM signups ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing signups: %w", err)
	}
	return collectSignups(rows)
}

// Recent returns up to n signups, newest first.
func (db *DB) Recent(ctx context.Context, n int) ([]model.Signup, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+signupColumns+` FROM signups ORDER BY position DESC LIMIT $1`,
		repository.ClampRecent(n))
	if err != nil {
		return nil, fmt.Errorf("postgres: listing recent signups: %w", err)
	}
	return collectSignups(rows)
}

// Count returns the number of stored signups.
func (db *DB) Count(ctx context.Context) (int, error) {
	var count int
	if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM signups`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: counting signups: %w", err)
	}
	return count, nil
}

// CountSince returns the number of signups created at or after since.
func (db *DB) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM signups WHERE created_at >= $1`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: counting recent signups: %w", err)
	}
	return count, nil
}

func collectSignups(rows pgx.Rows) ([]model.Signup, error) {
	signups, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Signup, error) {
		var s model.Signup
		err := row.Scan(
			&s.SignupID,
			&s.Email,
			&s.EmailHash,
			&s.Position,
			&s.IP,
			&s.UserAgent,
			&s.Country,
			&s.Referrer,
			&s.BotScore,
			&s.CreatedAt,
		)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scanning signups: %w", err)
	}
	if signups == nil {
		signups = []model.Signup{}
	}
	return signups, nil
}
