package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/waitlist/internal/apperror"
	"github.com/sakif/waitlist/internal/model"
	"github.com/sakif/waitlist/internal/repository"
)

var _ repository.SignupRepository = (*DB)(nil)

const signupColumns = `signup_id, email, email_hash, position, ip, user_agent, country, referrer, bot_score, created_at`

// Exists reports whether a signup with this email hash is stored.
func (db *DB) Exists(ctx context.Context, emailHash string) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx,
		`SELECT 1 FROM signups WHERE email_hash = ? LIMIT 1`, emailHash,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: checking signup: %w", err)
	}
	return true, nil
}

// Append stores signup if its email hash is new.
//
// The existence check, position count and insert share one transaction, and
// the pool holds a single connection, so two racing Appends are serialized.
// The UNIQUE index is the backstop if another process writes the same file.
func (db *DB) Append(ctx context.Context, signup *model.Signup) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning append: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM signups WHERE email_hash = ? LIMIT 1`, signup.EmailHash,
	).Scan(&one)
	switch {
	case err == nil:
		return apperror.Conflict("signup", signup.EmailHash)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("sqlite: checking signup: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM signups`).Scan(&count); err != nil {
		return fmt.Errorf("sqlite: counting signups: %w", err)
	}

	createdAt := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO signups (`+signupColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		signup.SignupID,
		signup.Email,
		signup.EmailHash,
		count+1,
		signup.IP,
		signup.UserAgent,
		signup.Country,
		signup.Referrer,
		signup.BotScore,
		createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("signup", signup.EmailHash)
		}
		return fmt.Errorf("sqlite: inserting signup: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing signup: %w", err)
	}

	signup.Position = count + 1
	signup.CreatedAt = createdAt
	return nil
}

// All returns every signup in insertion order.
func (db *DB) All(ctx context.Context) ([]model.Signup, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+signupColumns+` FROM signups ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing signups: %w", err)
	}
	return scanSignups(rows)
}

// Recent returns up to n signups, newest first.
func (db *DB) Recent(ctx context.Context, n int) ([]model.Signup, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+signupColumns+` FROM signups ORDER BY position DESC LIMIT ?`,
		repository.ClampRecent(n))
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing recent signups: %w", err)
	}
	return scanSignups(rows)
}

// Count returns the number of stored signups.
func (db *DB) Count(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM signups`).Scan(&count); err != nil {
		return 0, fmt.Errorf("sqlite: counting signups: %w", err)
	}
	return count, nil
}

// CountSince returns the number of signups created at or after since.
func (db *DB) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signups WHERE created_at >= ?`, since.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting recent signups: %w", err)
	}
	return count, nil
}

func scanSignups(rows *sql.Rows) ([]model.Signup, error) {
	defer rows.Close()

	signups := []model.Signup{}
	for rows.Next() {
		var s model.Signup
		if err := rows.Scan(
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
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning signup: %w", err)
		}
		signups = append(signups, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating signups: %w", err)
	}
	return signups, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
