// Package sqlite implements the repository interfaces and the durable rate
// limiter on top of SQLite.
//
// modernc.org/sqlite is a pure Go port, so the binary needs no C toolchain.
// Use ":memory:" for tests.
package sqlite

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/waitlist.db" → file-based database (persistent)
//   - ":memory:"         → in-memory database, gone on Close
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// One connection serializes writers, so the count-then-insert in Append
	// and the read-modify-write in the rate limiter cannot interleave. It
	// also keeps ":memory:" pointing at a single database.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Other processes sharing the file wait instead of failing with SQLITE_BUSY.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	// The UNIQUE index on email_hash is what makes Append a compare-and-swap.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS signups (
			signup_id  TEXT PRIMARY KEY,
			email      TEXT NOT NULL,
			email_hash TEXT NOT NULL,
			position   INTEGER NOT NULL,
			ip         TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			country    TEXT NOT NULL DEFAULT '',
			referrer   TEXT NOT NULL DEFAULT '',
			bot_score  INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_signups_email_hash ON signups(email_hash);
		CREATE INDEX IF NOT EXISTS idx_signups_position ON signups(position);
	`)
	if err != nil {
		return fmt.Errorf("creating signups table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS rate_limit_attempts (
			client_id    TEXT NOT NULL,
			attempted_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rla_client ON rate_limit_attempts(client_id, attempted_at);

		CREATE TABLE IF NOT EXISTS rate_limit_blocks (
			client_id     TEXT PRIMARY KEY,
			blocked_until INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating rate limit tables: %w", err)
	}

	return nil
}
