// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database — it lives inside your Go binary as a single file.
// No separate database server to install, configure, or manage. Perfect for
// single-server deployments and for tests (use ":memory:" for an in-memory DB).
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code.
//
// DOCUMENTS ON A RELATIONAL ENGINE:
// Users and projects carry list-valued fields (skills, experience,
// technologies). Those are stored as JSON text columns and queried with
// SQLite's built-in json_each() where filtering is needed. Relationships
// that change independently of the owning document (memberships,
// connections, ratings) get their own tables so every invariant can be a
// PRIMARY KEY or UNIQUE constraint instead of application code.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/teamify/internal/repository"
)

// compile-time check that *DB implements the whole repository.Store
var _ repository.Store = (*DB)(nil)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/teamify.db"  → file-based database (persistent)
//   - ":memory:"         → in-memory database (great for tests, lost on close)
//
// ONE CONNECTION:
// PRAGMAs are per-connection and every ":memory:" connection is a separate
// empty database. Capping the pool at one connection keeps both facts from
// biting us; SQLite serialises writers anyway.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
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

// Ping verifies the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS is idempotent, so this runs on every start.
func (db *DB) migrate() error {
	steps := []struct {
		name string
		sql  string
	}{
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				id                   TEXT PRIMARY KEY,
				username             TEXT NOT NULL UNIQUE COLLATE NOCASE,
				email                TEXT NOT NULL UNIQUE COLLATE NOCASE,
				password_hash        TEXT NOT NULL DEFAULT '',
				github_id            INTEGER UNIQUE,
				security_question    TEXT NOT NULL DEFAULT '',
				security_answer_hash TEXT NOT NULL DEFAULT '',
				name                 TEXT NOT NULL DEFAULT '',
				headline             TEXT NOT NULL DEFAULT '',
				bio                  TEXT NOT NULL DEFAULT '',
				location             TEXT NOT NULL DEFAULT '',
				profile_image        TEXT NOT NULL DEFAULT '',
				banner_image         TEXT NOT NULL DEFAULT '',
				skills               TEXT NOT NULL DEFAULT '[]',
				experience           TEXT NOT NULL DEFAULT '[]',
				education            TEXT NOT NULL DEFAULT '[]',
				created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"connections", `
			CREATE TABLE IF NOT EXISTS connections (
				user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				peer_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (user_id, peer_id)
			);`},
		{"projects", `
			CREATE TABLE IF NOT EXISTS projects (
				id              TEXT PRIMARY KEY,
				name            TEXT NOT NULL,
				description     TEXT NOT NULL DEFAULT '',
				technologies    TEXT NOT NULL DEFAULT '[]',
				creator_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				start_date      DATETIME NOT NULL,
				end_date        DATETIME NOT NULL,
				people_required INTEGER NOT NULL DEFAULT 1,
				status          TEXT NOT NULL DEFAULT 'Open',
				is_enabled      INTEGER NOT NULL DEFAULT 1,
				created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_projects_created_at ON projects(created_at);
			CREATE INDEX IF NOT EXISTS idx_projects_creator_id ON projects(creator_id);`},
		// memberships replaces the applicants/selectedApplicants arrays and the
		// user's appliedProject array: one row per (project, user).
		{"memberships", `
			CREATE TABLE IF NOT EXISTS memberships (
				project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				role       TEXT NOT NULL CHECK (role IN ('applicant', 'selected')),
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (project_id, user_id)
			);
			CREATE INDEX IF NOT EXISTS idx_memberships_user_id ON memberships(user_id);`},
		{"ratings", `
			CREATE TABLE IF NOT EXISTS ratings (
				id          TEXT PRIMARY KEY,
				project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				reviewer_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				reviewee_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				type        TEXT NOT NULL DEFAULT 'project_completion',
				value       INTEGER NOT NULL CHECK (value BETWEEN 1 AND 5),
				feedback    TEXT NOT NULL DEFAULT '',
				created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (project_id, reviewer_id, reviewee_id)
			);
			CREATE INDEX IF NOT EXISTS idx_ratings_reviewee_id ON ratings(reviewee_id);`},
		{"notifications", `
			CREATE TABLE IF NOT EXISTS notifications (
				id                 TEXT PRIMARY KEY,
				recipient_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				type               TEXT NOT NULL,
				related_user_id    TEXT NOT NULL DEFAULT '',
				related_project_id TEXT REFERENCES projects(id) ON DELETE SET NULL,
				message            TEXT NOT NULL DEFAULT '',
				read               INTEGER NOT NULL DEFAULT 0,
				dedupe_key         TEXT,
				created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_dedupe ON notifications(dedupe_key)
				WHERE dedupe_key IS NOT NULL;`},
	}

	for _, step := range steps {
		if _, err := db.conn.Exec(step.sql); err != nil {
			return fmt.Errorf("creating %s table: %w", step.name, err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error. Inside fn, use tx for every statement: the pool holds a
// single connection, so touching db.conn would block forever.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY failure.
func isUniqueViolation(err error) bool {
	var sErr *sqlitedrv.Error
	if errors.As(err, &sErr) {
		switch sErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation reports whether err is a FOREIGN KEY failure.
func isForeignKeyViolation(err error) bool {
	var sErr *sqlitedrv.Error
	if errors.As(err, &sErr) && sErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// checkAffected turns "0 rows affected" into the given not-found error.
func checkAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
