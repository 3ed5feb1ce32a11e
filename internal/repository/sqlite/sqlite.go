// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// DRIVER:
// It is a pure Go translation of SQLite. No CGo, no C compiler, and the whole
// database lives in one file next to the binary (or in memory for tests).
//
// DATABASE/SQL OVERVIEW:
//   - sql.DB   - a connection pool (NOT a single connection!)
//   - sql.Tx   - a transaction, pinned to one connection
//   - sql.Rows - multiple result rows (must be closed!)
//
// The handle is opened once by the composition root (internal/server) and
// handed to every repository. Nothing in this package keeps global state.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and hands out per-table repositories.
//
//	db.Markers() → *MarkerDB (repository.MarkerRepository)
//	db.Users()   → *UserDB   (repository.UserRepository)
type DB struct {
	conn *sql.DB

	// now is the clock used for timestamps. Tests replace it to get
	// deterministic createdAt/updatedAt values.
	now func() time.Time
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/markers.db" → file-based database (persistent)
//   - ":memory:"        → in-memory database (tests, lost on close)
//
// DSN PARAMETERS:
// modernc.org/sqlite reads a few options from the query string:
//   - _pragma=busy_timeout(5000) waits for a lock instead of failing with SQLITE_BUSY
//   - _time_format=sqlite writes time.Time as "2006-01-02 15:04:05.999999999-07:00",
//     which sorts correctly as text and scans back into time.Time
//   - _txlock=immediate makes BeginTx issue BEGIN IMMEDIATE. A deferred
//     transaction that reads first and writes later cannot be rescued by
//     busy_timeout: two of them holding read locks deadlock on the upgrade
//     and one fails with SQLITE_BUSY at once. Taking the write lock up front
//     makes the second writer wait its turn instead.
//
// Pragmas given this way run on EVERY new pool connection, not just the first.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Each connection to ":memory:" is its own private database. Pin the pool
	// to a single connection so every query sees the same tables.
	if isMemory(dbPath) {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL mode lets readers proceed while a write is in progress.
	// It is a property of the database file, so once is enough.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn, now: time.Now}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=busy_timeout(5000)&_time_format=sqlite&_txlock=immediate"
}

func isMemory(dbPath string) bool {
	return dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable. Used by /healthz.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Markers returns the marker repository backed by this database.
func (db *DB) Markers() *MarkerDB {
	return &MarkerDB{db: db}
}

// Users returns the user repository backed by this database.
func (db *DB) Users() *UserDB {
	return &UserDB{db: db}
}

// timestamp returns the current time in the form we persist: UTC with
// microsecond precision. UTC() also strips the monotonic clock reading.
func (db *DB) timestamp() time.Time {
	return db.now().UTC().Truncate(time.Microsecond)
}

// migrate runs all database migrations.
//
// CREATE ... IF NOT EXISTS makes every statement idempotent, so migrate runs
// safely on each start-up against an existing file.
func (db *DB) migrate() error {
	// user_id is an opaque owner identifier with no foreign key to users.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS markers (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT,
			latitude    REAL NOT NULL,
			longitude   REAL NOT NULL,
			user_id     TEXT NOT NULL,
			created_at  DATETIME NOT NULL,
			updated_at  DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_markers_user_created ON markers(user_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating markers table: %w", err)
	}

	// login is UNIQUE for local sign-in. github_id is UNIQUE but nullable:
	// SQLite treats every NULL as distinct, so local accounts never collide.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			login         TEXT NOT NULL UNIQUE,
			email         TEXT NOT NULL DEFAULT '',
			avatar_url    TEXT NOT NULL DEFAULT '',
			github_id     INTEGER UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
// The driver's error text is stable across versions: "UNIQUE constraint failed: users.login".
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
