/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces (Store, TxStore, OutboxStore)
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.Store:       Users, registry, bookings, invoices, switches, history,
                       fee versions, outbox append
  generic.TxStore:     WithTx over *sql.Tx
  generic.OutboxStore: Relay side of the outbox

APPEND-ONLY ENFORCEMENT:
  Switch history tables are only ever INSERTed into and SELECTed from.

KEY TABLES:
  resources:       Bookable units with the is_booked flag
  bookings:        One row per booking, any status
  invoices:        One row per (booking, month); number is unique
  *_switches:      Switch requests
  *_switch_history: Terminal transitions of switch requests
  fee_versions:    Fee config by effective date, tiers as JSON
  outbox:          Events committed with the change they announce

INDEXES:
  - idx_bookings_resource_status: occupancy checks (hot path)
  - idx_bookings_student_kind: one-active-per-kind checks
  - idx_invoices_booking_month: unique, duplicate invoice guard
  - idx_outbox_pending: relay scan

CONCURRENCY:
  The pool is capped at one connection: SQLite has a single writer, and an
  in-memory database exists per connection. Code running inside WithTx must
  use the Store passed to it; the outer Store waits for the connection.

USAGE:
  store, err := sqlite.New("./data/allocation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := generic.NewEngine(&generic.Runtime{Store: store}, nil)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/allocation-engine/generic"
)

var (
	_ generic.TxStore     = (*Store)(nil)
	_ generic.OutboxStore = (*Store)(nil)
	_ generic.Store       = (*queries)(nil)
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	*queries
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := NewWithDB(db)
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an open handle without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{queries: &queries{q: db}, db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS resource_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		label TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (kind, label)
	);

	CREATE TABLE IF NOT EXISTS resources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		group_id INTEGER REFERENCES resource_groups(id),
		label TEXT NOT NULL,
		is_booked INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_resources_kind ON resources(kind);

	CREATE TABLE IF NOT EXISTS bookings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		student_id INTEGER NOT NULL,
		resource_id INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		status TEXT NOT NULL,
		approved_by INTEGER,
		approved_at TEXT,
		monthly_fee TEXT NOT NULL,
		deposit TEXT NOT NULL,
		id_doc_front TEXT,
		id_doc_back TEXT,
		purpose TEXT,
		remarks TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_resource_status
		ON bookings(resource_id, status);
	CREATE INDEX IF NOT EXISTS idx_bookings_student_kind
		ON bookings(student_id, kind, status);

	CREATE TABLE IF NOT EXISTS invoices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		booking_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		student_id INTEGER NOT NULL,
		number TEXT NOT NULL UNIQUE,
		month TEXT NOT NULL,
		amount TEXT NOT NULL,
		deposit TEXT NOT NULL,
		total TEXT NOT NULL,
		is_paid INTEGER NOT NULL DEFAULT 0,
		paid_at TEXT,
		expired INTEGER NOT NULL DEFAULT 0,
		generated_on TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_booking_month
		ON invoices(booking_id, month);

	CREATE TABLE IF NOT EXISTS available_switches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		booking_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		target_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		remarks TEXT,
		approved_by INTEGER,
		approved_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mutual_switches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		booking_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		partner_booking_id INTEGER,
		status TEXT NOT NULL,
		remarks TEXT,
		approved_by INTEGER,
		approved_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_available_switches_student
		ON available_switches(student_id, kind, status);
	CREATE INDEX IF NOT EXISTS idx_mutual_switches_student
		ON mutual_switches(student_id, kind, status);

	-- History is append-only
	CREATE TABLE IF NOT EXISTS available_switch_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		request_id INTEGER NOT NULL,
		booking_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		from_resource INTEGER NOT NULL,
		to_resource INTEGER NOT NULL,
		action TEXT NOT NULL,
		actor_id INTEGER NOT NULL,
		remarks TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mutual_switch_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		request_a INTEGER NOT NULL,
		request_b INTEGER,
		booking_a INTEGER NOT NULL,
		booking_b INTEGER,
		student_a INTEGER NOT NULL,
		student_b INTEGER,
		from_a INTEGER NOT NULL,
		to_a INTEGER NOT NULL,
		from_b INTEGER,
		to_b INTEGER,
		action TEXT NOT NULL,
		actor_id INTEGER NOT NULL,
		remarks TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fee_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		monthly_fee TEXT NOT NULL,
		deposit TEXT NOT NULL,
		tiers_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (kind, effective_from)
	);

	CREATE TABLE IF NOT EXISTS outbox (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		type TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		delivered_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_pending
		ON outbox(created_at) WHERE delivered_at IS NULL;
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Reset deletes every row. Used by the demo seeder.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tables := []string{
		"outbox", "fee_versions", "mutual_switch_history", "available_switch_history",
		"mutual_switches", "available_switches", "invoices", "bookings",
		"resources", "resource_groups", "users",
	}
	for _, t := range tables {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("failed to reset %s: %w", t, err)
		}
	}
	return sqlTx.Commit()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
