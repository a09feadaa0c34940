/*
Package sqlite provides a SQLite-backed implementation of voucher.TxStore.

PURPOSE:
  Persists vouchers and retired codes with database/sql and go-sqlite3.
  The same schema runs on PostgreSQL through store/gormstore.

KEY TABLES:
  vouchers:      One row per voucher; code is UNIQUE
  retired_codes: Tombstones for deleted codes (kept for the retention window)

INDEXES:
  - idx_vouchers_status: Status filters and stats
  - idx_vouchers_created_at: Default newest-first listing
  - idx_vouchers_batch: Batch search
  - idx_retired_codes_retired_at: Retention purge

CONCURRENCY:
  SQLite has a single writer. The store keeps one open connection and a
  mutex around transactions, so every query inside WithTx must go through
  the transaction handle (see the querier interface) or it would wait on
  itself.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/vouchers.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine, err := voucher.NewEngine(store, voucher.DefaultConfig())

MIGRATION:
  Schema is auto-migrated on New(). Statements are idempotent.

SEE ALSO:
  - voucher/store.go: Interface definitions
  - voucher/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/superlink/voucher-engine/voucher"
)

// timeLayout is fixed-width UTC so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements voucher.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vouchers (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		batch TEXT,
		validity TEXT NOT NULL,
		speed_limit TEXT NOT NULL,
		device_limit INTEGER NOT NULL CHECK (device_limit >= 1),
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (expires_at > created_at)
	);

	-- Serves List ordering. Status, batch and date filters run in the
	-- engine over effective status, so they have no index.
	DROP INDEX IF EXISTS idx_vouchers_status;
	DROP INDEX IF EXISTS idx_vouchers_batch;
	CREATE INDEX IF NOT EXISTS idx_vouchers_created_at
		ON vouchers(created_at DESC, id);

	-- Deleted codes stay reserved until purged
	CREATE TABLE IF NOT EXISTS retired_codes (
		code TEXT PRIMARY KEY,
		voucher_id TEXT NOT NULL,
		retired_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_retired_codes_retired_at
		ON retired_codes(retired_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// STORE (voucher.Store interface)
// =============================================================================

const voucherColumns = `id, code, status, batch, validity, speed_limit, device_limit, created_at, expires_at`

func (s *Store) Get(ctx context.Context, id string) (voucher.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(ctx, s.db, id)
}

func (s *Store) GetByCode(ctx context.Context, code string) (voucher.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getByCode(ctx, s.db, code)
}

func (s *Store) List(ctx context.Context) ([]voucher.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(ctx, s.db)
}

func (s *Store) Upsert(ctx context.Context, v voucher.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(ctx, s.db, v)
}

// Delete removes a voucher and retires its code atomically.
func (s *Store) Delete(ctx context.Context, id string, retiredAt time.Time) error {
	return s.WithTx(ctx, func(st voucher.Store) error {
		return st.Delete(ctx, id, retiredAt)
	})
}

func (s *Store) CodeExists(ctx context.Context, code string, retiredSince time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codeExists(ctx, s.db, code, retiredSince)
}

// PurgeRetiredCodes drops tombstones retired before the cutoff.
func (s *Store) PurgeRetiredCodes(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM retired_codes WHERE retired_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("failed to purge retired codes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM vouchers; DELETE FROM retired_codes;`)
	return err
}

func (s *Store) get(ctx context.Context, q querier, id string) (voucher.Voucher, error) {
	row := q.QueryRowContext(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id = ?`, id)
	v, err := scanVoucher(row)
	if errors.Is(err, sql.ErrNoRows) {
		return voucher.Voucher{}, &voucher.NotFoundError{ID: id}
	}
	return v, err
}

func (s *Store) getByCode(ctx context.Context, q querier, code string) (voucher.Voucher, error) {
	row := q.QueryRowContext(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE code = ?`, code)
	v, err := scanVoucher(row)
	if errors.Is(err, sql.ErrNoRows) {
		return voucher.Voucher{}, &voucher.NotFoundError{Code: code}
	}
	return v, err
}

func (s *Store) list(ctx context.Context, q querier) ([]voucher.Voucher, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+voucherColumns+` FROM vouchers ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vouchers: %w", err)
	}
	defer rows.Close()

	var result []voucher.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *Store) upsert(ctx context.Context, q querier, v voucher.Voucher) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO vouchers (id, code, status, batch, validity, speed_limit, device_limit, created_at, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			status = excluded.status,
			batch = excluded.batch,
			validity = excluded.validity,
			speed_limit = excluded.speed_limit,
			device_limit = excluded.device_limit,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`,
		v.ID,
		v.Code,
		string(v.Status),
		nullString(v.Batch),
		v.Validity.String(),
		v.SpeedLimit.String(),
		v.DeviceLimit,
		formatTime(v.CreatedAt),
		formatTime(v.ExpiresAt),
		formatTime(time.Now()),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return voucher.ErrDuplicateCode
		}
		return fmt.Errorf("failed to upsert voucher: %w", err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, q querier, id string, retiredAt time.Time) error {
	v, err := s.get(ctx, q, id)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM vouchers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete voucher: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO retired_codes (code, voucher_id, retired_at) VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET voucher_id = excluded.voucher_id, retired_at = excluded.retired_at
	`, v.Code, v.ID, formatTime(retiredAt))
	if err != nil {
		return fmt.Errorf("failed to retire code: %w", err)
	}
	return nil
}

func (s *Store) codeExists(ctx context.Context, q querier, code string, retiredSince time.Time) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM vouchers WHERE code = ?)
		    OR EXISTS(SELECT 1 FROM retired_codes WHERE code = ? AND retired_at >= ?)
	`, code, code, formatTime(retiredSince)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check code: %w", err)
	}
	return exists, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVoucher(row scanner) (voucher.Voucher, error) {
	var (
		v                    voucher.Voucher
		status               string
		batch                sql.NullString
		validity, speed      string
		createdAt, expiresAt string
	)
	if err := row.Scan(&v.ID, &v.Code, &status, &batch, &validity, &speed, &v.DeviceLimit, &createdAt, &expiresAt); err != nil {
		return voucher.Voucher{}, err
	}

	var err error
	if v.Status, err = voucher.ParseStatus(status); err != nil {
		return voucher.Voucher{}, fmt.Errorf("voucher %s: %w", v.ID, err)
	}
	if v.Validity, err = voucher.ParseValidity(validity); err != nil {
		return voucher.Voucher{}, fmt.Errorf("voucher %s: %w", v.ID, err)
	}
	if v.SpeedLimit, err = voucher.ParseSpeedLimit(speed); err != nil {
		return voucher.Voucher{}, fmt.Errorf("voucher %s: %w", v.ID, err)
	}
	if v.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return voucher.Voucher{}, fmt.Errorf("voucher %s: bad created_at: %w", v.ID, err)
	}
	if v.ExpiresAt, err = time.Parse(timeLayout, expiresAt); err != nil {
		return voucher.Voucher{}, fmt.Errorf("voucher %s: bad expires_at: %w", v.ID, err)
	}
	v.Batch = batch.String
	return v, nil
}

// =============================================================================
// TRANSACTIONAL STORE (voucher.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store voucher.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) Get(ctx context.Context, id string) (voucher.Voucher, error) {
	return ts.parent.get(ctx, ts.tx, id)
}

func (ts *txStore) GetByCode(ctx context.Context, code string) (voucher.Voucher, error) {
	return ts.parent.getByCode(ctx, ts.tx, code)
}

func (ts *txStore) List(ctx context.Context) ([]voucher.Voucher, error) {
	return ts.parent.list(ctx, ts.tx)
}

func (ts *txStore) Upsert(ctx context.Context, v voucher.Voucher) error {
	return ts.parent.upsert(ctx, ts.tx, v)
}

func (ts *txStore) Delete(ctx context.Context, id string, retiredAt time.Time) error {
	return ts.parent.delete(ctx, ts.tx, id, retiredAt)
}

func (ts *txStore) CodeExists(ctx context.Context, code string, retiredSince time.Time) (bool, error) {
	return ts.parent.codeExists(ctx, ts.tx, code, retiredSince)
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

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
