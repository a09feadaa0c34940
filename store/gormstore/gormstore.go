/*
Package gormstore provides a gorm-backed implementation of voucher.TxStore.

PURPOSE:
  Production deployments run on PostgreSQL through gorm. The same code runs
  on SQLite (gorm.io/driver/sqlite) for tests and single-node setups.

CONCURRENCY:
  PostgreSQL: rows read inside WithTx are locked with SELECT ... FOR UPDATE,
  and the unique index on code makes the uniqueness check atomic with the
  insert. Lock order rule: a batch locks its whole ID set with one
  SELECT ... WHERE id IN (...) ORDER BY id FOR UPDATE (LockIDs) before any
  per-item read, so overlapping batches given the same IDs in different
  orders queue behind each other instead of deadlocking.
  SQLite: one open connection, so transactions serialize.

SCHEMA:
  Created with AutoMigrate on open. Column names match store/sqlite.
  Only created_at is indexed (List order); filters run in the engine.

SEE ALSO:
  - voucher/store.go: Interface definitions
  - store/sqlite/sqlite.go: database/sql implementation
*/
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/superlink/voucher-engine/voucher"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// =============================================================================
// RECORDS
// =============================================================================

type voucherRecord struct {
	ID          string    `gorm:"primaryKey;size:32"`
	Code        string    `gorm:"size:32;not null;uniqueIndex:idx_vouchers_code"`
	Status      string    `gorm:"size:16;not null"`
	Batch       *string   `gorm:"size:128"`
	Validity    string    `gorm:"size:64;not null"`
	SpeedLimit  string    `gorm:"size:32;not null"`
	DeviceLimit int       `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;index:idx_vouchers_created_at"`
	ExpiresAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time
}

func (voucherRecord) TableName() string { return "vouchers" }

type retiredCodeRecord struct {
	Code      string    `gorm:"primaryKey;size:32"`
	VoucherID string    `gorm:"size:32;not null"`
	RetiredAt time.Time `gorm:"not null;index:idx_retired_codes_retired_at"`
}

func (retiredCodeRecord) TableName() string { return "retired_codes" }

func toRecord(v voucher.Voucher) voucherRecord {
	rec := voucherRecord{
		ID:          v.ID,
		Code:        v.Code,
		Status:      string(v.Status),
		Validity:    v.Validity.String(),
		SpeedLimit:  v.SpeedLimit.String(),
		DeviceLimit: v.DeviceLimit,
		CreatedAt:   v.CreatedAt.UTC(),
		ExpiresAt:   v.ExpiresAt.UTC(),
	}
	if v.Batch != "" {
		b := v.Batch
		rec.Batch = &b
	}
	return rec
}

func (r voucherRecord) toVoucher() (voucher.Voucher, error) {
	v := voucher.Voucher{
		ID:          r.ID,
		Code:        r.Code,
		DeviceLimit: r.DeviceLimit,
		CreatedAt:   r.CreatedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
	}
	if r.Batch != nil {
		v.Batch = *r.Batch
	}

	var err error
	if v.Status, err = voucher.ParseStatus(r.Status); err != nil {
		return voucher.Voucher{}, fmt.Errorf("voucher %s: %w", r.ID, err)
	}
	if v.Validity, err = voucher.ParseValidity(r.Validity); err != nil {
		return voucher.Voucher{}, fmt.Errorf("voucher %s: %w", r.ID, err)
	}
	if v.SpeedLimit, err = voucher.ParseSpeedLimit(r.SpeedLimit); err != nil {
		return voucher.Voucher{}, fmt.Errorf("voucher %s: %w", r.ID, err)
	}
	return v, nil
}

// =============================================================================
// STORE
// =============================================================================

// Store implements voucher.TxStore on a gorm connection.
type Store struct {
	db       *gorm.DB
	lockRows bool
	inTx     bool
}

// OpenPostgres connects to PostgreSQL with a DSN.
func OpenPostgres(dsn string) (*Store, error) {
	return New(postgres.Open(dsn))
}

// OpenSQLite opens a SQLite database through gorm. Use ":memory:" for tests.
func OpenSQLite(path string) (*Store, error) {
	return New(sqlite.Open(path))
}

// New opens the dialector and migrates the schema.
func New(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	isPostgres := db.Dialector.Name() == "postgres"
	if !isPostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&voucherRecord{}, &retiredCodeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db, lockRows: isPostgres}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// scoped returns a session bound to ctx, with row locks inside transactions.
func (s *Store) scoped(ctx context.Context) *gorm.DB {
	db := s.db.WithContext(ctx)
	if s.inTx && s.lockRows {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func (s *Store) Get(ctx context.Context, id string) (voucher.Voucher, error) {
	var rec voucherRecord
	err := s.scoped(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return voucher.Voucher{}, &voucher.NotFoundError{ID: id}
	}
	if err != nil {
		return voucher.Voucher{}, fmt.Errorf("failed to load voucher: %w", err)
	}
	return rec.toVoucher()
}

// LockIDs locks the rows for ids in ascending ID order. Outside a
// PostgreSQL transaction it does nothing.
func (s *Store) LockIDs(ctx context.Context, ids []string) error {
	if !s.inTx || !s.lockRows || len(ids) == 0 {
		return nil
	}
	if err := lockRows(s.scoped(ctx), ids).Error; err != nil {
		return fmt.Errorf("failed to lock vouchers: %w", err)
	}
	return nil
}

// lockRows selects ids FOR UPDATE in ascending ID order.
func lockRows(db *gorm.DB, ids []string) *gorm.DB {
	var locked []string
	return db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Model(&voucherRecord{}).
		Where("id IN ?", ids).
		Order("id ASC").
		Pluck("id", &locked)
}

func (s *Store) GetByCode(ctx context.Context, code string) (voucher.Voucher, error) {
	var rec voucherRecord
	err := s.scoped(ctx).Where("code = ?", code).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return voucher.Voucher{}, &voucher.NotFoundError{Code: code}
	}
	if err != nil {
		return voucher.Voucher{}, fmt.Errorf("failed to load voucher: %w", err)
	}
	return rec.toVoucher()
}

func (s *Store) List(ctx context.Context) ([]voucher.Voucher, error) {
	var recs []voucherRecord
	if err := s.db.WithContext(ctx).Order("created_at DESC").Order("id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list vouchers: %w", err)
	}
	out := make([]voucher.Voucher, 0, len(recs))
	for _, rec := range recs {
		v, err := rec.toVoucher()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) Upsert(ctx context.Context, v voucher.Voucher) error {
	rec := toRecord(v)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		if isDuplicateKey(err) {
			return voucher.ErrDuplicateCode
		}
		return fmt.Errorf("failed to upsert voucher: %w", err)
	}
	return nil
}

// Delete removes a voucher and retires its code atomically.
func (s *Store) Delete(ctx context.Context, id string, retiredAt time.Time) error {
	if !s.inTx {
		return s.WithTx(ctx, func(st voucher.Store) error {
			return st.Delete(ctx, id, retiredAt)
		})
	}

	v, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&voucherRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete voucher: %w", err)
	}
	tomb := retiredCodeRecord{Code: v.Code, VoucherID: v.ID, RetiredAt: retiredAt.UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"voucher_id", "retired_at"}),
	}).Create(&tomb).Error
	if err != nil {
		return fmt.Errorf("failed to retire code: %w", err)
	}
	return nil
}

func (s *Store) CodeExists(ctx context.Context, code string, retiredSince time.Time) (bool, error) {
	db := s.db.WithContext(ctx)

	var live int64
	if err := db.Model(&voucherRecord{}).Where("code = ?", code).Count(&live).Error; err != nil {
		return false, fmt.Errorf("failed to check code: %w", err)
	}
	if live > 0 {
		return true, nil
	}

	var retired int64
	err := db.Model(&retiredCodeRecord{}).
		Where("code = ? AND retired_at >= ?", code, retiredSince.UTC()).
		Count(&retired).Error
	if err != nil {
		return false, fmt.Errorf("failed to check retired code: %w", err)
	}
	return retired > 0, nil
}

// WithTx executes fn inside a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(voucher.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, lockRows: s.lockRows, inTx: true})
	})
}

// PurgeRetiredCodes drops tombstones retired before the cutoff.
func (s *Store) PurgeRetiredCodes(ctx context.Context, before time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("retired_at < ?", before.UTC()).Delete(&retiredCodeRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge retired codes: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&voucherRecord{}).Error; err != nil {
			return err
		}
		return tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&retiredCodeRecord{}).Error
	})
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}
