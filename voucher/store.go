/*
store.go - Persistence interface for voucher records

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations use SQLite, PostgreSQL (via gorm) or in-memory storage.

KEY INTERFACES:
  Store:    Record access (get, list, upsert, delete, code checks)
  TxStore:  Transactional operations plus retired-code maintenance
  Resetter: Optional wipe, used by demo scenarios
  Locker:   Optional up-front row locking for batches

CODE UNIQUENESS:
  Upsert rejects a code owned by a different voucher with ErrDuplicateCode.
  Delete retires the code: it stays reserved (CodeExists reports it) until
  PurgeRetiredCodes removes the tombstone.

ATOMIC BATCHES:
  WithTx() runs fn against a transactional view. Every write inside fn is
  committed together, or none are. Readers outside the transaction never
  observe a partial batch.

LOCK ORDER:
  Stores that lock rows implement Locker. A batch locks its whole ID set in
  ascending ID order before touching any item, so overlapping batches never
  wait on each other in a cycle.

IMPLEMENTATIONS:
  - voucher/store/memory.go: In-memory for testing and demos
  - store/sqlite/sqlite.go: database/sql + go-sqlite3
  - store/gormstore/gormstore.go: gorm (PostgreSQL in production)

SEE ALSO:
  - engine.go: Uses TxStore for every mutation
*/
package voucher

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interface for voucher persistence
// =============================================================================

// Store handles persistence of vouchers.
type Store interface {
	// Get returns the voucher with the given ID or a NotFoundError.
	Get(ctx context.Context, id string) (Voucher, error)

	// GetByCode returns the voucher owning a normalized code or a NotFoundError.
	GetByCode(ctx context.Context, code string) (Voucher, error)

	// List returns every stored voucher, newest first.
	List(ctx context.Context) ([]Voucher, error)

	// Upsert inserts or replaces a voucher by ID.
	// Returns ErrDuplicateCode if another voucher owns the code.
	Upsert(ctx context.Context, v Voucher) error

	// Delete removes a voucher and retires its code as of retiredAt.
	// Returns a NotFoundError if the ID is unknown.
	Delete(ctx context.Context, id string, retiredAt time.Time) error

	// CodeExists reports whether a live voucher owns code, or the code was
	// retired at or after retiredSince.
	CodeExists(ctx context.Context, code string, retiredSince time.Time) (bool, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// PurgeRetiredCodes drops tombstones retired before the cutoff and
	// returns how many were removed.
	PurgeRetiredCodes(ctx context.Context, before time.Time) (int, error)
}

// Resetter is implemented by stores that can be wiped for demo data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Locker is implemented by transactional views that take row locks.
// LockIDs locks every listed row that exists, in ascending ID order.
// Unknown IDs are ignored.
type Locker interface {
	LockIDs(ctx context.Context, ids []string) error
}
