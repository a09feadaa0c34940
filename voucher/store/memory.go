// Package store provides in-memory voucher.Store implementations.
package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/superlink/voucher-engine/voucher"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	vouchers map[string]voucher.Voucher
	codes    map[string]string    // code -> voucher ID
	retired  map[string]time.Time // code -> retired at
}

func NewMemory() *Memory {
	return &Memory{
		vouchers: make(map[string]voucher.Voucher),
		codes:    make(map[string]string),
		retired:  make(map[string]time.Time),
	}
}

func (m *Memory) Get(_ context.Context, id string) (voucher.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) GetByCode(_ context.Context, code string) (voucher.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getByCodeLocked(code)
}

// List returns every voucher, newest first.
func (m *Memory) List(_ context.Context) ([]voucher.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(), nil
}

// Upsert inserts or replaces a voucher, keeping codes unique.
func (m *Memory) Upsert(_ context.Context, v voucher.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(v)
}

// Delete removes a voucher and retires its code.
func (m *Memory) Delete(_ context.Context, id string, retiredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id, retiredAt)
}

func (m *Memory) CodeExists(_ context.Context, code string, retiredSince time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.codeExistsLocked(code, retiredSince), nil
}

// PurgeRetiredCodes drops tombstones retired before the cutoff.
func (m *Memory) PurgeRetiredCodes(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for code, at := range m.retired {
		if at.Before(before) {
			delete(m.retired, code)
			n++
		}
	}
	return n, nil
}

// Reset wipes all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vouchers = make(map[string]voucher.Voucher)
	m.codes = make(map[string]string)
	m.retired = make(map[string]time.Time)
	return nil
}

func (m *Memory) getLocked(id string) (voucher.Voucher, error) {
	v, ok := m.vouchers[id]
	if !ok {
		return voucher.Voucher{}, &voucher.NotFoundError{ID: id}
	}
	return v, nil
}

func (m *Memory) getByCodeLocked(code string) (voucher.Voucher, error) {
	id, ok := m.codes[code]
	if !ok {
		return voucher.Voucher{}, &voucher.NotFoundError{Code: code}
	}
	return m.vouchers[id], nil
}

func (m *Memory) listLocked() []voucher.Voucher {
	out := make([]voucher.Voucher, 0, len(m.vouchers))
	for _, v := range m.vouchers {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b voucher.Voucher) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

func (m *Memory) upsertLocked(v voucher.Voucher) error {
	if owner, ok := m.codes[v.Code]; ok && owner != v.ID {
		return voucher.ErrDuplicateCode
	}
	if prev, ok := m.vouchers[v.ID]; ok && prev.Code != v.Code {
		delete(m.codes, prev.Code)
	}
	m.vouchers[v.ID] = v
	m.codes[v.Code] = v.ID
	return nil
}

func (m *Memory) deleteLocked(id string, retiredAt time.Time) error {
	v, ok := m.vouchers[id]
	if !ok {
		return &voucher.NotFoundError{ID: id}
	}
	delete(m.vouchers, id)
	delete(m.codes, v.Code)
	m.retired[v.Code] = retiredAt
	return nil
}

func (m *Memory) codeExistsLocked(code string, retiredSince time.Time) bool {
	if _, ok := m.codes[code]; ok {
		return true
	}
	at, ok := m.retired[code]
	return ok && !at.Before(retiredSince)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(voucher.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	vouchers := make(map[string]voucher.Voucher, len(tm.vouchers))
	for k, v := range tm.vouchers {
		vouchers[k] = v
	}
	codes := make(map[string]string, len(tm.codes))
	for k, v := range tm.codes {
		codes[k] = v
	}
	retired := make(map[string]time.Time, len(tm.retired))
	for k, v := range tm.retired {
		retired[k] = v
	}
	return memorySnapshot{vouchers: vouchers, codes: codes, retired: retired}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.vouchers = s.vouchers
	tm.codes = s.codes
	tm.retired = s.retired
}

type memorySnapshot struct {
	vouchers map[string]voucher.Voucher
	codes    map[string]string
	retired  map[string]time.Time
}

// txMemoryView runs against the parent while WithTx holds its write lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Get(_ context.Context, id string) (voucher.Voucher, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) GetByCode(_ context.Context, code string) (voucher.Voucher, error) {
	return tv.parent.getByCodeLocked(code)
}

func (tv *txMemoryView) List(_ context.Context) ([]voucher.Voucher, error) {
	return tv.parent.listLocked(), nil
}

func (tv *txMemoryView) Upsert(_ context.Context, v voucher.Voucher) error {
	return tv.parent.upsertLocked(v)
}

func (tv *txMemoryView) Delete(_ context.Context, id string, retiredAt time.Time) error {
	return tv.parent.deleteLocked(id, retiredAt)
}

func (tv *txMemoryView) CodeExists(_ context.Context, code string, retiredSince time.Time) (bool, error) {
	return tv.parent.codeExistsLocked(code, retiredSince), nil
}
