package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superlink/voucher-engine/voucher"
	"github.com/superlink/voucher-engine/voucher/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) voucher.TxStore {
		return newTestStore(t)
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	// GIVEN: A file-backed store with one voucher
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vouchers.db")
	store, err := New(path)
	require.NoError(t, err)
	v := storetest.Sample("1", "AAAA2222", 0)
	require.NoError(t, store.Upsert(ctx, v))
	require.NoError(t, store.Close())

	// WHEN: The database is reopened
	reopened, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	// THEN: The voucher is still there, field for field
	got, err := reopened.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, v.Code, got.Code)
	assert.Equal(t, v.Batch, got.Batch)
	assert.Equal(t, "10 Mbps", got.SpeedLimit.String())
	assert.True(t, v.ExpiresAt.Equal(got.ExpiresAt))
}

func TestStore_CheckConstraints(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	v := storetest.Sample("1", "AAAA2222", 0)
	v.DeviceLimit = 0
	assert.Error(t, store.Upsert(ctx, v))

	v = storetest.Sample("2", "BBBB3333", 0)
	v.ExpiresAt = v.CreatedAt
	assert.Error(t, store.Upsert(ctx, v))
}

func TestStore_Ping(t *testing.T) {
	assert.NoError(t, newTestStore(t).Ping(context.Background()))
}

func TestMigrate_IndexesOnlyListOrder(t *testing.T) {
	store := newTestStore(t)

	rows, err := store.db.Query(`SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'vouchers' AND sql IS NOT NULL`)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"idx_vouchers_created_at"}, names)
}
