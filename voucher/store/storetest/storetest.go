// Package storetest holds the behaviour every voucher.TxStore must share.
// Each store package runs it from its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superlink/voucher-engine/voucher"
)

// Base is the creation time of Sample(_, _, 0).
var Base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Sample returns a Pending voucher created n minutes after a fixed instant.
func Sample(id, code string, n int) voucher.Voucher {
	speed, _ := voucher.ParseSpeedLimit("10 Mbps")
	created := Base.Add(time.Duration(n) * time.Minute)
	return voucher.Voucher{
		ID:          id,
		Code:        code,
		Status:      voucher.StatusPending,
		Batch:       "Promo1",
		Validity:    voucher.Days(7),
		SpeedLimit:  speed,
		DeviceLimit: 2,
		CreatedAt:   created,
		ExpiresAt:   created.Add(7 * 24 * time.Hour),
	}
}

// Run exercises newStore against the shared contract. newStore must
// return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) voucher.TxStore) {
	ctx := context.Background()

	t.Run("UpsertAndGet", func(t *testing.T) {
		s := newStore(t)
		v := Sample("1", "AAAA2222", 0)
		require.NoError(t, s.Upsert(ctx, v))

		got, err := s.Get(ctx, "1")
		require.NoError(t, err)
		assertSameVoucher(t, v, got)

		byCode, err := s.GetByCode(ctx, "AAAA2222")
		require.NoError(t, err)
		assert.Equal(t, "1", byCode.ID)

		_, err = s.Get(ctx, "missing")
		assert.True(t, voucher.IsNotFound(err))
		_, err = s.GetByCode(ctx, "ZZZZ9999")
		assert.True(t, voucher.IsNotFound(err))
	})

	t.Run("UpsertReplacesByID", func(t *testing.T) {
		s := newStore(t)
		v := Sample("1", "AAAA2222", 0)
		require.NoError(t, s.Upsert(ctx, v))

		v.Status = voucher.StatusActive
		v.Batch = ""
		v.SpeedLimit = voucher.Unlimited
		require.NoError(t, s.Upsert(ctx, v))

		got, err := s.Get(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, voucher.StatusActive, got.Status)
		assert.Empty(t, got.Batch)
		assert.True(t, got.SpeedLimit.IsUnlimited())
	})

	t.Run("DuplicateCodeRejected", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, Sample("1", "AAAA2222", 0)))

		err := s.Upsert(ctx, Sample("2", "AAAA2222", 1))
		assert.ErrorIs(t, err, voucher.ErrDuplicateCode)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, Sample("1", "AAAA2222", 0)))
		require.NoError(t, s.Upsert(ctx, Sample("2", "BBBB3333", 10)))
		require.NoError(t, s.Upsert(ctx, Sample("3", "CCCC4444", 5)))

		all, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"2", "3", "1"}, []string{all[0].ID, all[1].ID, all[2].ID})
	})

	t.Run("DeleteRetiresCode", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, Sample("1", "AAAA2222", 0)))
		retiredAt := Base.Add(time.Hour)

		require.NoError(t, s.Delete(ctx, "1", retiredAt))
		_, err := s.Get(ctx, "1")
		assert.True(t, voucher.IsNotFound(err))

		taken, err := s.CodeExists(ctx, "AAAA2222", retiredAt.Add(-time.Minute))
		require.NoError(t, err)
		assert.True(t, taken, "retired inside the window")

		taken, err = s.CodeExists(ctx, "AAAA2222", retiredAt.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, taken, "retired before the window")

		err = s.Delete(ctx, "1", retiredAt)
		assert.True(t, voucher.IsNotFound(err))
	})

	t.Run("CodeExistsForLiveVoucher", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, Sample("1", "AAAA2222", 0)))

		taken, err := s.CodeExists(ctx, "AAAA2222", time.Time{})
		require.NoError(t, err)
		assert.True(t, taken)

		taken, err = s.CodeExists(ctx, "BBBB3333", time.Time{})
		require.NoError(t, err)
		assert.False(t, taken)
	})

	t.Run("PurgeRetiredCodes", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, Sample("1", "AAAA2222", 0)))
		require.NoError(t, s.Upsert(ctx, Sample("2", "BBBB3333", 1)))
		require.NoError(t, s.Delete(ctx, "1", Base))
		require.NoError(t, s.Delete(ctx, "2", Base.Add(48*time.Hour)))

		n, err := s.PurgeRetiredCodes(ctx, Base.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		taken, err := s.CodeExists(ctx, "AAAA2222", time.Time{})
		require.NoError(t, err)
		assert.False(t, taken)
		taken, err = s.CodeExists(ctx, "BBBB3333", time.Time{})
		require.NoError(t, err)
		assert.True(t, taken)
	})

	t.Run("WithTxCommits", func(t *testing.T) {
		s := newStore(t)
		err := s.WithTx(ctx, func(tx voucher.Store) error {
			if err := tx.Upsert(ctx, Sample("1", "AAAA2222", 0)); err != nil {
				return err
			}
			got, err := tx.Get(ctx, "1")
			if err != nil {
				return err
			}
			assert.Equal(t, "AAAA2222", got.Code, "writes are visible inside the transaction")
			return tx.Upsert(ctx, Sample("2", "BBBB3333", 1))
		})
		require.NoError(t, err)

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("WithTxRollsBack", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, Sample("1", "AAAA2222", 0)))

		boom := errors.New("boom")
		err := s.WithTx(ctx, func(tx voucher.Store) error {
			v := Sample("1", "AAAA2222", 0)
			v.Status = voucher.StatusActive
			if err := tx.Upsert(ctx, v); err != nil {
				return err
			}
			if err := tx.Upsert(ctx, Sample("2", "BBBB3333", 1)); err != nil {
				return err
			}
			if err := tx.Delete(ctx, "1", Base); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := s.Get(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, voucher.StatusPending, got.Status)
		_, err = s.Get(ctx, "2")
		assert.True(t, voucher.IsNotFound(err))
		taken, err := s.CodeExists(ctx, "BBBB3333", time.Time{})
		require.NoError(t, err)
		assert.False(t, taken)
	})

	t.Run("Reset", func(t *testing.T) {
		s := newStore(t)
		r, ok := s.(voucher.Resetter)
		if !ok {
			t.Skip("store does not implement Resetter")
		}
		require.NoError(t, s.Upsert(ctx, Sample("1", "AAAA2222", 0)))
		require.NoError(t, s.Upsert(ctx, Sample("2", "BBBB3333", 1)))
		require.NoError(t, s.Delete(ctx, "2", Base))

		require.NoError(t, r.Reset(ctx))
		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
		taken, err := s.CodeExists(ctx, "BBBB3333", time.Time{})
		require.NoError(t, err)
		assert.False(t, taken)
	})
}

func assertSameVoucher(t *testing.T, want, got voucher.Voucher) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Code, got.Code)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Batch, got.Batch)
	assert.Equal(t, want.Validity, got.Validity)
	assert.Equal(t, want.SpeedLimit.String(), got.SpeedLimit.String())
	assert.Equal(t, want.DeviceLimit, got.DeviceLimit)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "createdAt %v != %v", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt), "expiresAt %v != %v", want.ExpiresAt, got.ExpiresAt)
}
