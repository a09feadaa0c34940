package voucher_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superlink/voucher-engine/voucher"
	memstore "github.com/superlink/voucher-engine/voucher/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []voucher.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev voucher.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) types() []voucher.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]voucher.EventType, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Type
	}
	return out
}

func newEngine(t *testing.T, cfg voucher.Config) (*voucher.Engine, *memstore.TxMemory, *recordingNotifier) {
	t.Helper()
	store := memstore.NewTxMemory()
	n := &recordingNotifier{}
	e, err := voucher.NewEngine(store, cfg,
		voucher.WithClock(func() time.Time { return now }),
		voucher.WithNotifier(n),
	)
	require.NoError(t, err)
	return e, store, n
}

func generate(t *testing.T, e *voucher.Engine, count int, batch string) []voucher.Voucher {
	t.Helper()
	vs, err := e.Generate(context.Background(), voucher.GenerateOptions{
		Count:       count,
		Validity:    voucher.Days(7),
		DeviceLimit: 1,
		Batch:       batch,
	})
	require.NoError(t, err)
	return vs
}

func idsOf(vs []voucher.Voucher) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}

// =============================================================================
// GENERATE
// =============================================================================

func TestGenerate_CreatesPendingVouchers(t *testing.T) {
	// GIVEN: An empty engine
	e, _, n := newEngine(t, voucher.Config{})
	ctx := context.Background()
	before, err := e.Stats(ctx)
	require.NoError(t, err)

	// WHEN: 10 vouchers are generated in batch Promo1 with 7 days validity
	vs := generate(t, e, 10, "Promo1")

	// THEN: 10 distinct Pending vouchers expiring 7 days after creation
	require.Len(t, vs, 10)
	codes := map[string]bool{}
	for _, v := range vs {
		assert.Equal(t, voucher.StatusPending, v.Status)
		assert.Equal(t, "Promo1", v.Batch)
		assert.Equal(t, now, v.CreatedAt)
		assert.Equal(t, now.Add(7*24*time.Hour), v.ExpiresAt)
		assert.False(t, codes[v.Code], "duplicate code %s", v.Code)
		codes[v.Code] = true
	}

	after, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Total+10, after.Total)
	assert.Equal(t, before.Pending+10, after.Pending)
	assert.Equal(t, []voucher.EventType{voucher.EventGenerated}, n.types())
}

func TestGenerate_ExplicitExpiration(t *testing.T) {
	e, _, _ := newEngine(t, voucher.Config{})
	exp := now.Add(36 * time.Hour)

	vs, err := e.Generate(context.Background(), voucher.GenerateOptions{Count: 2, ExpiresAt: &exp, DeviceLimit: 2})
	require.NoError(t, err)
	for _, v := range vs {
		assert.Equal(t, exp, v.ExpiresAt)
		assert.Equal(t, "36h", v.Validity.String())
		assert.Empty(t, v.Batch)
	}
}

func TestGenerate_Validation(t *testing.T) {
	e, store, _ := newEngine(t, voucher.Config{MaxBatchSize: 50})
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		opts voucher.GenerateOptions
	}{
		{"zero count", voucher.GenerateOptions{Count: 0, Validity: voucher.Days(1), DeviceLimit: 1}},
		{"over max batch", voucher.GenerateOptions{Count: 51, Validity: voucher.Days(1), DeviceLimit: 1}},
		{"no validity or expiration", voucher.GenerateOptions{Count: 1, DeviceLimit: 1}},
		{"zero device limit", voucher.GenerateOptions{Count: 1, Validity: voucher.Days(1)}},
		{"expiration in the past", voucher.GenerateOptions{Count: 1, ExpiresAt: &past, DeviceLimit: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Generate(context.Background(), tt.opts)
			assert.True(t, voucher.IsClientError(err), "got %v", err)
		})
	}

	all, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all, "rejected requests create nothing")
}

func TestGenerate_CodeSpaceExhaustedKeepsMinted(t *testing.T) {
	// GIVEN: A code space of 16 codes
	e, store, _ := newEngine(t, voucher.Config{CodeAlphabet: "AB", CodeLength: 4, CodeMaxAttempts: 64})

	// WHEN: 20 are requested
	vs, err := e.Generate(context.Background(), voucher.GenerateOptions{Count: 20, Validity: voucher.Days(1), DeviceLimit: 1})

	// THEN: A conflict is reported and the minted vouchers are committed
	var conflict *voucher.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, voucher.IsConflict(err))
	assert.NotEmpty(t, vs)

	all, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, len(vs))
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestApply_ActivateSuspendArchive(t *testing.T) {
	// GIVEN: One generated voucher
	e, _, _ := newEngine(t, voucher.Config{})
	ctx := context.Background()
	v := generate(t, e, 1, "")[0]

	// WHEN: Activate, Suspend, Archive run in sequence
	for _, op := range []voucher.Operation{voucher.OpActivate, voucher.OpSuspend, voucher.OpArchive} {
		res, err := e.Apply(ctx, op, []string{v.ID})
		require.NoError(t, err)
		require.Equal(t, 1, res.Succeeded, op)
	}

	// THEN: The voucher is Archived
	got, err := e.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, voucher.StatusArchived, got.Status)

	// AND: Activating it again fails per item with an invalid transition
	res, err := e.Apply(ctx, voucher.OpActivate, []string{v.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Items, 1)
	assert.ErrorIs(t, res.Items[0].Err, voucher.ErrInvalidTransition)
	assert.Equal(t, "Failed to activate 1 voucher(s).", res.Summary())
}

func TestApply_PartialFailure(t *testing.T) {
	// GIVEN: Two Active vouchers and one Pending
	e, _, n := newEngine(t, voucher.Config{})
	ctx := context.Background()
	vs := generate(t, e, 3, "Lobby")
	_, err := e.Apply(ctx, voucher.OpActivate, []string{vs[0].ID, vs[1].ID})
	require.NoError(t, err)

	// WHEN: All three plus an unknown ID are suspended
	res, err := e.Apply(ctx, voucher.OpSuspend, []string{vs[0].ID, "missing", vs[1].ID, vs[2].ID, vs[0].ID})
	require.NoError(t, err)

	// THEN: Results follow input order with duplicates collapsed
	require.Len(t, res.Items, 4)
	assert.Equal(t, []string{vs[0].ID, "missing", vs[1].ID, vs[2].ID},
		[]string{res.Items[0].ID, res.Items[1].ID, res.Items[2].ID, res.Items[3].ID})
	assert.True(t, voucher.IsNotFound(res.Items[1].Err))
	assert.ErrorIs(t, res.Items[3].Err, voucher.ErrInvalidTransition)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, "Successfully suspended 2 voucher(s). 2 failed.", res.Summary())

	// AND: The Pending voucher is untouched
	got, err := e.Get(ctx, vs[2].ID)
	require.NoError(t, err)
	assert.Equal(t, voucher.StatusPending, got.Status)
	assert.Contains(t, n.types(), voucher.EventSuspended)
}

func TestApply_IdempotentActivate(t *testing.T) {
	e, _, n := newEngine(t, voucher.Config{})
	ctx := context.Background()
	v := generate(t, e, 1, "")[0]

	_, err := e.Apply(ctx, voucher.OpActivate, []string{v.ID})
	require.NoError(t, err)
	first, err := e.Get(ctx, v.ID)
	require.NoError(t, err)
	eventsBefore := len(n.types())

	res, err := e.Apply(ctx, voucher.OpActivate, []string{v.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 0, res.Changed)

	second, err := e.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, n.types(), eventsBefore, "no-op batches send no notification")
}

func TestApply_InputErrors(t *testing.T) {
	e, _, _ := newEngine(t, voucher.Config{})
	ctx := context.Background()

	_, err := e.Apply(ctx, voucher.OpSuspend, nil)
	assert.True(t, voucher.IsClientError(err))

	_, err = e.Apply(ctx, voucher.OpSuspend, []string{"a", " "})
	assert.True(t, voucher.IsClientError(err))

	_, err = e.Apply(ctx, voucher.OpDelete, []string{"a"})
	assert.True(t, voucher.IsClientError(err), "delete goes through Engine.Delete")
}

func TestApply_ConcurrentOverlappingSuspend(t *testing.T) {
	// GIVEN: Five Active vouchers
	e, _, _ := newEngine(t, voucher.Config{})
	ctx := context.Background()
	vs := generate(t, e, 5, "")
	ids := idsOf(vs)
	_, err := e.Apply(ctx, voucher.OpActivate, ids)
	require.NoError(t, err)

	// WHEN: Two suspend batches overlapping on ids[2] run concurrently
	var wg sync.WaitGroup
	results := make([]voucher.BatchResult, 2)
	errs := make([]error, 2)
	for i, set := range [][]string{ids[:3], ids[2:]} {
		wg.Add(1)
		go func(i int, set []string) {
			defer wg.Done()
			results[i], errs[i] = e.Apply(ctx, voucher.OpSuspend, set)
		}(i, set)
	}
	wg.Wait()

	// THEN: Both succeed and every voucher ends Suspended
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, 0, results[i].Failed)
	}
	for _, id := range ids {
		got, err := e.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, voucher.StatusSuspended, got.Status)
	}
	assert.Equal(t, 5, results[0].Changed+results[1].Changed, "the shared voucher changes exactly once")
}

// lockingStore wraps TxMemory with a transactional view that records
// LockIDs and Get calls in order.
type lockingStore struct {
	*memstore.TxMemory
	mu    sync.Mutex
	calls []string
	locks [][]string
}

func (s *lockingStore) WithTx(ctx context.Context, fn func(voucher.Store) error) error {
	return s.TxMemory.WithTx(ctx, func(tx voucher.Store) error {
		return fn(&lockingView{Store: tx, parent: s})
	})
}

func (s *lockingStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

type lockingView struct {
	voucher.Store
	parent *lockingStore
}

func (v *lockingView) LockIDs(_ context.Context, ids []string) error {
	v.parent.record("lock")
	v.parent.mu.Lock()
	defer v.parent.mu.Unlock()
	v.parent.locks = append(v.parent.locks, slices.Clone(ids))
	return nil
}

func (v *lockingView) Get(ctx context.Context, id string) (voucher.Voucher, error) {
	v.parent.record("get " + id)
	return v.Store.Get(ctx, id)
}

func TestApply_LocksWholeSetInIDOrder(t *testing.T) {
	// GIVEN: An engine on a store that takes row locks
	store := &lockingStore{TxMemory: memstore.NewTxMemory()}
	e, err := voucher.NewEngine(store, voucher.Config{}, voucher.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	ctx := context.Background()
	ids := idsOf(generate(t, e, 4, ""))
	slices.Reverse(ids)
	store.calls, store.locks = nil, nil

	// WHEN: A batch lists the IDs in descending order
	res, err := e.Apply(ctx, voucher.OpActivate, ids)
	require.NoError(t, err)

	// THEN: The whole set is locked once, sorted, before any item is read
	require.Len(t, store.locks, 1)
	assert.Equal(t, slices.Sorted(slices.Values(ids)), store.locks[0])
	assert.Equal(t, "lock", store.calls[0])
	assert.Len(t, store.calls, 1+len(ids))

	// AND: Results still follow input order
	got := make([]string, len(res.Items))
	for i, item := range res.Items {
		got[i] = item.ID
	}
	assert.Equal(t, ids, got)
}

func TestApply_ConcurrentReversedBatches(t *testing.T) {
	// GIVEN: Four Active vouchers
	e, _, _ := newEngine(t, voucher.Config{})
	ctx := context.Background()
	ids := idsOf(generate(t, e, 4, ""))
	_, err := e.Apply(ctx, voucher.OpActivate, ids)
	require.NoError(t, err)
	reversed := slices.Clone(ids)
	slices.Reverse(reversed)

	// WHEN: The same set is suspended twice concurrently, in opposite orders
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, set := range [][]string{ids, reversed} {
		wg.Add(1)
		go func(i int, set []string) {
			defer wg.Done()
			_, errs[i] = e.Apply(ctx, voucher.OpSuspend, set)
		}(i, set)
	}
	wg.Wait()

	// THEN: Both calls succeed
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	for _, id := range ids {
		got, err := e.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, voucher.StatusSuspended, got.Status)
	}
}

func TestApply_NotificationTitle(t *testing.T) {
	e, _, n := newEngine(t, voucher.Config{})
	ctx := context.Background()
	ids := idsOf(generate(t, e, 2, ""))

	_, err := e.Apply(ctx, voucher.OpActivate, ids)
	require.NoError(t, err)
	_, err = e.Apply(ctx, voucher.OpSuspend, ids)
	require.NoError(t, err)

	n.mu.Lock()
	defer n.mu.Unlock()
	require.Len(t, n.events, 3)
	assert.Equal(t, "Vouchers Generated", n.events[0].Title)
	assert.Equal(t, "Vouchers Activated", n.events[1].Title)
	assert.Equal(t, "Vouchers Suspended", n.events[2].Title)
}

func TestApply_LazyExpiry(t *testing.T) {
	// GIVEN: An Active voucher whose expiry has passed
	e, _, _ := newEngine(t, voucher.Config{})
	ctx := context.Background()
	v := generate(t, e, 1, "")[0]
	_, err := e.Apply(ctx, voucher.OpActivate, []string{v.ID})
	require.NoError(t, err)
	later := e.At(v.ExpiresAt.Add(time.Minute))

	// THEN: Reads report Expired and Suspend is rejected
	got, err := later.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, voucher.StatusExpired, got.Status)

	res, err := later.Apply(ctx, voucher.OpSuspend, []string{v.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	// AND: Archive still works
	res, err = later.Apply(ctx, voucher.OpArchive, []string{v.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changed)
}

// =============================================================================
// DELETE / EXPIRY
// =============================================================================

func TestDelete_RetiresCode(t *testing.T) {
	e, store, n := newEngine(t, voucher.Config{CodeRetention: 24 * time.Hour})
	ctx := context.Background()
	v := generate(t, e, 1, "")[0]

	res, err := e.Delete(ctx, []string{v.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, n.types(), voucher.EventDeleted)

	_, err = e.Get(ctx, v.ID)
	assert.True(t, voucher.IsNotFound(err))

	// The code stays reserved inside the retention window
	taken, err := store.CodeExists(ctx, v.Code, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.True(t, taken)

	// Purging after the window releases it
	purged, err := e.At(now.Add(25*time.Hour)).PurgeRetiredCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	taken, err = store.CodeExists(ctx, v.Code, time.Time{})
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestUpdateExpiry(t *testing.T) {
	e, _, n := newEngine(t, voucher.Config{})
	ctx := context.Background()
	vs := generate(t, e, 2, "")
	newExp := now.Add(30 * 24 * time.Hour)

	// Lowercase codes are accepted
	got, err := e.UpdateExpiry(ctx, " "+strings.ToLower(vs[0].Code), newExp)
	require.NoError(t, err)
	assert.Equal(t, newExp, got.ExpiresAt)
	assert.Equal(t, "30d", got.Validity.String())
	assert.Equal(t, voucher.StatusPending, got.Status, "expiry changes bypass the state machine")
	assert.Contains(t, n.types(), voucher.EventExpiryUpdated)

	// Must follow creation
	_, err = e.UpdateExpiry(ctx, vs[0].Code, now.Add(-time.Hour))
	assert.True(t, voucher.IsClientError(err))

	// Archived and Expired vouchers are locked
	_, err = e.Apply(ctx, voucher.OpArchive, []string{vs[1].ID})
	require.NoError(t, err)
	_, err = e.UpdateExpiry(ctx, vs[1].Code, newExp)
	assert.ErrorIs(t, err, voucher.ErrExpiryLocked)

	// Unknown code
	_, err = e.UpdateExpiry(ctx, "ZZZZZZZZ", newExp)
	assert.True(t, voucher.IsNotFound(err))
}

func TestNotifierFailureDoesNotFailOperation(t *testing.T) {
	e, _, n := newEngine(t, voucher.Config{})
	n.err = errors.New("sink down")

	vs := generate(t, e, 1, "")
	assert.Len(t, vs, 1)
}

// =============================================================================
// READS
// =============================================================================

func TestQuery_Deterministic(t *testing.T) {
	e, _, _ := newEngine(t, voucher.Config{})
	ctx := context.Background()
	generate(t, e, 15, "A")
	generate(t, e, 10, "")

	q := voucher.Query{SortBy: voucher.SortBatch, Direction: voucher.Ascending, Page: 2, PageSize: 10}
	first, err := e.Query(ctx, q)
	require.NoError(t, err)
	second, err := e.Query(ctx, q)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 25, first.Total)
	assert.Equal(t, 3, first.TotalPages)
	assert.Len(t, first.Vouchers, 10)
}

func TestQuery_FutureFromMatchesNothing(t *testing.T) {
	e, _, _ := newEngine(t, voucher.Config{})
	ctx := context.Background()
	generate(t, e, 3, "")

	from := now.Add(48 * time.Hour)
	page, err := e.Query(ctx, voucher.Query{From: &from})
	require.NoError(t, err)
	assert.Empty(t, page.Vouchers)
	assert.Equal(t, 0, page.Total)

	to := now.Add(-48 * time.Hour)
	page, err = e.Query(ctx, voucher.Query{From: &now, To: &to})
	require.NoError(t, err)
	assert.Empty(t, page.Vouchers)
}

func TestMatchingAndSelect(t *testing.T) {
	e, _, _ := newEngine(t, voucher.Config{})
	ctx := context.Background()
	vs := generate(t, e, 3, "Cafe")
	generate(t, e, 2, "Lobby")

	matched, err := e.Matching(ctx, voucher.Query{Search: "cafe"})
	require.NoError(t, err)
	assert.Len(t, matched, 3)

	selected, err := e.Select(ctx, []string{vs[2].ID, vs[0].ID})
	require.NoError(t, err)
	assert.Equal(t, []string{vs[2].ID, vs[0].ID}, idsOf(selected))

	_, err = e.Select(ctx, []string{"missing"})
	assert.True(t, voucher.IsNotFound(err))
}

func TestLookup(t *testing.T) {
	e, _, _ := newEngine(t, voucher.Config{})
	v := generate(t, e, 1, "")[0]

	got, err := e.Lookup(context.Background(), strings.ToLower(v.Code))
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
}
