package voucher

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	allOps = []Operation{OpActivate, OpSuspend, OpExpire, OpArchive}
)

func testVoucher(status Status) Voucher {
	return Voucher{
		ID:          "v1",
		Code:        "ABCD2345",
		Status:      status,
		Validity:    Days(7),
		DeviceLimit: 1,
		CreatedAt:   t0,
		ExpiresAt:   t0.Add(7 * 24 * time.Hour),
	}
}

func TestTransition_AllowedMoves(t *testing.T) {
	tests := []struct {
		from Status
		op   Operation
		want Status
	}{
		{StatusPending, OpActivate, StatusActive},
		{StatusPending, OpExpire, StatusExpired},
		{StatusPending, OpArchive, StatusArchived},
		{StatusActive, OpSuspend, StatusSuspended},
		{StatusActive, OpExpire, StatusExpired},
		{StatusActive, OpArchive, StatusArchived},
		{StatusSuspended, OpActivate, StatusActive},
		{StatusSuspended, OpExpire, StatusExpired},
		{StatusSuspended, OpArchive, StatusArchived},
		{StatusExpired, OpArchive, StatusArchived},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.op), func(t *testing.T) {
			got, changed, err := Transition(testVoucher(tt.from), tt.op, t0)
			require.NoError(t, err)
			assert.True(t, changed)
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestTransition_RejectedMoves(t *testing.T) {
	tests := []struct {
		from Status
		op   Operation
	}{
		{StatusPending, OpSuspend},
		{StatusExpired, OpActivate},
		{StatusExpired, OpSuspend},
		{StatusArchived, OpActivate},
		{StatusArchived, OpSuspend},
		{StatusArchived, OpExpire},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.op), func(t *testing.T) {
			v := testVoucher(tt.from)
			got, changed, err := Transition(v, tt.op, t0)

			require.ErrorIs(t, err, ErrInvalidTransition)
			assert.False(t, changed)
			assert.Equal(t, v, got, "rejected transition must not modify the voucher")

			var terr *InvalidTransitionError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tt.from, terr.From)
		})
	}
}

func TestTransition_SameStatusIsNoop(t *testing.T) {
	for _, op := range allOps {
		target, _ := op.Target()
		t.Run(string(op), func(t *testing.T) {
			// GIVEN: A voucher already in the operation's target status
			v := testVoucher(target)

			// WHEN: The operation is applied again
			got, changed, err := Transition(v, op, t0)

			// THEN: Success, nothing changes
			require.NoError(t, err)
			assert.False(t, changed)
			assert.Equal(t, v, got)
		})
	}
}

func TestTransition_LapsedVoucherIsExpired(t *testing.T) {
	// GIVEN: An Active voucher observed after its expiry
	v := testVoucher(StatusActive)
	later := v.ExpiresAt.Add(time.Minute)
	require.Equal(t, StatusExpired, v.EffectiveStatus(later))

	// WHEN/THEN: Activate and Suspend are rejected from the effective status
	_, _, err := Transition(v, OpSuspend, later)
	var terr *InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StatusExpired, terr.From)

	// Expire is a no-op success, Archive succeeds
	_, changed, err := Transition(v, OpExpire, later)
	require.NoError(t, err)
	assert.False(t, changed)

	archived, changed, err := Transition(v, OpArchive, later)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, StatusArchived, archived.Status)
}

func TestTransition_DeleteIsNotLifecycle(t *testing.T) {
	_, _, err := Transition(testVoucher(StatusPending), OpDelete, t0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTransition_ArchivedIsAbsorbing(t *testing.T) {
	v := testVoucher(StatusArchived)
	for _, op := range allOps {
		got, _, _ := Transition(v, op, t0)
		assert.Equal(t, StatusArchived, got.Status, "op %s", op)
	}
}

// Random operation sequences never reach a state outside the table, and a
// rejected step never changes the voucher.
func TestTransition_RandomSequences(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 7))

	for run := 0; run < 200; run++ {
		v := testVoucher(StatusPending)
		for step := 0; step < 20; step++ {
			op := allOps[r.IntN(len(allOps))]
			before := v
			next, changed, err := Transition(v, op, t0)
			if err != nil {
				require.ErrorIs(t, err, ErrInvalidTransition)
				require.Equal(t, before, next)
				continue
			}
			if changed {
				require.True(t, CanTransition(before.Status, next.Status), "%s -> %s", before.Status, next.Status)
			} else {
				require.Equal(t, before, next)
			}
			if before.Status == StatusArchived {
				require.Equal(t, StatusArchived, next.Status)
			}
			v = next
		}
	}
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation(" Suspend ")
	require.NoError(t, err)
	assert.Equal(t, OpSuspend, op)
	assert.Equal(t, "suspended", op.PastTense())

	_, err = ParseOperation("pause")
	assert.ErrorIs(t, err, ErrValidation)
}
