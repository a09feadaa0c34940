package voucher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture() []Voucher {
	mk := func(id, code, batch string, st Status, ageDays int, devices int) Voucher {
		created := t0.AddDate(0, 0, -ageDays)
		return Voucher{
			ID:          id,
			Code:        code,
			Status:      st,
			Batch:       batch,
			Validity:    Days(30),
			DeviceLimit: devices,
			CreatedAt:   created,
			ExpiresAt:   created.AddDate(0, 0, 30),
		}
	}
	return []Voucher{
		mk("1", "AAAA2222", "Promo1", StatusActive, 0, 1),
		mk("2", "BBBB3333", "Promo2", StatusPending, 1, 3),
		mk("3", "CCCC4444", "", StatusSuspended, 2, 2),
		mk("4", "DDDD5555", "Promo1", StatusArchived, 3, 1),
		mk("5", "EEEE6666", "VIP-Lounge", StatusExpired, 5, 5),
		mk("6", "FFFF7777", "", StatusPending, 10, 1),
	}
}

func ids(vs []Voucher) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}

func TestFilter_Views(t *testing.T) {
	vs := fixture()

	active := Filter(vs, Query{View: ViewActive}, t0, time.UTC)
	assert.ElementsMatch(t, []string{"1", "2", "3", "5", "6"}, ids(active))

	archive := Filter(vs, Query{View: ViewArchive}, t0, time.UTC)
	assert.Equal(t, []string{"4"}, ids(archive))

	all := Filter(vs, Query{View: ViewAll}, t0, time.UTC)
	assert.Len(t, all, 6)
}

func TestFilter_StatusAndSearch(t *testing.T) {
	vs := fixture()

	pending := Filter(vs, Query{View: ViewActive, Status: StatusPending}, t0, time.UTC)
	assert.ElementsMatch(t, []string{"2", "6"}, ids(pending))

	// Search matches code or batch, case-insensitively
	promo := Filter(vs, Query{View: ViewAll, Search: "promo1"}, t0, time.UTC)
	assert.ElementsMatch(t, []string{"1", "4"}, ids(promo))

	byCode := Filter(vs, Query{View: ViewAll, Search: "cccc"}, t0, time.UTC)
	assert.Equal(t, []string{"3"}, ids(byCode))
}

func TestFilter_DateRange(t *testing.T) {
	vs := fixture()
	day := func(n int) *time.Time {
		d := t0.AddDate(0, 0, -n)
		return &d
	}

	// GIVEN: from = 5 days ago, to = 1 day ago (inclusive calendar days)
	got := Filter(vs, Query{View: ViewAll, From: day(5), To: day(1)}, t0, time.UTC)
	assert.ElementsMatch(t, []string{"2", "3", "4", "5"}, ids(got))

	// A lone To covers just that day
	got = Filter(vs, Query{View: ViewAll, To: day(2)}, t0, time.UTC)
	assert.Equal(t, []string{"3"}, ids(got))

	// A lone From runs through today
	got = Filter(vs, Query{View: ViewAll, From: day(2)}, t0, time.UTC)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, ids(got))

	// An inverted range matches nothing
	got = Filter(vs, Query{View: ViewAll, From: day(1), To: day(5)}, t0, time.UTC)
	assert.Empty(t, got)

	// So does a lone From in the future
	got = Filter(vs, Query{View: ViewAll, From: day(-2)}, t0, time.UTC)
	assert.Empty(t, got)
}

func TestSort_BatchNullsLast(t *testing.T) {
	for _, dir := range []Direction{Ascending, Descending} {
		t.Run(string(dir), func(t *testing.T) {
			vs := fixture()
			Sort(vs, SortBatch, dir)

			got := ids(vs)
			assert.Equal(t, []string{"3", "6"}, got[4:], "vouchers without a batch sort last")
		})
	}

	vs := fixture()
	Sort(vs, SortBatch, Ascending)
	assert.Equal(t, []string{"1", "4", "2", "5", "3", "6"}, ids(vs))

	Sort(vs, SortBatch, Descending)
	assert.Equal(t, []string{"5", "2", "1", "4", "3", "6"}, ids(vs), "ties keep ascending ID order")
}

func TestSort_Deterministic(t *testing.T) {
	a := fixture()
	b := fixture()
	b[0], b[5] = b[5], b[0]
	b[1], b[3] = b[3], b[1]

	for _, f := range sortFields {
		Sort(a, f, Descending)
		Sort(b, f, Descending)
		assert.Equal(t, ids(a), ids(b), "sort by %s depends on input order", f)
	}
}

func TestSort_NumericCollation(t *testing.T) {
	vs := []Voucher{{ID: "1", Batch: "Batch-10"}, {ID: "2", Batch: "Batch-9"}, {ID: "3", Batch: "Batch-100"}}
	Sort(vs, SortBatch, Ascending)
	assert.Equal(t, []string{"2", "1", "3"}, ids(vs))
}

func TestSort_DeviceLimitAndCreatedAt(t *testing.T) {
	vs := fixture()
	Sort(vs, SortDeviceLimit, Descending)
	assert.Equal(t, []string{"5", "2", "3", "1", "4", "6"}, ids(vs))

	Sort(vs, SortCreatedAt, Ascending)
	assert.Equal(t, []string{"6", "5", "4", "3", "2", "1"}, ids(vs))
}

func TestPaginate(t *testing.T) {
	vs := fixture()

	res := Paginate(vs, 2, 4)
	assert.Equal(t, 6, res.Total)
	assert.Equal(t, 2, res.TotalPages)
	assert.Equal(t, []string{"5", "6"}, ids(res.Vouchers))

	res = Paginate(vs, 5, 4)
	assert.Empty(t, res.Vouchers, "page past the end is empty")
	assert.Equal(t, 6, res.Total)

	res = Paginate(nil, 1, 10)
	assert.Equal(t, 0, res.TotalPages)
}

func TestQueryNormalize(t *testing.T) {
	q, err := Query{}.normalize(MaxPageSize)
	require.NoError(t, err)
	assert.Equal(t, ViewActive, q.View)
	assert.Equal(t, SortCreatedAt, q.SortBy)
	assert.Equal(t, Descending, q.Direction)
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, DefaultPageSize, q.PageSize)

	_, err = Query{Page: -1}.normalize(MaxPageSize)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = Query{PageSize: MaxPageSize + 1}.normalize(MaxPageSize)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestComputeStats(t *testing.T) {
	vs := fixture()
	s := ComputeStats(vs, t0, 7*24*time.Hour)

	assert.Equal(t, 5, s.Total, "archived vouchers are not counted in the total")
	assert.Equal(t, 1, s.Active)
	assert.Equal(t, 2, s.Pending)
	assert.Equal(t, 1, s.Suspended)
	assert.Equal(t, 1, s.Expired)
	assert.Equal(t, 1, s.Archived)
	assert.Equal(t, 0, s.ExpiringSoon)

	// 25 days later vouchers 1-3 expire within the week; 6 has lapsed
	later := ComputeStats(vs, t0.AddDate(0, 0, 25), 7*24*time.Hour)
	assert.Equal(t, 3, later.ExpiringSoon)
	assert.Equal(t, 1, later.Pending)
	assert.Equal(t, 2, later.Expired)
}
