/*
query.go - Search, filter, sort and paginate voucher sets

PURPOSE:
  The read path for voucher listings. Pure functions over a slice of
  vouchers already observed at a fixed instant (see Voucher.Observed).

PIPELINE:
  1. View:   active (everything but Archived), archive (only Archived), all
  2. Filter: status, free-text search on code or batch, created-date range
  3. Sort:   one key and direction; empty values last in both directions;
             ties broken by ID so equal inputs always give equal pages
  4. Page:   1-indexed pages; Total is the filtered, unpaginated count

STRING ORDER:
  Strings compare with a numeric-aware collator, so "V2" sorts before
  "V10". A collator is not safe for concurrent use, so one is built per
  sort call.
*/
package voucher

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// =============================================================================
// QUERY PARAMETERS
// =============================================================================

// View selects which lens over the store a query uses.
type View string

const (
	ViewActive  View = "active"
	ViewArchive View = "archive"
	ViewAll     View = "all"
)

// SortField names a sortable voucher attribute.
type SortField string

const (
	SortID          SortField = "id"
	SortCode        SortField = "code"
	SortStatus      SortField = "status"
	SortBatch       SortField = "batch"
	SortValidity    SortField = "validity"
	SortSpeedLimit  SortField = "speedLimit"
	SortDeviceLimit SortField = "deviceLimit"
	SortCreatedAt   SortField = "createdAt"
	SortExpiresAt   SortField = "expiresAt"
)

var sortFields = []SortField{
	SortID, SortCode, SortStatus, SortBatch, SortValidity,
	SortSpeedLimit, SortDeviceLimit, SortCreatedAt, SortExpiresAt,
}

// Direction is a sort direction.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 500
)

// Query is the full set of listing parameters.
type Query struct {
	View      View
	Status    Status // empty means every status
	Search    string
	From      *time.Time // calendar day, inclusive
	To        *time.Time // calendar day, inclusive
	SortBy    SortField
	Direction Direction
	Page      int
	PageSize  int
}

// QueryResult is one page of a query.
type QueryResult struct {
	Vouchers   []Voucher
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// ParseView parses a view name; empty means ViewActive.
func ParseView(s string) (View, error) {
	switch View(strings.ToLower(strings.TrimSpace(s))) {
	case "", ViewActive:
		return ViewActive, nil
	case ViewArchive, "archived":
		return ViewArchive, nil
	case ViewAll:
		return ViewAll, nil
	}
	return "", &ValidationError{Field: "view", Message: fmt.Sprintf("unknown view %q", s)}
}

// ParseStatusFilter parses a status filter; "" and "all" mean no filter.
func ParseStatusFilter(s string) (Status, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return "", nil
	}
	return ParseStatus(s)
}

// ParseSortField parses a sort key case-insensitively; empty means createdAt.
func ParseSortField(s string) (SortField, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SortCreatedAt, nil
	}
	for _, f := range sortFields {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", &ValidationError{Field: "sort", Message: fmt.Sprintf("unknown sort field %q", s)}
}

// ParseDirection parses "asc" or "desc"; empty means descending.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return Descending, nil
	case "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	}
	return "", &ValidationError{Field: "direction", Message: fmt.Sprintf("unknown direction %q", s)}
}

// normalize fills defaults and checks bounds.
func (q Query) normalize(maxPageSize int) (Query, error) {
	if q.View == "" {
		q.View = ViewActive
	}
	if q.SortBy == "" {
		q.SortBy = SortCreatedAt
	}
	if q.Direction == "" {
		q.Direction = Descending
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	if maxPageSize <= 0 {
		maxPageSize = MaxPageSize
	}
	if q.Page < 1 {
		return q, &ValidationError{Field: "page", Message: "must be at least 1"}
	}
	if q.PageSize < 1 || q.PageSize > maxPageSize {
		return q, &ValidationError{Field: "pageSize", Message: fmt.Sprintf("must be between 1 and %d", maxPageSize)}
	}
	return q, nil
}

// =============================================================================
// FILTER
// =============================================================================

// dateWindow resolves the inclusive created-date range to [start, end].
// A lone From runs to today; a lone To covers just that day. A start after
// the end is kept as is and matches nothing.
func (q Query) dateWindow(now time.Time, loc *time.Location) (start, end time.Time, ok bool) {
	if q.From == nil && q.To == nil {
		return time.Time{}, time.Time{}, false
	}
	from, to := q.From, q.To
	if to == nil {
		to = &now
	}
	if from == nil {
		from = to
	}
	start = StartOfDay(*from, loc)
	end = EndOfDay(*to, loc)
	return start, end, true
}

// Filter returns the vouchers matching q's view and filters. Vouchers must
// already carry their effective status.
func Filter(vouchers []Voucher, q Query, now time.Time, loc *time.Location) []Voucher {
	start, end, byDate := q.dateWindow(now, loc)
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	out := make([]Voucher, 0, len(vouchers))
	for _, v := range vouchers {
		switch q.View {
		case ViewArchive:
			if v.Status != StatusArchived {
				continue
			}
		case ViewAll:
		default:
			if v.Status == StatusArchived {
				continue
			}
		}
		if q.Status != "" && v.Status != q.Status {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(v.Code), needle) &&
			!strings.Contains(strings.ToLower(v.Batch), needle) {
			continue
		}
		if byDate && (v.CreatedAt.Before(start) || v.CreatedAt.After(end)) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// =============================================================================
// SORT
// =============================================================================

// isNull reports whether v has no value for field.
func isNull(field SortField, v Voucher) bool {
	return field == SortBatch && v.Batch == ""
}

// Sort orders vouchers in place by field and direction.
func Sort(vouchers []Voucher, field SortField, dir Direction) {
	col := collate.New(language.English, collate.Numeric)

	compareField := func(a, b Voucher) int {
		switch field {
		case SortID:
			return col.CompareString(a.ID, b.ID)
		case SortCode:
			return col.CompareString(a.Code, b.Code)
		case SortStatus:
			return col.CompareString(string(a.Status), string(b.Status))
		case SortBatch:
			return col.CompareString(a.Batch, b.Batch)
		case SortValidity:
			return cmp.Compare(a.Validity, b.Validity)
		case SortSpeedLimit:
			return a.SpeedLimit.Compare(b.SpeedLimit)
		case SortDeviceLimit:
			return cmp.Compare(a.DeviceLimit, b.DeviceLimit)
		case SortExpiresAt:
			return a.ExpiresAt.Compare(b.ExpiresAt)
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}

	slices.SortStableFunc(vouchers, func(a, b Voucher) int {
		an, bn := isNull(field, a), isNull(field, b)
		switch {
		case an && bn:
			return strings.Compare(a.ID, b.ID)
		case an:
			return 1
		case bn:
			return -1
		}

		c := compareField(a, b)
		if dir == Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// =============================================================================
// PAGINATE
// =============================================================================

// Paginate slices one page out of an already filtered and sorted set.
func Paginate(vouchers []Voucher, page, pageSize int) QueryResult {
	total := len(vouchers)
	totalPages := 0
	if total > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}

	lo := (page - 1) * pageSize
	if lo > total {
		lo = total
	}
	hi := min(lo+pageSize, total)

	return QueryResult{
		Vouchers:   slices.Clone(vouchers[lo:hi]),
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}

// =============================================================================
// STATS
// =============================================================================

// Stats are the dashboard counters over effective statuses.
type Stats struct {
	Total        int // every voucher not Archived
	Active       int
	Pending      int
	Expired      int
	Suspended    int
	Archived     int
	ExpiringSoon int // usable now, expiring within the configured window
}

// ComputeStats counts vouchers observed at now.
func ComputeStats(vouchers []Voucher, now time.Time, soon time.Duration) Stats {
	var s Stats
	horizon := now.Add(soon)
	for _, v := range vouchers {
		st := v.EffectiveStatus(now)
		switch st {
		case StatusActive:
			s.Active++
		case StatusPending:
			s.Pending++
		case StatusExpired:
			s.Expired++
		case StatusSuspended:
			s.Suspended++
		case StatusArchived:
			s.Archived++
			continue
		}
		s.Total++
		if st.lapses() && !v.ExpiresAt.After(horizon) {
			s.ExpiringSoon++
		}
	}
	return s
}
