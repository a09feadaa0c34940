package voucher

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// DAY ARITHMETIC - Date filters work at day granularity in a fixed location
// =============================================================================

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns the last representable instant of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// ParseDate accepts "2006-01-02" (a calendar day in loc) or an RFC 3339
// timestamp.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Time{}, &ValidationError{Field: "date", Message: fmt.Sprintf("invalid date %q, want YYYY-MM-DD or RFC 3339", s)}
}

// ParseExpiration parses an expiry. A bare date means the end of that day
// in loc, so "2026-03-01" keeps the voucher usable through March 1st.
func ParseExpiration(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return EndOfDay(t, loc), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "expiration", Message: fmt.Sprintf("invalid expiration %q, want YYYY-MM-DD or RFC 3339", s)}
	}
	return t, nil
}
