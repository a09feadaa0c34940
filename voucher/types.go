/*
types.go - Core value types for the voucher lifecycle engine

PURPOSE:
  Defines the voucher record and the small value types it is built from.
  Every other file in this package operates on these types.

KEY TYPES:
  Status:     Lifecycle state (Pending, Active, Suspended, Expired, Archived)
  Voucher:    One hotspot access credential
  Validity:   Duration a voucher stays usable after creation ("7d", "12h")
  SpeedLimit: Bandwidth cap ("Unlimited", "10 Mbps", "512 Kbps")

LAZY EXPIRY:
  The stored status only changes through lifecycle operations. Time-based
  expiry is computed at read time: a Pending, Active or Suspended voucher
  whose ExpiresAt is in the past reports Expired (see EffectiveStatus).

SEE ALSO:
  - lifecycle.go: Transition table over Status
  - store.go: Persistence of Voucher records
*/
package voucher

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is the lifecycle state of a voucher.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusActive    Status = "Active"
	StatusSuspended Status = "Suspended"
	StatusExpired   Status = "Expired"
	StatusArchived  Status = "Archived"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusActive,
	StatusSuspended,
	StatusExpired,
	StatusArchived,
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", s)}
}

// lapses reports whether the status turns into Expired once ExpiresAt passes.
func (s Status) lapses() bool {
	return s == StatusPending || s == StatusActive || s == StatusSuspended
}

// =============================================================================
// VOUCHER
// =============================================================================

// Voucher is a single hotspot access credential.
type Voucher struct {
	ID          string
	Code        string
	Status      Status
	Batch       string // empty when the voucher was generated without a label
	Validity    Validity
	SpeedLimit  SpeedLimit
	DeviceLimit int
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// EffectiveStatus returns the status as observed at now.
func (v Voucher) EffectiveStatus(now time.Time) Status {
	if v.Status.lapses() && now.After(v.ExpiresAt) {
		return StatusExpired
	}
	return v.Status
}

// Observed returns a copy of v whose Status is the effective status at now.
func (v Voucher) Observed(now time.Time) Voucher {
	v.Status = v.EffectiveStatus(now)
	return v
}

// BatchLabel returns the batch name, or "N/A" when none was given.
func (v Voucher) BatchLabel() string {
	if v.Batch == "" {
		return "N/A"
	}
	return v.Batch
}

// NormalizeCode returns the lookup form of a voucher code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// =============================================================================
// VALIDITY
// =============================================================================

// Validity is the usable lifetime of a voucher, counted from creation.
type Validity time.Duration

const day = 24 * time.Hour

// Days returns a validity of n whole days.
func Days(n int) Validity { return Validity(time.Duration(n) * day) }

// ParseValidity parses "7d" style day counts and Go durations ("12h", "90m").
func ParseValidity(s string) (Validity, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if raw == "" {
		return 0, &ValidationError{Field: "validity", Message: "validity is required"}
	}

	var d time.Duration
	if n, ok := strings.CutSuffix(raw, "d"); ok {
		days, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, &ValidationError{Field: "validity", Message: fmt.Sprintf("invalid validity %q", s)}
		}
		d = time.Duration(days) * day
	} else {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return 0, &ValidationError{Field: "validity", Message: fmt.Sprintf("invalid validity %q", s)}
		}
		d = parsed
	}

	if d <= 0 {
		return 0, &ValidationError{Field: "validity", Message: "validity must be positive"}
	}
	return Validity(d), nil
}

// Duration returns the validity as a time.Duration.
func (v Validity) Duration() time.Duration { return time.Duration(v) }

// String renders whole days as "Nd", whole hours as "Nh", anything else as a
// Go duration string. The output always round-trips through ParseValidity.
func (v Validity) String() string {
	d := time.Duration(v)
	switch {
	case d > 0 && d%day == 0:
		return fmt.Sprintf("%dd", d/day)
	case d > 0 && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	default:
		return d.String()
	}
}

// =============================================================================
// SPEED LIMIT
// =============================================================================

// BandwidthUnit is the unit a speed limit was expressed in.
type BandwidthUnit string

const (
	Kbps BandwidthUnit = "Kbps"
	Mbps BandwidthUnit = "Mbps"
	Gbps BandwidthUnit = "Gbps"
)

// SpeedLimit is a per-voucher bandwidth cap. The zero value is Unlimited.
type SpeedLimit struct {
	Value decimal.Decimal
	Unit  BandwidthUnit
}

// Unlimited is the uncapped speed limit.
var Unlimited = SpeedLimit{}

var speedPattern = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*(kbps|mbps|gbps)$`)

// ParseSpeedLimit parses "Unlimited" or "<n> Kbps|Mbps|Gbps". Empty is Unlimited.
func ParseSpeedLimit(s string) (SpeedLimit, error) {
	raw := strings.TrimSpace(s)
	if raw == "" || strings.EqualFold(raw, "unlimited") {
		return Unlimited, nil
	}

	m := speedPattern.FindStringSubmatch(raw)
	if m == nil {
		return SpeedLimit{}, &ValidationError{Field: "speedLimit", Message: fmt.Sprintf("invalid speed limit %q", s)}
	}
	value, err := decimal.NewFromString(m[1])
	if err != nil || !value.IsPositive() {
		return SpeedLimit{}, &ValidationError{Field: "speedLimit", Message: fmt.Sprintf("invalid speed limit %q", s)}
	}

	var unit BandwidthUnit
	switch strings.ToLower(m[2]) {
	case "kbps":
		unit = Kbps
	case "mbps":
		unit = Mbps
	default:
		unit = Gbps
	}
	return SpeedLimit{Value: value, Unit: unit}, nil
}

// IsUnlimited reports whether no cap applies.
func (s SpeedLimit) IsUnlimited() bool { return s.Unit == "" || s.Value.IsZero() }

// Kbps returns the cap in kilobits per second. Unlimited returns zero.
func (s SpeedLimit) Kbps() decimal.Decimal {
	switch {
	case s.IsUnlimited():
		return decimal.Zero
	case s.Unit == Kbps:
		return s.Value
	case s.Unit == Gbps:
		return s.Value.Mul(decimal.NewFromInt(1_000_000))
	default:
		return s.Value.Mul(decimal.NewFromInt(1_000))
	}
}

// Compare orders speed limits by bandwidth, with Unlimited above every cap.
func (s SpeedLimit) Compare(other SpeedLimit) int {
	switch {
	case s.IsUnlimited() && other.IsUnlimited():
		return 0
	case s.IsUnlimited():
		return 1
	case other.IsUnlimited():
		return -1
	}
	return s.Kbps().Cmp(other.Kbps())
}

// RateLimit returns the symmetric "rx/tx" rate string understood by NAS
// devices, in whole kilobits. Unlimited returns "".
func (s SpeedLimit) RateLimit() string {
	if s.IsUnlimited() {
		return ""
	}
	k := s.Kbps().Ceil().IntPart()
	return fmt.Sprintf("%dk/%dk", k, k)
}

func (s SpeedLimit) String() string {
	if s.IsUnlimited() {
		return "Unlimited"
	}
	return s.Value.String() + " " + string(s.Unit)
}
