/*
Package export renders voucher sets as downloadable files and print sheets.

FORMATS:
  csv:  encoding/csv, one header row plus one row per voucher
  xlsx: excelize workbook with a single "Vouchers" sheet
  print: HTML sheet of fixed-size cards (see print.go)

COLUMNS:
  Code, Status, Batch, Validity, Speed Limit, Device Limit, Created At,
  Expires At. Empty batches render as "N/A". Timestamps are ISO-8601 UTC
  with millisecond precision.

EMPTY SETS:
  Writers never produce a file for zero vouchers; they return
  ErrNothingToExport (or ErrNothingToPrint) and callers surface the notice.
*/
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/superlink/voucher-engine/voucher"
)

// NothingToExportNotice is the user-facing message for an empty export.
const NothingToExportNotice = "No vouchers to export in the current view."

var (
	ErrNothingToExport = errors.New("no vouchers to export in the current view")
	ErrNothingToPrint  = errors.New("no vouchers selected for printing")
)

// Header is the column row shared by every tabular format.
var Header = []string{"Code", "Status", "Batch", "Validity", "Speed Limit", "Device Limit", "Created At", "Expires At"}

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat parses a format name; empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX, "excel":
		return FormatXLSX, nil
	}
	return "", &voucher.ValidationError{Field: "format", Message: fmt.Sprintf("unsupported export format %q", s)}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// FileName returns "vouchers-export-YYYY-MM-DD.<ext>" for the day of now.
func FileName(f Format, now time.Time) string {
	return fmt.Sprintf("vouchers-export-%s.%s", now.Format(time.DateOnly), f)
}

// Row returns the column values for one voucher.
func Row(v voucher.Voucher) []string {
	return []string{
		v.Code,
		string(v.Status),
		cellText(v.BatchLabel()),
		v.Validity.String(),
		v.SpeedLimit.String(),
		strconv.Itoa(v.DeviceLimit),
		formatTimestamp(v.CreatedAt),
		formatTimestamp(v.ExpiresAt),
	}
}

// Write renders vouchers in the given format.
func Write(w io.Writer, f Format, vouchers []voucher.Voucher) error {
	switch f {
	case FormatXLSX:
		return WriteXLSX(w, vouchers)
	default:
		return WriteCSV(w, vouchers)
	}
}

// WriteCSV writes the header and one row per voucher.
func WriteCSV(w io.Writer, vouchers []voucher.Voucher) error {
	if len(vouchers) == 0 {
		return ErrNothingToExport
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, v := range vouchers {
		if err := cw.Write(Row(v)); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// cellText quotes free text that a spreadsheet would read as a formula.
func cellText(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
