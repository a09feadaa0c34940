package export

import (
	"fmt"
	"io"

	"github.com/superlink/voucher-engine/voucher"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Vouchers"

var columnWidths = []float64{14, 12, 20, 10, 14, 14, 26, 26}

// WriteXLSX writes a single-sheet workbook with the same columns as the CSV.
func WriteXLSX(w io.Writer, vouchers []voucher.Voucher) error {
	if len(vouchers) == 0 {
		return ErrNothingToExport
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	for i, width := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, col, col, width)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#2563EB"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	for i, title := range Header {
		c, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, c, title)
	}
	last, _ := excelize.CoordinatesToCellName(len(Header), 1)
	f.SetCellStyle(sheetName, "A1", last, headerStyle)

	for r, v := range vouchers {
		row := Row(v)
		for i, value := range row {
			c, _ := excelize.CoordinatesToCellName(i+1, r+2)
			if i == 5 {
				f.SetCellValue(sheetName, c, v.DeviceLimit)
				continue
			}
			f.SetCellValue(sheetName, c, value)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
