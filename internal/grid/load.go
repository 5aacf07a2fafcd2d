package grid

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// LoadSheet streams a worksheet into a Grid. Shared strings and number formats
// are resolved by excelize, so cell text matches what a user sees. Blank rows
// inside the used range are kept without cells so table detection sees the
// gaps between tables.
func LoadSheet(f *excelize.File, sheet string) (*Grid, error) {
	if f == nil {
		return nil, fmt.Errorf("grid: nil workbook")
	}
	it, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("grid: open rows for %q: %w", sheet, err)
	}
	defer func() { _ = it.Close() }()

	var rows []Row
	rowIdx := 0
	for it.Next() {
		rowIdx++
		values, err := it.Columns()
		if err != nil {
			return nil, fmt.Errorf("grid: read row %d of %q: %w", rowIdx, sheet, err)
		}
		row := Row{Index: rowIdx}
		for i, v := range values {
			if v == "" {
				continue
			}
			row.Cells = append(row.Cells, Cell{Addr: Address{Row: rowIdx, Col: i + 1}, Text: v})
		}
		rows = append(rows, row)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("grid: iterate %q: %w", sheet, err)
	}
	return New(rows), nil
}
