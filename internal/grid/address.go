package grid

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Address identifies a cell by 1-based row and column.
type Address struct {
	Row int
	Col int
}

// String renders the address in A1 notation.
func (a Address) String() string {
	name, err := excelize.CoordinatesToCellName(a.Col, a.Row)
	if err != nil {
		return fmt.Sprintf("R%dC%d", a.Row, a.Col)
	}
	return name
}

// ColumnNumber decodes base-26 column letters: "A" is 1, "Z" is 26, "AA" is 27.
func ColumnNumber(letters string) (int, error) {
	n, err := excelize.ColumnNameToNumber(strings.TrimSpace(letters))
	if err != nil {
		return 0, fmt.Errorf("grid: column %q: %w", letters, err)
	}
	return n, nil
}

// ParseAddress parses an A1-style reference such as "C12".
func ParseAddress(ref string) (Address, error) {
	col, row, err := excelize.CellNameToCoordinates(strings.TrimSpace(ref))
	if err != nil {
		return Address{}, fmt.Errorf("grid: cell reference %q: %w", ref, err)
	}
	return Address{Row: row, Col: col}, nil
}
