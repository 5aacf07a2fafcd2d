package grid

import (
	"sort"
	"strings"
)

// Cell is one resolved value in a sheet.
type Cell struct {
	Addr Address
	Text string
}

// Row is a sparse row: only cells that exist in the source are present,
// ordered by column.
type Row struct {
	Index int
	Cells []Cell
}

// NonEmpty returns the cells whose text is not blank.
func (r Row) NonEmpty() []Cell {
	out := make([]Cell, 0, len(r.Cells))
	for _, c := range r.Cells {
		if strings.TrimSpace(c.Text) != "" {
			out = append(out, c)
		}
	}
	return out
}

// Grid is a read-only, sparse view over one sheet.
type Grid struct {
	rows  []Row
	index map[int]int
	cells map[Address]string
}

// New builds a grid from rows in any order. Rows and their cells are sorted;
// duplicate row indices are merged, later cells winning on conflicts.
func New(rows []Row) *Grid {
	g := &Grid{
		index: make(map[int]int, len(rows)),
		cells: make(map[Address]string),
	}
	merged := make(map[int]map[int]string, len(rows))
	for _, r := range rows {
		cols, ok := merged[r.Index]
		if !ok {
			cols = make(map[int]string, len(r.Cells))
			merged[r.Index] = cols
		}
		for _, c := range r.Cells {
			cols[c.Addr.Col] = c.Text
		}
	}

	indices := make([]int, 0, len(merged))
	for idx := range merged {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	g.rows = make([]Row, 0, len(indices))
	for _, idx := range indices {
		cols := merged[idx]
		colNums := make([]int, 0, len(cols))
		for col := range cols {
			colNums = append(colNums, col)
		}
		sort.Ints(colNums)

		row := Row{Index: idx, Cells: make([]Cell, 0, len(colNums))}
		for _, col := range colNums {
			addr := Address{Row: idx, Col: col}
			row.Cells = append(row.Cells, Cell{Addr: addr, Text: cols[col]})
			g.cells[addr] = cols[col]
		}
		g.index[idx] = len(g.rows)
		g.rows = append(g.rows, row)
	}
	return g
}

// FromValues builds a grid from a dense 2D slice. Row i maps to sheet row i+1
// and empty strings are treated as absent cells. Every row is kept, so blank
// rows still occupy an index.
func FromValues(values [][]string) *Grid {
	rows := make([]Row, 0, len(values))
	for i, vals := range values {
		row := Row{Index: i + 1}
		for j, v := range vals {
			if v == "" {
				continue
			}
			row.Cells = append(row.Cells, Cell{Addr: Address{Row: i + 1, Col: j + 1}, Text: v})
		}
		rows = append(rows, row)
	}
	return New(rows)
}

// Rows returns the rows in ascending index order. Callers must not modify them.
func (g *Grid) Rows() []Row {
	if g == nil {
		return nil
	}
	return g.rows
}

// Len reports the number of rows present.
func (g *Grid) Len() int {
	if g == nil {
		return 0
	}
	return len(g.rows)
}

// Row returns the row with the given sheet index.
func (g *Grid) Row(idx int) (Row, bool) {
	if g == nil {
		return Row{}, false
	}
	i, ok := g.index[idx]
	if !ok {
		return Row{}, false
	}
	return g.rows[i], true
}

// Text resolves a cell; absent cells are "".
func (g *Grid) Text(addr Address) string {
	if g == nil {
		return ""
	}
	return g.cells[addr]
}
