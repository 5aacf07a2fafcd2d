// Package tables finds header-led table regions in a sparse grid and renders
// them as pipe-delimited markdown.
package tables

import "github.com/vinodismyname/xlsxctx/internal/grid"

const (
	// MinHeaderCells is the number of non-empty cells that makes a row a
	// header candidate.
	MinHeaderCells = 2
	// MaxEmptyRun terminates a region after this many consecutive rows with
	// nothing inside the header's column span.
	MaxEmptyRun = 2
)

// Region is a run of rows sharing a header's column span. Rows are strictly
// increasing and start with the header row.
type Region struct {
	StartRow int   `json:"startRow"`
	Rows     []int `json:"rows"`
	MinCol   int   `json:"minCol"`
	MaxCol   int   `json:"maxCol"`
	// Fallback marks the sheet-wide region used when no header was found.
	Fallback bool `json:"fallback,omitempty"`
}

// Detect scans rows in ascending order and returns accepted regions. A region
// is accepted only when it holds a header plus at least one data row.
// Rejected candidates do not claim their rows, so those rows may still start
// or join a later region.
//
// When nothing is accepted, Detect returns a single Fallback region spanning
// every row of the grid (possibly zero rows).
func Detect(g *grid.Grid) []Region {
	rows := g.Rows()
	claimed := make(map[int]bool)
	var regions []Region

	for i, row := range rows {
		if claimed[row.Index] {
			continue
		}
		header := row.NonEmpty()
		if len(header) < MinHeaderCells {
			continue
		}
		region := extend(rows, i, header)
		if len(region.Rows) <= 1 {
			continue
		}
		for _, idx := range region.Rows {
			claimed[idx] = true
		}
		regions = append(regions, region)
	}

	if len(regions) == 0 {
		return []Region{fallback(g)}
	}
	return regions
}

func extend(rows []grid.Row, start int, header []grid.Cell) Region {
	minCol, maxCol := header[0].Addr.Col, header[0].Addr.Col
	for _, c := range header[1:] {
		minCol = min(minCol, c.Addr.Col)
		maxCol = max(maxCol, c.Addr.Col)
	}

	region := Region{
		StartRow: rows[start].Index,
		Rows:     []int{rows[start].Index},
		MinCol:   minCol,
		MaxCol:   maxCol,
	}

	empty := 0
	for _, row := range rows[start+1:] {
		if hasDataWithin(row, minCol, maxCol) {
			region.Rows = append(region.Rows, row.Index)
			empty = 0
			continue
		}
		empty++
		if empty >= MaxEmptyRun {
			break
		}
	}
	return region
}

func hasDataWithin(row grid.Row, minCol, maxCol int) bool {
	for _, c := range row.NonEmpty() {
		if c.Addr.Col >= minCol && c.Addr.Col <= maxCol {
			return true
		}
	}
	return false
}

// fallback spans every row that has cells. Blank rows are left out so they
// neither render nor count as data.
func fallback(g *grid.Grid) Region {
	region := Region{Fallback: true}
	for _, row := range g.Rows() {
		if len(row.Cells) == 0 {
			continue
		}
		if len(region.Rows) == 0 {
			region.StartRow = row.Index
		}
		region.Rows = append(region.Rows, row.Index)
		for _, c := range row.Cells {
			if region.MinCol == 0 || c.Addr.Col < region.MinCol {
				region.MinCol = c.Addr.Col
			}
			region.MaxCol = max(region.MaxCol, c.Addr.Col)
		}
	}
	return region
}
