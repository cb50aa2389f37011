package sheet

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	appLog "termcal/internal/log"
)

// Grid is a rectangular view of one worksheet. Absent cells read as "".
type Grid struct {
	Rows [][]string
	Cols int
}

// Cell returns the trimmed value at (row, col), or "" when out of range.
func (g Grid) Cell(row, col int) string {
	if row < 0 || row >= len(g.Rows) || col < 0 || col >= len(g.Rows[row]) {
		return ""
	}
	return strings.TrimSpace(g.Rows[row][col])
}

// Raw returns the untrimmed value at (row, col).
func (g Grid) Raw(row, col int) string {
	if row < 0 || row >= len(g.Rows) || col < 0 || col >= len(g.Rows[row]) {
		return ""
	}
	return g.Rows[row][col]
}

// NewGrid pads rows to the widest row so every row has Cols cells.
func NewGrid(rows [][]string) Grid {
	cols := 0
	for _, r := range rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		padded := make([]string, cols)
		copy(padded, r)
		out[i] = padded
	}
	return Grid{Rows: out, Cols: cols}
}

// ReadGrid reads the first worksheet of an .xlsx workbook.
//
// Registrar exports often under-report their <dimension>, so the grid is
// sized from the cells actually present rather than from sheet metadata.
func ReadGrid(r io.Reader) (Grid, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Grid{}, fmt.Errorf("sheet: open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Grid{}, errors.New("sheet: workbook has no sheets")
	}
	if len(sheets) > 1 {
		appLog.Warn("sheet: workbook has several sheets; reading the first", "sheets", len(sheets), "first", sheets[0])
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: false})
	if err != nil {
		return Grid{}, fmt.Errorf("sheet: read %q: %w", sheets[0], err)
	}
	if err := normalizeDates(f, sheets[0], rows); err != nil {
		return Grid{}, err
	}

	g := NewGrid(rows)
	appLog.Debug("sheet read", "sheet", sheets[0], "rows", len(g.Rows), "cols", g.Cols)
	return g, nil
}

// DateLayout is how date-styled cells are rendered into the grid,
// whatever number format the workbook applied to them.
const DateLayout = "1/2/06"

// isDateFormat reports whether a built-in number format renders a date.
func isDateFormat(id int) bool {
	return (id >= 14 && id <= 17) || id == 22 || (id >= 27 && id <= 36) || (id >= 50 && id <= 58)
}

// normalizeDates rewrites date-styled numeric cells in place as M/d/yy.
// Excel stores them as serial numbers and excelize renders them with the
// cell's format (mm-dd-yy, m/d/yy h:mm, ...), which differs per export.
func normalizeDates(f *excelize.File, sheetName string, rows [][]string) error {
	raw, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return fmt.Errorf("sheet: read %q: %w", sheetName, err)
	}
	date1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}

	formats := map[int]bool{}
	for r := range rows {
		if r >= len(raw) {
			break
		}
		for c := range rows[r] {
			if c >= len(raw[r]) || raw[r][c] == "" {
				continue
			}
			serial, err := strconv.ParseFloat(raw[r][c], 64)
			if err != nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return fmt.Errorf("sheet: %w", err)
			}
			styleID, err := f.GetCellStyle(sheetName, cell)
			if err != nil || styleID == 0 {
				continue
			}
			isDate, seen := formats[styleID]
			if !seen {
				if style, err := f.GetStyle(styleID); err == nil && style != nil {
					isDate = isDateFormat(style.NumFmt)
				}
				formats[styleID] = isDate
			}
			if !isDate {
				continue
			}
			t, err := excelize.ExcelDateToTime(serial, date1904)
			if err != nil {
				appLog.Debug("sheet: date cell out of range", "cell", cell, "value", raw[r][c])
				continue
			}
			rows[r][c] = t.Format(DateLayout)
		}
	}
	return nil
}
