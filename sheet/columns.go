package sheet

import (
	"fmt"
	"sort"
	"strings"
)

// ColumnLetter converts a 1-based column index to its A1 letters using
// bijective base-26: 1 -> A, 26 -> Z, 27 -> AA, 702 -> ZZ.
func ColumnLetter(index int) string {
	if index <= 0 {
		return ""
	}
	var buf []byte
	for index > 0 {
		index--
		buf = append(buf, byte('A'+index%26))
		index /= 26
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// ColumnIndex is the inverse of ColumnLetter.
func ColumnIndex(letters string) (int, error) {
	letters = strings.ToUpper(strings.TrimSpace(letters))
	if letters == "" {
		return 0, fmt.Errorf("empty column letters")
	}
	index := 0
	for _, r := range letters {
		if r < 'A' || r > 'Z' {
			return 0, fmt.Errorf("invalid column letters %q", letters)
		}
		index = index*26 + int(r-'A'+1)
	}
	return index, nil
}

// Range is a single-column run of cells starting at StartRow.
type Range struct {
	Column   int
	StartRow int
	Values   []string
}

// EndRow is the last row covered by the range.
func (r Range) EndRow() int {
	return r.StartRow + len(r.Values) - 1
}

// A1 renders the range in A1 notation without a sheet prefix.
func (r Range) A1() string {
	col := ColumnLetter(r.Column)
	if len(r.Values) <= 1 {
		return fmt.Sprintf("%s%d", col, r.StartRow)
	}
	return fmt.Sprintf("%s%d:%s%d", col, r.StartRow, col, r.EndRow())
}

// ColumnRuns groups per-row cell values of one column into contiguous ranges.
func ColumnRuns(column int, cells map[int]string) []Range {
	if column <= 0 || len(cells) == 0 {
		return nil
	}
	rows := make([]int, 0, len(cells))
	for row := range cells {
		rows = append(rows, row)
	}
	sort.Ints(rows)

	var out []Range
	current := Range{Column: column, StartRow: rows[0]}
	for i, row := range rows {
		if i > 0 && row != rows[i-1]+1 {
			out = append(out, current)
			current = Range{Column: column, StartRow: row}
		}
		current.Values = append(current.Values, cells[row])
	}
	return append(out, current)
}
