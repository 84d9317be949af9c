package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Target is the set of rows a run touches: a contiguous range or explicit ids.
type Target struct {
	Start int
	End   int
	IDs   []int
}

// RangeTarget builds a contiguous [start, end] target.
func RangeTarget(start, end int) Target {
	return Target{Start: start, End: end}
}

// ParseIDs parses "5,6, 9" into an explicit target.
func ParseIDs(s string) (Target, error) {
	var ids []int
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		id, err := strconv.Atoi(part)
		if err != nil {
			return Target{}, fmt.Errorf("invalid row id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return Target{}, fmt.Errorf("row list is empty")
	}
	return Target{IDs: ids}, nil
}

// Explicit reports whether the target is an id list.
func (t Target) Explicit() bool {
	return len(t.IDs) > 0
}

// Validate checks the target against the first data row (the header is excluded).
func (t Target) Validate(firstDataRow int) error {
	if t.Explicit() {
		for _, id := range t.IDs {
			if id < firstDataRow {
				return fmt.Errorf("row id %d is before the first data row %d", id, firstDataRow)
			}
		}
		return nil
	}
	if t.Start < firstDataRow {
		return fmt.Errorf("start row %d is before the first data row %d", t.Start, firstDataRow)
	}
	if t.Start > t.End {
		return fmt.Errorf("start row %d must be less than or equal to end row %d", t.Start, t.End)
	}
	return nil
}

// Rows returns the target's row ids sorted and de-duplicated.
func (t Target) Rows() []int {
	if !t.Explicit() {
		if t.End < t.Start {
			return nil
		}
		out := make([]int, 0, t.End-t.Start+1)
		for id := t.Start; id <= t.End; id++ {
			out = append(out, id)
		}
		return out
	}

	seen := make(map[int]struct{}, len(t.IDs))
	out := make([]int, 0, len(t.IDs))
	for _, id := range t.IDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (t Target) String() string {
	if t.Explicit() {
		parts := make([]string, 0, len(t.IDs))
		for _, id := range t.Rows() {
			parts = append(parts, strconv.Itoa(id))
		}
		return "rows " + strings.Join(parts, ",")
	}
	return fmt.Sprintf("rows %d-%d", t.Start, t.End)
}
