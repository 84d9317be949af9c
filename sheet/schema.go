package sheet

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aluiziolira/go-price-sync/models"
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("sheet: required column missing")

// Header names, first match wins.
var (
	linkHeaders       = []string{"Link", "Walmart Link", "Item Link"}
	todayPriceHeaders = []string{"Today Price"}
	oldPriceHeaders   = []string{"Old Price"}
	todayStockHeaders = []string{"Today Stock"}
	oldStockHeaders   = []string{"Old Stock"}
	buyBoxHeaders     = []string{"BuyBox Winner", "Buy Box Winner", "Seller"}
	updatedAtHeaders  = []string{"Stock Update Date"}
	flagHeaders       = []string{"Flag", "Status"}
	priceDiffHeaders  = []string{"Price Difference"}
)

// Schema holds 1-based column positions resolved from the header row.
// PriceDiff is optional and zero when the sheet has no such column.
type Schema struct {
	Link       int
	TodayPrice int
	OldPrice   int
	TodayStock int
	OldStock   int
	BuyBox     int
	UpdatedAt  int
	Flag       int
	PriceDiff  int
}

// ResolveSchema finds every column by header name.
func ResolveSchema(header []string) (Schema, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := index[key]; !ok && key != "" {
			index[key] = i + 1
		}
	}
	find := func(names []string) int {
		for _, name := range names {
			if col, ok := index[strings.ToLower(name)]; ok {
				return col
			}
		}
		return 0
	}

	s := Schema{
		Link:       find(linkHeaders),
		TodayPrice: find(todayPriceHeaders),
		OldPrice:   find(oldPriceHeaders),
		TodayStock: find(todayStockHeaders),
		OldStock:   find(oldStockHeaders),
		BuyBox:     find(buyBoxHeaders),
		UpdatedAt:  find(updatedAtHeaders),
		Flag:       find(flagHeaders),
		PriceDiff:  find(priceDiffHeaders),
	}

	required := []struct {
		col  int
		name string
	}{
		{s.Link, linkHeaders[0]},
		{s.TodayPrice, todayPriceHeaders[0]},
		{s.OldPrice, oldPriceHeaders[0]},
		{s.TodayStock, todayStockHeaders[0]},
		{s.OldStock, oldStockHeaders[0]},
		{s.BuyBox, buyBoxHeaders[0]},
		{s.UpdatedAt, updatedAtHeaders[0]},
		{s.Flag, flagHeaders[0]},
	}
	var missing []string
	for _, r := range required {
		if r.col == 0 {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return Schema{}, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return s, nil
}

// Table is the loaded, typed view of the sheet's data rows.
type Table struct {
	schema Schema
	mu     sync.RWMutex
	rows   map[int]models.Row
}

// NewTable builds typed rows from raw values. Row ids are 1-based sheet
// positions; rows before firstDataRow are never loaded.
func NewTable(values [][]string, schema Schema, firstDataRow int) *Table {
	t := &Table{schema: schema, rows: make(map[int]models.Row, len(values))}
	for i := firstDataRow - 1; i < len(values); i++ {
		raw := values[i]
		id := i + 1
		t.rows[id] = models.Row{
			ID:         id,
			Links:      cell(raw, schema.Link),
			TodayPrice: cell(raw, schema.TodayPrice),
			OldPrice:   cell(raw, schema.OldPrice),
			TodayStock: cell(raw, schema.TodayStock),
			OldStock:   cell(raw, schema.OldStock),
			BuyBox:     cell(raw, schema.BuyBox),
			UpdatedAt:  cell(raw, schema.UpdatedAt),
			Flag:       cell(raw, schema.Flag),
		}
	}
	return t
}

func cell(row []string, col int) string {
	if col <= 0 || col > len(row) {
		return ""
	}
	return strings.TrimSpace(row[col-1])
}

// Schema returns the resolved column positions.
func (t *Table) Schema() Schema {
	return t.schema
}

// Row implements the processor's row lookup.
func (t *Table) Row(id int) (models.Row, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[id]
	return row, ok
}

// Split separates ids present in the sheet from out-of-range ids.
func (t *Table) Split(ids []int) (present, outOfRange []int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range ids {
		if _, ok := t.rows[id]; ok {
			present = append(present, id)
		} else {
			outOfRange = append(outOfRange, id)
		}
	}
	return present, outOfRange
}

// SnapshotRanges returns the Today -> Old copy for ids as column ranges.
func (t *Table) SnapshotRanges(ids []int) []Range {
	t.mu.RLock()
	defer t.mu.RUnlock()
	prices := make(map[int]string, len(ids))
	stocks := make(map[int]string, len(ids))
	for _, id := range ids {
		row, ok := t.rows[id]
		if !ok {
			continue
		}
		prices[id] = row.TodayPrice
		stocks[id] = row.TodayStock
	}
	return append(ColumnRuns(t.schema.OldPrice, prices), ColumnRuns(t.schema.OldStock, stocks)...)
}

// CommitSnapshot mirrors a written snapshot into the loaded rows so the
// fallback policy reads this run's previous values.
func (t *Table) CommitSnapshot(ids []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		row, ok := t.rows[id]
		if !ok {
			continue
		}
		row.OldPrice = row.TodayPrice
		row.OldStock = row.TodayStock
		t.rows[id] = row
	}
}

// ResultRanges lays out row results as one set of column ranges.
func (t *Table) ResultRanges(results []models.RowResult, dateLayout string) []Range {
	prices := make(map[int]string, len(results))
	stocks := make(map[int]string, len(results))
	sellers := make(map[int]string, len(results))
	dates := make(map[int]string, len(results))
	flags := make(map[int]string, len(results))
	diffs := make(map[int]string, len(results))

	for _, r := range results {
		if !r.Status.Writable() {
			continue
		}
		prices[r.RowID] = r.Price
		stocks[r.RowID] = r.Stock.String()
		sellers[r.RowID] = r.Seller
		dates[r.RowID] = r.UpdatedAt.Format(dateLayout)
		flags[r.RowID] = string(r.Status)
		diffs[r.RowID] = r.PriceDiff
	}

	var out []Range
	out = append(out, ColumnRuns(t.schema.TodayPrice, prices)...)
	out = append(out, ColumnRuns(t.schema.TodayStock, stocks)...)
	out = append(out, ColumnRuns(t.schema.BuyBox, sellers)...)
	out = append(out, ColumnRuns(t.schema.UpdatedAt, dates)...)
	out = append(out, ColumnRuns(t.schema.Flag, flags)...)
	out = append(out, ColumnRuns(t.schema.PriceDiff, diffs)...)
	return out
}

// FlagRanges writes only the status flag for the given rows.
func (t *Table) FlagRanges(ids []int, status models.Status) []Range {
	flags := make(map[int]string, len(ids))
	for _, id := range ids {
		flags[id] = string(status)
	}
	return ColumnRuns(t.schema.Flag, flags)
}
