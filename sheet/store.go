// Package sheet reads and writes the product tracking spreadsheet.
package sheet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Store is a tabular backend addressed by 1-based rows and columns.
type Store interface {
	// Values returns every row of the worksheet, header included.
	Values(ctx context.Context) ([][]string, error)
	// BatchUpdate writes all ranges in a single backend call.
	BatchUpdate(ctx context.Context, ranges []Range) error
}

// Memory is an in-process Store. It backs dry runs and tests.
type Memory struct {
	mu    sync.Mutex
	grid  [][]string
	calls [][]Range
	fail  []error
}

// NewMemory copies values into a new in-memory sheet.
func NewMemory(values [][]string) *Memory {
	grid := make([][]string, len(values))
	for i, row := range values {
		grid[i] = append([]string(nil), row...)
	}
	return &Memory{grid: grid}
}

// Values implements Store.
func (m *Memory) Values(ctx context.Context) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.grid))
	for i, row := range m.grid {
		out[i] = append([]string(nil), row...)
	}
	return out, nil
}

// BatchUpdate implements Store. Errors queued with FailNext are returned first.
func (m *Memory) BatchUpdate(ctx context.Context, ranges []Range) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.fail) > 0 {
		err := m.fail[0]
		m.fail = m.fail[1:]
		if err != nil {
			return err
		}
	}

	copied := make([]Range, len(ranges))
	copy(copied, ranges)
	m.calls = append(m.calls, copied)

	for _, r := range ranges {
		for i, v := range r.Values {
			m.set(r.StartRow+i, r.Column, v)
		}
	}
	return nil
}

func (m *Memory) set(row, col int, v string) {
	for len(m.grid) < row {
		m.grid = append(m.grid, nil)
	}
	for len(m.grid[row-1]) < col {
		m.grid[row-1] = append(m.grid[row-1], "")
	}
	m.grid[row-1][col-1] = v
}

// FailNext queues errors returned by the next BatchUpdate calls.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = append(m.fail, errs...)
}

// Cell returns the value at a 1-based position.
func (m *Memory) Cell(row, col int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row <= 0 || row > len(m.grid) || col <= 0 || col > len(m.grid[row-1]) {
		return ""
	}
	return m.grid[row-1][col-1]
}

// Calls returns the ranges of every successful BatchUpdate call.
func (m *Memory) Calls() [][]Range {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Range, len(m.calls))
	copy(out, m.calls)
	return out
}

// DryRun reads from a real store and keeps writes in memory.
type DryRun struct {
	*Memory
	source string
}

// NewDryRun snapshots store into memory.
func NewDryRun(ctx context.Context, store Store) (*DryRun, error) {
	values, err := store.Values(ctx)
	if err != nil {
		return nil, fmt.Errorf("read sheet for dry run: %w", err)
	}
	return &DryRun{Memory: NewMemory(values), source: fmt.Sprintf("%T", store)}, nil
}

// BatchUpdate logs the planned ranges and applies them in memory only.
func (d *DryRun) BatchUpdate(ctx context.Context, ranges []Range) error {
	for _, r := range ranges {
		slog.Info("dry run: would write range",
			slog.String("store", d.source),
			slog.String("range", r.A1()),
			slog.Any("values", r.Values),
		)
	}
	return d.Memory.BatchUpdate(ctx, ranges)
}
