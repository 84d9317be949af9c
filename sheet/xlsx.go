package sheet

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// XLSX is a Store backed by a local workbook. Every BatchUpdate saves the file.
type XLSX struct {
	mu    sync.Mutex
	file  *excelize.File
	path  string
	sheet string
}

// OpenXLSX opens the workbook at path. An empty sheet selects the first tab.
func OpenXLSX(path, sheet string) (*XLSX, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		_ = f.Close()
		return nil, fmt.Errorf("workbook %s has no sheet %q", path, sheet)
	}
	return &XLSX{file: f, path: path, sheet: sheet}, nil
}

// Values implements Store.
func (x *XLSX) Values(ctx context.Context) ([][]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	rows, err := x.file.GetRows(x.sheet)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", x.sheet, err)
	}
	return rows, nil
}

// BatchUpdate implements Store. Numeric strings are stored as numbers so the
// workbook behaves like a USER_ENTERED Google write.
func (x *XLSX) BatchUpdate(ctx context.Context, ranges []Range) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, r := range ranges {
		for i, v := range r.Values {
			name, err := excelize.CoordinatesToCellName(r.Column, r.StartRow+i)
			if err != nil {
				return err
			}
			if err := x.file.SetCellValue(x.sheet, name, cellValue(v)); err != nil {
				return fmt.Errorf("set %s: %w", name, err)
			}
		}
	}
	if err := x.file.Save(); err != nil {
		return fmt.Errorf("save workbook %s: %w", x.path, err)
	}
	return nil
}

func cellValue(v string) interface{} {
	if v == "" {
		return ""
	}
	if d, err := decimal.NewFromString(v); err == nil {
		f, _ := d.Float64()
		return f
	}
	return v
}

// Close releases the workbook.
func (x *XLSX) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.file.Close()
}
