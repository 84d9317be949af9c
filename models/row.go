// Package models defines the data structures shared by the sync stages.
package models

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Stock is a three-way stock level: out of stock (0), a low-stock count,
// or the ample sentinel when the page shows no count.
type Stock int

const (
	StockOut   Stock = 0
	StockAmple Stock = 100

	// LowStockThreshold is the largest count still reported as low stock.
	LowStockThreshold Stock = 10
	// LowStockDefault is used when a low-stock badge carries no number.
	LowStockDefault Stock = 10
)

// String renders the level as written to the sheet.
func (s Stock) String() string {
	return strconv.Itoa(int(s))
}

// Status is the per-row flag written to the Flag column.
type Status string

const (
	StatusSuccessful          Status = "Successful"
	StatusFailedRetryPending  Status = "FailedRetryPending"
	StatusManualEntryRequired Status = "ManualEntryRequired"
	// StatusOutOfRange marks row ids outside the sheet; never written.
	StatusOutOfRange Status = "OutOfRange"
	// StatusInterrupted marks rows whose scrape was cut short by
	// cancellation; never written.
	StatusInterrupted Status = "Interrupted"
)

// Writable reports whether a result with this status may be written back.
func (s Status) Writable() bool {
	return s != StatusOutOfRange && s != StatusInterrupted
}

// Row is one data row of the tracking sheet, resolved by header name.
type Row struct {
	ID         int
	Links      string
	TodayPrice string
	OldPrice   string
	TodayStock string
	OldStock   string
	BuyBox     string
	UpdatedAt  string
	Flag       string
}

// ScrapeResult is the extraction of a single product page.
type ScrapeResult struct {
	Price  *decimal.Decimal
	Stock  Stock
	Seller string
	Err    bool
}

// HasPrice reports whether a price was resolved.
func (r ScrapeResult) HasPrice() bool {
	return r.Price != nil
}

// RowResult is the outcome of processing one row.
type RowResult struct {
	RowID     int       `csv:"row" json:"row"`
	Price     string    `csv:"price" json:"price"`
	Stock     Stock     `csv:"stock" json:"stock"`
	Seller    string    `csv:"seller" json:"seller"`
	PriceDiff string    `csv:"price_diff" json:"price_diff,omitempty"`
	Status    Status    `csv:"status" json:"status"`
	UpdatedAt time.Time `csv:"updated_at" json:"updated_at"`
}

// RunReport holds the overall result of a sync run.
type RunReport struct {
	RunID        string
	StartTime    time.Time
	EndTime      time.Time
	Targeted     int
	Processed    int
	Blocks       int
	Retried      int
	OutOfRange   []int
	Interrupted  []int
	FailedRows   []int
	StatusCounts map[Status]int
	Results      []RowResult
}
