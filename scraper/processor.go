package scraper

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aluiziolira/go-price-sync/metrics"
	"github.com/aluiziolira/go-price-sync/models"
	"github.com/aluiziolira/go-price-sync/parser"
)

// LinkAggregator aggregates all links of a cell.
type LinkAggregator interface {
	Aggregate(ctx context.Context, cell string) Combined
}

// RowSource looks up a loaded sheet row by its 1-based id.
type RowSource interface {
	Row(id int) (models.Row, bool)
}

// Processor turns one row id into a RowResult, applying the fallback policy.
type Processor struct {
	agg     LinkAggregator
	rows    RowSource
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewProcessor builds a row processor.
func NewProcessor(agg LinkAggregator, rows RowSource, m *metrics.Metrics) *Processor {
	return &Processor{agg: agg, rows: rows, metrics: m, now: time.Now}
}

// Process scrapes one row. Rows with an empty link cell succeed without any
// network call; rows whose price could not be scraped keep their previous
// price and seller and are flagged for the retry phase. A row whose scrape
// is cut short by ctx comes back Interrupted and must not be written.
func (p *Processor) Process(ctx context.Context, rowID int) models.RowResult {
	if ctx.Err() != nil {
		return interrupted(rowID)
	}
	row, ok := p.rows.Row(rowID)
	if !ok {
		slog.Warn("row out of range, skipping", slog.Int("row", rowID))
		p.metrics.IncRow(string(models.StatusOutOfRange))
		return models.RowResult{RowID: rowID, Status: models.StatusOutOfRange}
	}

	result := models.RowResult{
		RowID:     rowID,
		Stock:     models.StockOut,
		Status:    models.StatusSuccessful,
		UpdatedAt: p.now(),
	}

	if strings.TrimSpace(row.Links) == "" {
		p.metrics.IncRow(string(result.Status))
		return result
	}

	combined := p.agg.Aggregate(ctx, row.Links)
	if ctx.Err() != nil {
		slog.Debug("row interrupted", slog.Int("row", rowID), slog.Int("links_resolved", combined.Resolved))
		return interrupted(rowID)
	}
	result.Price = combined.Price
	result.Stock = combined.Stock
	result.Seller = combined.Seller

	if result.Price == "" {
		result.Price = row.OldPrice
		result.Status = models.StatusFailedRetryPending
	}
	if result.Stock <= models.StockOut {
		result.Stock = models.StockOut
	}
	if strings.TrimSpace(result.Seller) == "" {
		result.Seller = row.BuyBox
	}
	if result.Status == models.StatusSuccessful {
		result.PriceDiff = priceDiff(row.OldPrice, result.Price)
	}

	slog.Info("row processed",
		slog.Int("row", rowID),
		slog.String("price", result.Price),
		slog.Int("stock", int(result.Stock)),
		slog.String("seller", result.Seller),
		slog.String("status", string(result.Status)),
		slog.Int("links_resolved", combined.Resolved),
	)
	p.metrics.IncRow(string(result.Status))
	return result
}

func interrupted(rowID int) models.RowResult {
	return models.RowResult{RowID: rowID, Status: models.StatusInterrupted}
}

// priceDiff returns current-previous. An empty previous price counts as zero.
func priceDiff(previous, current string) string {
	if current == "" {
		return ""
	}
	prev := decimal.Zero
	if strings.TrimSpace(previous) != "" {
		var err error
		if prev, err = parser.ParsePrice(previous); err != nil {
			return ""
		}
	}
	cur, err := parser.ParsePrice(current)
	if err != nil {
		return ""
	}
	return cur.Sub(prev).StringFixed(2)
}
