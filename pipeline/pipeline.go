// Package pipeline schedules row scraping in blocks and writes results back
// to the sheet.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-price-sync/config"
	"github.com/aluiziolira/go-price-sync/models"
	"github.com/aluiziolira/go-price-sync/sheet"
)

// DateLayout is the format of the Stock Update Date column.
const DateLayout = "2006-01-02 15:04:05"

// RowProcessor scrapes a single row.
type RowProcessor interface {
	Process(ctx context.Context, rowID int) models.RowResult
}

// RangeWriter persists ranges in one backend call.
type RangeWriter interface {
	Write(ctx context.Context, ranges ...sheet.Range) error
}

// Pipeline runs snapshot, block scraping and the retry phase.
type Pipeline struct {
	proc      RowProcessor
	table     *sheet.Table
	writer    RangeWriter
	blockSize int
	workers   int
	firstRow  int
	runID     string
}

// NewPipeline wires a processor, the loaded table and a sheet writer.
func NewPipeline(proc RowProcessor, table *sheet.Table, writer RangeWriter, cfg *config.Config) *Pipeline {
	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = 100
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Pipeline{
		proc:      proc,
		table:     table,
		writer:    writer,
		blockSize: blockSize,
		workers:   workers,
		firstRow:  cfg.FirstDataRow,
		runID:     uuid.NewString(),
	}
}

// RunID identifies this run in logs and reports.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Run processes every row of target. The returned report is non-nil whenever
// the snapshot was attempted, including on cancellation.
func (p *Pipeline) Run(ctx context.Context, target models.Target) (*models.RunReport, error) {
	if err := target.Validate(p.firstRow); err != nil {
		return nil, err
	}

	report := &models.RunReport{
		RunID:        p.runID,
		StartTime:    time.Now(),
		StatusCounts: make(map[models.Status]int),
	}
	defer func() { report.EndTime = time.Now() }()

	ids := target.Rows()
	present, outOfRange := p.table.Split(ids)
	report.Targeted = len(ids)
	report.OutOfRange = outOfRange
	for _, id := range outOfRange {
		slog.Warn("row out of range, skipping", slog.Int("row", id))
		report.StatusCounts[models.StatusOutOfRange]++
	}
	if len(present) == 0 {
		slog.Warn("no rows to process", slog.String("target", target.String()))
		return report, nil
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	// Fallback reads the previous values, so the snapshot must land first.
	if err := p.writer.Write(context.WithoutCancel(ctx), p.table.SnapshotRanges(present)...); err != nil {
		return report, fmt.Errorf("snapshot previous values: %w", err)
	}
	p.table.CommitSnapshot(present)
	slog.Info("snapshot written", slog.Int("rows", len(present)))

	byRow := make(map[int]models.RowResult, len(present))
	for start := 0; start < len(present); start += p.blockSize {
		if err := ctx.Err(); err != nil {
			p.finish(report, byRow)
			return report, err
		}
		end := min(start+p.blockSize, len(present))
		block := present[start:end]

		results := p.processRows(ctx, block)
		// Interrupted rows are skipped by ResultRanges, so only finished
		// scrapes reach the sheet.
		if err := p.writer.Write(context.WithoutCancel(ctx), p.table.ResultRanges(results, DateLayout)...); err != nil {
			p.finish(report, byRow)
			return report, fmt.Errorf("write block rows %d-%d: %w", block[0], block[len(block)-1], err)
		}
		written := 0
		for _, r := range results {
			if r.Status == models.StatusInterrupted {
				report.Interrupted = append(report.Interrupted, r.RowID)
				continue
			}
			byRow[r.RowID] = r
			written++
		}
		report.Blocks++
		slog.Info("block written",
			slog.Int("block", report.Blocks),
			slog.Int("first_row", block[0]),
			slog.Int("last_row", block[len(block)-1]),
			slog.Int("rows", written),
		)
	}
	if err := ctx.Err(); err != nil {
		p.finish(report, byRow)
		slog.Warn("run interrupted", slog.Any("rows_untouched", report.Interrupted))
		return report, err
	}

	if err := p.retryPending(ctx, report, byRow); err != nil {
		p.finish(report, byRow)
		return report, err
	}
	if err := ctx.Err(); err != nil {
		p.finish(report, byRow)
		slog.Warn("retry phase interrupted", slog.Any("rows_untouched", report.Interrupted))
		return report, err
	}

	p.finish(report, byRow)
	if len(report.FailedRows) > 0 {
		slog.Warn("rows need manual entry", slog.Any("rows", report.FailedRows))
	}
	slog.Info("run complete",
		slog.Int("processed", report.Processed),
		slog.Int("blocks", report.Blocks),
		slog.Int("retried", report.Retried),
		slog.Int("failed", len(report.FailedRows)),
	)
	return report, nil
}

// retryPending re-runs rows still flagged FailedRetryPending. Recovered rows
// are fully rewritten; the rest only get their flag escalated.
func (p *Pipeline) retryPending(ctx context.Context, report *models.RunReport, byRow map[int]models.RowResult) error {
	var pending []int
	for id, r := range byRow {
		if r.Status == models.StatusFailedRetryPending {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sort.Ints(pending)
	report.Retried = len(pending)
	slog.Info("retrying failed rows", slog.Int("rows", len(pending)))

	var recovered []models.RowResult
	var failed []int
	for _, r := range p.processRows(ctx, pending) {
		if r.Status == models.StatusInterrupted {
			// Keeps its FailedRetryPending flag for the next run.
			report.Interrupted = append(report.Interrupted, r.RowID)
			continue
		}
		if r.Status == models.StatusSuccessful {
			recovered = append(recovered, r)
			byRow[r.RowID] = r
			continue
		}
		failed = append(failed, r.RowID)
		prev := byRow[r.RowID]
		prev.Status = models.StatusManualEntryRequired
		byRow[r.RowID] = prev
	}

	ranges := p.table.ResultRanges(recovered, DateLayout)
	ranges = append(ranges, p.table.FlagRanges(failed, models.StatusManualEntryRequired)...)
	if err := p.writer.Write(context.WithoutCancel(ctx), ranges...); err != nil {
		return fmt.Errorf("write retry results: %w", err)
	}
	slog.Info("retry phase complete",
		slog.Int("recovered", len(recovered)),
		slog.Int("manual_entry", len(failed)),
	)
	return nil
}

// processRows runs the processor for ids on a bounded worker pool and
// returns the results in id order. Once ctx is done no further rows are
// handed out; those come back Interrupted.
func (p *Pipeline) processRows(ctx context.Context, ids []int) []models.RowResult {
	results := make([]models.RowResult, len(ids))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, id := range ids {
		if ctx.Err() != nil {
			results[i] = models.RowResult{RowID: id, Status: models.StatusInterrupted}
			continue
		}
		g.Go(func() error {
			results[i] = p.proc.Process(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) finish(report *models.RunReport, byRow map[int]models.RowResult) {
	ids := make([]int, 0, len(byRow))
	for id := range byRow {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	report.Results = report.Results[:0]
	report.FailedRows = report.FailedRows[:0]
	for _, id := range ids {
		r := byRow[id]
		report.Results = append(report.Results, r)
		report.StatusCounts[r.Status]++
		if r.Status != models.StatusSuccessful {
			report.FailedRows = append(report.FailedRows, id)
		}
	}
	report.Processed = len(ids)
}
