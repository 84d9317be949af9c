package sheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/aluiziolira/go-price-sync/config"
	"github.com/aluiziolira/go-price-sync/metrics"
	"github.com/aluiziolira/go-price-sync/retry"
)

// ErrQuotaExceeded marks a backend answer that the write quota is exhausted.
var ErrQuotaExceeded = errors.New("sheet: quota exceeded")

// Writer issues batched range writes with quota backoff.
type Writer struct {
	store   Store
	policy  retry.Policy
	metrics *metrics.Metrics
}

// NewWriter wraps store with the write retry policy from cfg.
func NewWriter(store Store, cfg *config.Config, m *metrics.Metrics) *Writer {
	w := &Writer{store: store, metrics: m}
	w.policy = retry.Policy{
		MaxAttempts: cfg.WriteAttempts,
		Backoff:     retry.Linear(cfg.WriteBackoffBase, cfg.WriteBackoffStep),
		Retryable:   IsQuotaError,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			w.metrics.IncSheetRetry()
			slog.Warn("sheet quota exceeded, backing off",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Any("error", err),
			)
		},
	}
	return w
}

// Write sends one or many ranges in a single backend call. Quota errors are
// retried; any other error is returned immediately.
func (w *Writer) Write(ctx context.Context, ranges ...Range) error {
	if len(ranges) == 0 {
		return nil
	}
	err := w.policy.Do(ctx, func(ctx context.Context) error {
		return w.store.BatchUpdate(ctx, ranges)
	})
	if err != nil {
		w.metrics.IncSheetWrite("failed")
		return fmt.Errorf("write %d ranges starting at %s: %w", len(ranges), ranges[0].A1(), err)
	}
	w.metrics.IncSheetWrite("ok")
	return nil
}

// IsQuotaError reports whether err is a rate-limit or quota answer.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests {
			return true
		}
		for _, item := range apiErr.Errors {
			if strings.Contains(item.Reason, "RateLimitExceeded") || strings.Contains(item.Reason, "rateLimitExceeded") {
				return true
			}
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "Quota exceeded")
}
