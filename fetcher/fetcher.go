// Package fetcher retrieves rendered product page markup.
package fetcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-price-sync/config"
	"github.com/aluiziolira/go-price-sync/metrics"
	"github.com/aluiziolira/go-price-sync/retry"
)

// Fetcher performs a single fetch attempt for a product URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Retrying wraps a Fetcher with the fetch retry policy. It never reports
// errors to its callers: a failed fetch is an empty result.
type Retrying struct {
	next    Fetcher
	policy  retry.Policy
	metrics *metrics.Metrics
}

// NewRetrying builds the retrying fetcher from cfg.
func NewRetrying(next Fetcher, cfg *config.Config, m *metrics.Metrics) *Retrying {
	r := &Retrying{next: next, metrics: m}
	r.policy = retry.Policy{
		MaxAttempts: cfg.FetchAttempts,
		Backoff:     conflictAware(cfg.FetchRetryDelay, cfg.ConflictBackoff),
		OnRetry: func(attempt int, err error, delay time.Duration) {
			r.metrics.IncFetchRetry()
			slog.Debug("fetch attempt failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Any("error", err),
			)
		},
	}
	return r
}

// FetchHTML returns the page markup and whether the fetch succeeded.
func (r *Retrying) FetchHTML(ctx context.Context, url string) (string, bool) {
	var html string
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		start := time.Now()
		body, err := r.next.Fetch(ctx, url)
		r.metrics.ObserveFetch(time.Since(start))
		if err != nil {
			r.metrics.IncFetch("failed")
			r.metrics.IncFetchError(errorTypeLabel(err))
			return err
		}
		r.metrics.IncFetch("ok")
		html = body
		return nil
	})
	if err != nil {
		slog.Warn("fetch failed after retries",
			slog.String("url", url),
			slog.String("category", errorTypeLabel(err)),
			slog.Any("error", err),
		)
		return "", false
	}
	return html, true
}

func conflictAware(delay, conflict time.Duration) retry.BackoffFunc {
	return func(_ int, err error) time.Duration {
		if IsRateLimited(err) {
			return conflict
		}
		return delay
	}
}
