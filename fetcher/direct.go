package fetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-price-sync/config"
)

// Direct fetches product pages without the rendering proxy. It only works for
// pages that render their price server side and is meant for local runs.
type Direct struct {
	collector *colly.Collector
}

// NewDirect builds a synchronous colly collector configured from cfg.
func NewDirect(cfg *config.Config) (*Direct, error) {
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.FetchTimeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.FetchTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Workers,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	return &Direct{collector: collector}, nil
}

// Fetch visits pageURL once. The visit runs in the background so ctx
// cancellation returns early; the collector's request timeout bounds it.
func (d *Direct) Fetch(ctx context.Context, pageURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", classifyError(err, 0)
	}

	c := d.collector.Clone()

	var (
		mu       sync.Mutex
		body     string
		status   int
		visitErr error
	)
	c.OnResponse(func(r *colly.Response) {
		mu.Lock()
		body = string(r.Body)
		status = r.StatusCode
		mu.Unlock()
	})
	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		if r != nil {
			status = r.StatusCode
		}
		visitErr = err
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return "", classifyError(ctx.Err(), 0)
	case err := <-done:
		mu.Lock()
		defer mu.Unlock()
		if visitErr == nil {
			visitErr = err
		}
		if visitErr != nil || status != http.StatusOK {
			if classified := classifyError(visitErr, status); classified != nil {
				return "", classified
			}
			return "", ErrEmptyBody
		}
		if strings.TrimSpace(body) == "" {
			return "", ErrEmptyBody
		}
		return body, nil
	}
}
