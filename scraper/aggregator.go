// Package scraper turns a row's link cell into one aggregated row result.
package scraper

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"

	"github.com/aluiziolira/go-price-sync/config"
	"github.com/aluiziolira/go-price-sync/metrics"
	"github.com/aluiziolira/go-price-sync/models"
	"github.com/aluiziolira/go-price-sync/parser"
	"github.com/aluiziolira/go-price-sync/retry"
)

var linkSeparators = regexp.MustCompile(`[,\s|]+`)

// PageFetcher returns page markup and whether the fetch succeeded.
type PageFetcher interface {
	FetchHTML(ctx context.Context, url string) (string, bool)
}

// Combined is the aggregate of every link in one cell.
type Combined struct {
	Price  string
	Stock  models.Stock
	Seller string
	// Resolved counts links that were fetched successfully.
	Resolved int
}

// Aggregator fetches and extracts each link of a cell and folds the results.
type Aggregator struct {
	fetcher      PageFetcher
	layoutFor    func(link string) parser.ExtractFunc
	priceRetries int
	retryDelay   time.Duration
	linkDelay    time.Duration
	cache        *expirable.LRU[string, models.ScrapeResult]
	metrics      *metrics.Metrics
}

// NewAggregator builds an aggregator that picks the page layout per link host.
func NewAggregator(f PageFetcher, cfg *config.Config, m *metrics.Metrics) *Aggregator {
	a := &Aggregator{
		fetcher:      f,
		layoutFor:    parser.ForURL,
		priceRetries: cfg.PriceRetries,
		retryDelay:   cfg.FetchRetryDelay,
		linkDelay:    cfg.LinkDelay,
		metrics:      m,
	}
	if cfg.CacheSize > 0 {
		a.cache = expirable.NewLRU[string, models.ScrapeResult](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return a
}

// SplitLinks splits a cell on commas, pipes and whitespace and keeps URL tokens.
func SplitLinks(cell string) []string {
	var links []string
	for _, token := range linkSeparators.Split(strings.TrimSpace(cell), -1) {
		if strings.HasPrefix(token, "http") {
			links = append(links, token)
		}
	}
	return links
}

// Aggregate scrapes every link in cell. Links that cannot be fetched are
// skipped; they never fail the whole cell.
func (a *Aggregator) Aggregate(ctx context.Context, cell string) Combined {
	links := SplitLinks(cell)
	if len(links) == 0 {
		return Combined{Stock: models.StockOut}
	}

	var (
		results []models.ScrapeResult
		fetched bool
	)
	for _, link := range links {
		if cached, ok := a.cached(link); ok {
			results = append(results, cached)
			continue
		}

		// Pacing spaces the fetches of one cell only. Rows run concurrently,
		// so the overall request rate is bounded by the proxy limiter.
		if fetched {
			if err := retry.Sleep(ctx, a.linkDelay); err != nil {
				slog.Debug("link pacing interrupted", slog.Any("error", err))
				break
			}
		}
		fetched = true

		result, ok := a.scrapeLink(ctx, link)
		if !ok {
			slog.Warn("skipping link after failed fetches", slog.String("url", link))
			continue
		}
		results = append(results, result)
	}

	return combine(results)
}

func (a *Aggregator) cached(link string) (models.ScrapeResult, bool) {
	if a.cache == nil {
		return models.ScrapeResult{}, false
	}
	result, ok := a.cache.Get(link)
	if ok {
		a.metrics.IncCacheHit()
	}
	return result, ok
}

func (a *Aggregator) scrapeLink(ctx context.Context, link string) (models.ScrapeResult, bool) {
	html, ok := a.fetcher.FetchHTML(ctx, link)
	if !ok {
		return models.ScrapeResult{}, false
	}
	extract := a.layoutFor(link)
	result := extract(html)

	for attempt := 1; !result.HasPrice() && attempt <= a.priceRetries; attempt++ {
		slog.Debug("price missing, re-fetching", slog.String("url", link), slog.Int("attempt", attempt))
		a.metrics.IncPriceRetry()
		if err := retry.Sleep(ctx, a.retryDelay); err != nil {
			break
		}
		html, ok := a.fetcher.FetchHTML(ctx, link)
		if !ok {
			continue
		}
		if again := extract(html); again.HasPrice() {
			result = again
		}
	}

	if !result.HasPrice() {
		slog.Warn("price still missing after re-fetches", slog.String("url", link))
	} else if a.cache != nil {
		a.cache.Add(link, result)
	}
	return result, true
}

func combine(results []models.ScrapeResult) Combined {
	out := Combined{Stock: models.StockOut, Resolved: len(results)}
	if len(results) == 0 {
		return out
	}

	total := decimal.Zero
	priced := 0
	sellers := make(map[string]struct{})
	outOfStock := false
	minStock := models.StockAmple

	for _, r := range results {
		if r.HasPrice() {
			total = total.Add(*r.Price)
			priced++
		}
		if r.Seller != "" {
			sellers[r.Seller] = struct{}{}
		}
		if r.Stock <= models.StockOut {
			outOfStock = true
		} else if r.Stock < minStock {
			minStock = r.Stock
		}
	}

	if priced > 0 {
		out.Price = total.StringFixed(2)
	}

	switch {
	case outOfStock:
		out.Stock = models.StockOut
	case minStock <= models.LowStockThreshold:
		out.Stock = minStock
	default:
		out.Stock = models.StockAmple
	}

	names := make([]string, 0, len(sellers))
	for name := range sellers {
		names = append(names, name)
	}
	sort.Strings(names)
	out.Seller = strings.Join(names, ", ")
	return out
}
