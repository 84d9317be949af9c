package scraper

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/aluiziolira/go-price-sync/config"
	"github.com/aluiziolira/go-price-sync/metrics"
	"github.com/aluiziolira/go-price-sync/models"
)

// stubFetcher serves a queue of pages per URL; an empty string means a failed fetch.
type stubFetcher struct {
	mu    sync.Mutex
	pages map[string][]string
	calls map[string]int
}

func newStubFetcher(pages map[string][]string) *stubFetcher {
	return &stubFetcher{pages: pages, calls: make(map[string]int)}
}

func (s *stubFetcher) FetchHTML(ctx context.Context, url string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls[url]
	s.calls[url]++
	queue := s.pages[url]
	if len(queue) == 0 {
		return "", false
	}
	if idx >= len(queue) {
		idx = len(queue) - 1
	}
	if queue[idx] == "" {
		return "", false
	}
	return queue[idx], true
}

func (s *stubFetcher) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func productPage(price, stockBadge, seller string) string {
	html := "<html><body>"
	if price != "" {
		html += fmt.Sprintf(`<span itemprop="price" data-seo-id="hero-price">%s</span>`, price)
	}
	if seller != "" {
		html += fmt.Sprintf(`<span data-testid="product-seller-info">Sold and shipped by <a data-testid="seller-name-link">%s</a></span>`, seller)
	}
	switch stockBadge {
	case "":
	case "oos":
		html += `<span class="b mr1">Out of stock</span>`
	default:
		html += fmt.Sprintf(`<span class="b dark-red">%s</span>`, stockBadge)
	}
	return html + "</body></html>"
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.FetchRetryDelay = 0
	cfg.LinkDelay = 0
	cfg.CacheSize = 0
	return cfg
}

func TestSplitLinks(t *testing.T) {
	got := SplitLinks(" https://a.test/1, https://b.test/2 | note http://c.test/3\nftp://d.test ")
	want := []string{"https://a.test/1", "https://b.test/2", "http://c.test/3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("links mismatch (-want +got):\n%s", diff)
	}
	if links := SplitLinks("   "); len(links) != 0 {
		t.Fatalf("expected no links, got %v", links)
	}
}

func TestAggregateSumsPrices(t *testing.T) {
	f := newStubFetcher(map[string][]string{
		"https://a.test/1": {productPage("$10.00", "", "Acme")},
		"https://b.test/2": {productPage("$5.50", "", "Beta")},
	})
	agg := NewAggregator(f, testConfig(), metrics.New())

	got := agg.Aggregate(context.Background(), "https://a.test/1, https://b.test/2")
	want := Combined{Price: "15.50", Stock: models.StockAmple, Seller: "Acme, Beta", Resolved: 2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("combined mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateOutOfStockDominates(t *testing.T) {
	f := newStubFetcher(map[string][]string{
		"https://a.test/1": {productPage("$10.00", "", "Acme")},
		"https://b.test/2": {productPage("$5.00", "oos", "Acme")},
	})
	agg := NewAggregator(f, testConfig(), nil)

	got := agg.Aggregate(context.Background(), "https://a.test/1|https://b.test/2")
	if got.Stock != models.StockOut {
		t.Fatalf("stock=%d, want out of stock", got.Stock)
	}
	if got.Seller != "Acme" {
		t.Fatalf("seller=%q, want de-duplicated Acme", got.Seller)
	}
}

func TestAggregateLowStockMinimum(t *testing.T) {
	f := newStubFetcher(map[string][]string{
		"https://a.test/1": {productPage("$1.00", "Only 7 left", "A")},
		"https://b.test/2": {productPage("$1.00", "Only 3 left", "B")},
		"https://c.test/3": {productPage("$1.00", "", "C")},
	})
	agg := NewAggregator(f, testConfig(), nil)

	got := agg.Aggregate(context.Background(), "https://a.test/1 https://b.test/2 https://c.test/3")
	if got.Stock != 3 {
		t.Fatalf("stock=%d, want 3", got.Stock)
	}
}

func TestAggregateLowCountAboveThresholdIsAmple(t *testing.T) {
	f := newStubFetcher(map[string][]string{
		"https://a.test/1": {productPage("$1.00", "Only 12 left", "A")},
	})
	agg := NewAggregator(f, testConfig(), nil)

	if got := agg.Aggregate(context.Background(), "https://a.test/1"); got.Stock != models.StockAmple {
		t.Fatalf("stock=%d, want ample", got.Stock)
	}
}

func TestAggregateAllLinksFailYieldsEmptyPrice(t *testing.T) {
	f := newStubFetcher(map[string][]string{})
	agg := NewAggregator(f, testConfig(), nil)

	got := agg.Aggregate(context.Background(), "https://a.test/1, https://b.test/2")
	want := Combined{Price: "", Stock: models.StockOut, Seller: "", Resolved: 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("combined mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateSkipsFailedLink(t *testing.T) {
	f := newStubFetcher(map[string][]string{
		"https://b.test/2": {productPage("$4.25", "Only 2 left", "Beta")},
	})
	agg := NewAggregator(f, testConfig(), nil)

	got := agg.Aggregate(context.Background(), "https://a.test/1, https://b.test/2")
	if got.Price != "4.25" || got.Stock != 2 || got.Seller != "Beta" || got.Resolved != 1 {
		t.Fatalf("unexpected combined %+v", got)
	}
}

func TestAggregateRefetchesMissingPrice(t *testing.T) {
	f := newStubFetcher(map[string][]string{
		"https://a.test/1": {
			productPage("", "", "Acme"),
			"",
			productPage("$8.00", "Only 4 left", "Acme"),
		},
	})
	agg := NewAggregator(f, testConfig(), metrics.New())

	got := agg.Aggregate(context.Background(), "https://a.test/1")
	if got.Price != "8.00" || got.Stock != 4 {
		t.Fatalf("unexpected combined %+v", got)
	}
	if f.total() != 3 {
		t.Fatalf("fetches=%d, want 3", f.total())
	}
}

func TestAggregateGivesUpAfterTwoPriceRetries(t *testing.T) {
	f := newStubFetcher(map[string][]string{
		"https://a.test/1": {productPage("", "", "Acme")},
	})
	agg := NewAggregator(f, testConfig(), nil)

	got := agg.Aggregate(context.Background(), "https://a.test/1")
	if got.Price != "" {
		t.Fatalf("price=%q, want empty", got.Price)
	}
	if got.Seller != "Acme" || got.Stock != models.StockAmple {
		t.Fatalf("stock/seller of the page should be kept, got %+v", got)
	}
	if f.total() != 3 {
		t.Fatalf("fetches=%d, want 1 + 2 retries", f.total())
	}
}

func TestAggregateCachesPricedLinks(t *testing.T) {
	cfg := testConfig()
	cfg.CacheSize = 16
	cfg.CacheTTL = time.Minute
	f := newStubFetcher(map[string][]string{
		"https://a.test/1": {productPage("$2.00", "", "Acme")},
	})
	agg := NewAggregator(f, cfg, metrics.New())

	agg.Aggregate(context.Background(), "https://a.test/1")
	got := agg.Aggregate(context.Background(), "https://a.test/1, https://a.test/1")
	if got.Price != "4.00" {
		t.Fatalf("price=%q, want 4.00", got.Price)
	}
	if f.total() != 1 {
		t.Fatalf("fetches=%d, want 1 with cache", f.total())
	}
}

func TestAggregateEnforcesLinkPacing(t *testing.T) {
	cfg := testConfig()
	cfg.LinkDelay = 30 * time.Millisecond
	f := newStubFetcher(map[string][]string{
		"https://a.test/1": {productPage("$1.00", "", "A")},
		"https://b.test/2": {productPage("$1.00", "", "B")},
		"https://c.test/3": {productPage("$1.00", "", "C")},
	})
	agg := NewAggregator(f, cfg, nil)

	start := time.Now()
	agg.Aggregate(context.Background(), "https://a.test/1 https://b.test/2 https://c.test/3")
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("elapsed=%v, want at least two pacing delays", elapsed)
	}
}

type stubRows map[int]models.Row

func (s stubRows) Row(id int) (models.Row, bool) {
	row, ok := s[id]
	return row, ok
}

type countingAggregator struct {
	mu     sync.Mutex
	result Combined
	calls  int
}

func (c *countingAggregator) Aggregate(ctx context.Context, cell string) Combined {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.result
}

func TestProcessEmptyLinkCell(t *testing.T) {
	agg := &countingAggregator{}
	p := NewProcessor(agg, stubRows{5: {ID: 5, OldPrice: "9.99", BuyBox: "Acme"}}, nil)

	got := p.Process(context.Background(), 5)
	if got.Price != "" || got.Stock != models.StockOut || got.Seller != "" || got.Status != models.StatusSuccessful {
		t.Fatalf("unexpected result %+v", got)
	}
	if agg.calls != 0 {
		t.Fatalf("aggregator calls=%d, want 0", agg.calls)
	}
}

func TestProcessOutOfRange(t *testing.T) {
	p := NewProcessor(&countingAggregator{}, stubRows{}, nil)
	if got := p.Process(context.Background(), 42); got.Status != models.StatusOutOfRange {
		t.Fatalf("status=%q, want OutOfRange", got.Status)
	}
}

func TestProcessSuccess(t *testing.T) {
	agg := &countingAggregator{result: Combined{Price: "19.99", Stock: 3, Seller: "Acme", Resolved: 1}}
	p := NewProcessor(agg, stubRows{6: {ID: 6, Links: "https://a.test/1", OldPrice: "20.49"}}, nil)

	got := p.Process(context.Background(), 6)
	if got.Price != "19.99" || got.Stock != 3 || got.Seller != "Acme" || got.Status != models.StatusSuccessful {
		t.Fatalf("unexpected result %+v", got)
	}
	if got.PriceDiff != "-0.50" {
		t.Fatalf("diff=%q, want -0.50", got.PriceDiff)
	}
}

func TestProcessFallbackOnMissingPrice(t *testing.T) {
	agg := &countingAggregator{result: Combined{Stock: models.StockOut}}
	rows := stubRows{7: {ID: 7, Links: "https://a.test/1", OldPrice: "12.00", OldStock: "100", BuyBox: "Acme"}}
	p := NewProcessor(agg, rows, nil)

	got := p.Process(context.Background(), 7)
	if got.Status != models.StatusFailedRetryPending {
		t.Fatalf("status=%q, want FailedRetryPending", got.Status)
	}
	if got.Price != "12.00" || got.Seller != "Acme" {
		t.Fatalf("fallback values not applied: %+v", got)
	}
	if got.Stock != models.StockOut {
		t.Fatalf("stock=%d, stale stock must not be reused", got.Stock)
	}
}

func TestAggregatePicksLayoutPerHost(t *testing.T) {
	amazon := `<html><body><span class="a-price priceToPay"><span class="a-price-whole">12.</span><span class="a-price-fraction">25</span></span>
<div id="availability">Only 2 left in stock.</div></body></html>`
	ebay := `<html><body><div class="x-price-primary" data-testid="x-price-primary"><span class="ux-textspans">US $3.00</span></div>
<div id="qtyAvailability"><span class="ux-textspans">More than 10 available</span></div></body></html>`
	f := newStubFetcher(map[string][]string{
		"https://www.amazon.com/dp/1": {amazon},
		"https://www.ebay.com/itm/2":  {ebay},
		"https://a.test/3":            {productPage("$1.00", "", "Acme")},
	})
	agg := NewAggregator(f, testConfig(), nil)

	got := agg.Aggregate(context.Background(), "https://www.amazon.com/dp/1 https://www.ebay.com/itm/2 https://a.test/3")
	want := Combined{Price: "16.25", Stock: 2, Seller: "Acme", Resolved: 3}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("combined mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateRefetchesAmazonDeliveryRestriction(t *testing.T) {
	restricted := `<html><body><div id="availability">This item cannot be shipped to your selected delivery location. Please choose a different delivery location.</div></body></html>`
	priced := `<html><body><span class="a-price priceToPay"><span class="a-price-whole">8.</span><span class="a-price-fraction">00</span></span>
<div id="availability">In Stock</div></body></html>`
	f := newStubFetcher(map[string][]string{
		"https://www.amazon.com/dp/9": {restricted, priced},
	})
	agg := NewAggregator(f, testConfig(), nil)

	got := agg.Aggregate(context.Background(), "https://www.amazon.com/dp/9")
	if got.Price != "8.00" || got.Stock != models.StockAmple {
		t.Fatalf("unexpected result %+v", got)
	}
	if f.total() != 2 {
		t.Fatalf("fetches=%d, want 2", f.total())
	}
}

// cancellingAggregator cancels the run while aggregating.
type cancellingAggregator struct {
	cancel context.CancelFunc
}

func (c cancellingAggregator) Aggregate(ctx context.Context, cell string) Combined {
	c.cancel()
	return Combined{Stock: models.StockOut}
}

func TestProcessInterruptedScrapeIsNotAResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rows := stubRows{8: {ID: 8, Links: "https://a.test/1", OldPrice: "3.00", BuyBox: "Acme"}}
	p := NewProcessor(cancellingAggregator{cancel: cancel}, rows, nil)

	got := p.Process(ctx, 8)
	if got.Status != models.StatusInterrupted || got.Status.Writable() {
		t.Fatalf("status=%q, want Interrupted", got.Status)
	}
	if got.Price != "" || got.UpdatedAt != (time.Time{}) {
		t.Fatalf("interrupted result carries values: %+v", got)
	}
}

func TestProcessSkipsRowsAfterCancel(t *testing.T) {
	agg := &countingAggregator{}
	p := NewProcessor(agg, stubRows{6: {ID: 6, Links: "https://a.test/1"}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := p.Process(ctx, 6); got.Status != models.StatusInterrupted {
		t.Fatalf("status=%q, want Interrupted", got.Status)
	}
	if agg.calls != 0 {
		t.Fatalf("aggregator calls=%d, want 0", agg.calls)
	}
}

func TestPriceDiff(t *testing.T) {
	tests := []struct {
		previous, current, want string
	}{
		{"20.49", "19.99", "-0.50"},
		{"", "19.99", "19.99"},
		{"  ", "5", "5.00"},
		{"$1,000.00", "1,250.5", "250.50"},
		{"n/a", "19.99", ""},
		{"19.99", "", ""},
	}
	for _, tt := range tests {
		if got := priceDiff(tt.previous, tt.current); got != tt.want {
			t.Errorf("priceDiff(%q, %q)=%q, want %q", tt.previous, tt.current, got, tt.want)
		}
	}
}

func TestProcessFallbackPriceHasNoDiff(t *testing.T) {
	agg := &countingAggregator{result: Combined{Stock: models.StockOut}}
	p := NewProcessor(agg, stubRows{7: {ID: 7, Links: "https://a.test/1", OldPrice: "12.00"}}, nil)

	if got := p.Process(context.Background(), 7); got.PriceDiff != "" {
		t.Fatalf("diff=%q, want none for a fallback price", got.PriceDiff)
	}
}
