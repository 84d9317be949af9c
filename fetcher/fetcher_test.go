package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-price-sync/config"
	"github.com/aluiziolira/go-price-sync/metrics"
)

const testProxyURL = "http://proxy.test"

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ProxyBaseURL = testProxyURL
	cfg.ProxyAPIKey = "secret"
	cfg.ProxyRPS = 0
	cfg.FetchTimeout = time.Second
	cfg.FetchRetryDelay = 0
	cfg.ConflictBackoff = 0
	return cfg
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "conflict", err: nil, statusCode: http.StatusConflict, expected: "rate_limited"},
		{name: "server error", err: nil, statusCode: http.StatusBadGateway, expected: "status"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestProxyFetchEncodesTargetURL(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()

	target := "https://www.walmart.com/ip/widget/123?athbdg=L1600&x=1"
	transport.RegisterResponder("GET", testProxyURL+proxyPath, func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		if q.Get("url") != target {
			return httpmock.NewStringResponse(http.StatusBadRequest, "bad url "+q.Get("url")), nil
		}
		if q.Get("x-api-key") != "secret" {
			return httpmock.NewStringResponse(http.StatusUnauthorized, ""), nil
		}
		if q.Get("browser") != "true" {
			return httpmock.NewStringResponse(http.StatusBadRequest, "browser"), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, "<html>ok</html>"), nil
	})

	p := NewProxy(cfg).WithTransport(transport)
	body, err := p.Fetch(context.Background(), target)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if body != "<html>ok</html>" {
		t.Fatalf("body=%q", body)
	}
}

func TestProxyFetchStatusErrors(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusConflict, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusInternalServerError, expected: "status"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", testProxyURL+proxyPath, httpmock.NewStringResponder(tt.status, ""))

			p := NewProxy(testConfig()).WithTransport(transport)
			_, err := p.Fetch(context.Background(), "https://example.test/item")
			if got := errorTypeLabel(err); got != tt.expected {
				t.Fatalf("label=%q, want %q (err=%v)", got, tt.expected, err)
			}
		})
	}
}

func TestProxyFetchEmptyBody(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testProxyURL+proxyPath, httpmock.NewStringResponder(http.StatusOK, "  "))

	p := NewProxy(testConfig()).WithTransport(transport)
	if _, err := p.Fetch(context.Background(), "https://example.test/item"); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("err=%v, want ErrEmptyBody", err)
	}
}

func TestProxyFetchCutsOffHungRequest(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := testConfig()
	cfg.ProxyBaseURL = server.URL
	cfg.FetchTimeout = 100 * time.Millisecond
	p := NewProxy(cfg)

	start := time.Now()
	_, err := p.Fetch(context.Background(), "https://example.test/slow")
	elapsed := time.Since(start)

	var timeout ErrTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("err=%v, want ErrTimeout", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("fetch returned after %v, deadline was %v", elapsed, cfg.FetchTimeout)
	}
}

type scriptedFetcher struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (s *scriptedFetcher) Fetch(ctx context.Context, url string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx < len(s.results) && s.results[idx] != nil {
		return "", s.results[idx]
	}
	return "<html>" + url + "</html>", nil
}

func TestRetryingSucceedsOnThirdAttempt(t *testing.T) {
	next := &scriptedFetcher{results: []error{ErrStatus{Code: 500}, ErrRateLimited{Err: ErrStatus{Code: 409}}}}
	r := NewRetrying(next, testConfig(), metrics.New())

	html, ok := r.FetchHTML(context.Background(), "https://example.test/a")
	if !ok {
		t.Fatalf("expected success")
	}
	if html != "<html>https://example.test/a</html>" {
		t.Fatalf("html=%q", html)
	}
	if next.calls != 3 {
		t.Fatalf("calls=%d, want 3", next.calls)
	}
}

func TestRetryingGivesUpAfterThreeAttempts(t *testing.T) {
	fail := ErrStatus{Code: 500}
	next := &scriptedFetcher{results: []error{fail, fail, fail, fail}}
	r := NewRetrying(next, testConfig(), nil)

	if html, ok := r.FetchHTML(context.Background(), "https://example.test/a"); ok || html != "" {
		t.Fatalf("expected failure, got ok=%v html=%q", ok, html)
	}
	if next.calls != 3 {
		t.Fatalf("calls=%d, want 3", next.calls)
	}
}

func TestConflictAwareBackoff(t *testing.T) {
	backoff := conflictAware(2*time.Second, 5*time.Second)
	if got := backoff(1, ErrRateLimited{Err: ErrStatus{Code: 409}}); got != 5*time.Second {
		t.Fatalf("conflict delay=%v, want 5s", got)
	}
	if got := backoff(1, ErrStatus{Code: 500}); got != 2*time.Second {
		t.Fatalf("default delay=%v, want 2s", got)
	}
}

func TestDirectFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body>product</body></html>")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := testConfig()
	d, err := NewDirect(cfg)
	if err != nil {
		t.Fatalf("new direct: %v", err)
	}

	body, err := d.Fetch(context.Background(), server.URL+"/ok")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if body != "<html><body>product</body></html>" {
		t.Fatalf("body=%q", body)
	}

	// revisits are allowed so retries can hit the same URL
	if _, err := d.Fetch(context.Background(), server.URL+"/ok"); err != nil {
		t.Fatalf("refetch: %v", err)
	}

	_, err = d.Fetch(context.Background(), server.URL+"/missing")
	if got := errorTypeLabel(err); got != "not_found" {
		t.Fatalf("label=%q, want not_found (err=%v)", got, err)
	}
}
