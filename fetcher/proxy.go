package fetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-price-sync/config"
)

const proxyPath = "/v2/general"

// Proxy fetches pages through a ScrapingAnt-compatible rendering proxy.
type Proxy struct {
	client  *resty.Client
	apiKey  string
	browser bool
	timeout time.Duration
	limiter *rate.Limiter
}

// NewProxy builds a proxy client. The API key comes from cfg, never from globals.
func NewProxy(cfg *config.Config) *Proxy {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.ProxyBaseURL, "/")).
		SetTimeout(cfg.FetchTimeout).
		SetTransport(&http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		})

	var limiter *rate.Limiter
	if cfg.ProxyRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ProxyRPS), 1)
	}

	return &Proxy{
		client:  client,
		apiKey:  cfg.ProxyAPIKey,
		browser: cfg.ProxyBrowser,
		timeout: cfg.FetchTimeout,
		limiter: limiter,
	}
}

// WithTransport swaps the HTTP transport, used by tests.
func (p *Proxy) WithTransport(rt http.RoundTripper) *Proxy {
	p.client.SetTransport(rt)
	return p
}

// Fetch performs one proxy call with its own deadline.
func (p *Proxy) Fetch(ctx context.Context, pageURL string) (string, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", classifyError(err, 0)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"url":       pageURL,
			"x-api-key": p.apiKey,
			"browser":   strconv.FormatBool(p.browser),
		}).
		Get(proxyPath)
	if err != nil {
		return "", classifyError(err, 0)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", classifyError(nil, resp.StatusCode())
	}

	body := resp.String()
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyBody
	}
	return body, nil
}

func (p *Proxy) String() string {
	return fmt.Sprintf("proxy(%s)", p.client.BaseURL)
}
