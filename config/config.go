package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds the settings for one sheet refresh run.
type Config struct {
	// Sheet access.
	SheetBackend    string // google or xlsx
	SheetURL        string
	SheetName       string
	CredentialsFile string
	FirstDataRow    int

	// Rendering proxy.
	FetchMode       string // proxy or direct
	ProxyBaseURL    string
	ProxyAPIKey     string
	ProxyBrowser    bool
	ProxyRPS        float64
	UserAgent       string
	FetchTimeout    time.Duration
	FetchAttempts   int
	FetchRetryDelay time.Duration
	ConflictBackoff time.Duration
	PriceRetries    int
	// LinkDelay spaces consecutive fetches within one link cell. It does
	// not pace rows against each other: the global request rate is bounded
	// by ProxyRPS in proxy mode and by Workers in direct mode.
	LinkDelay time.Duration
	CacheSize       int
	CacheTTL        time.Duration

	// Scheduling.
	BlockSize int
	Workers   int

	// Sheet writes.
	WriteAttempts    int
	WriteBackoffBase time.Duration
	WriteBackoffStep time.Duration

	// Process surface.
	LogFile      string
	LockFile     string
	ReportFile   string
	ReportFormat string // csv, json, or dual
	MetricsAddr  string
	Verbose      bool
}

// DefaultConfig returns conservative defaults for the rendering proxy and the Sheets quota.
func DefaultConfig() *Config {
	return &Config{
		SheetBackend:     "google",
		FirstDataRow:     2,
		FetchMode:        "proxy",
		ProxyBaseURL:     "https://api.scrapingant.com",
		ProxyBrowser:     true,
		ProxyRPS:         2,
		UserAgent:        "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		FetchTimeout:     60 * time.Second,
		FetchAttempts:    3,
		FetchRetryDelay:  2 * time.Second,
		ConflictBackoff:  5 * time.Second,
		PriceRetries:     2,
		LinkDelay:        1200 * time.Millisecond,
		CacheSize:        1024,
		CacheTTL:         30 * time.Minute,
		BlockSize:        100,
		Workers:          5,
		WriteAttempts:    5,
		WriteBackoffBase: 15 * time.Second,
		WriteBackoffStep: 10 * time.Second,
		LogFile:          "logs/pricesync.log",
		LockFile:         "pricesync.lock",
		ReportFormat:     "csv",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	switch c.SheetBackend {
	case "google":
		if c.CredentialsFile == "" {
			return fmt.Errorf("credentials file cannot be empty for the google backend")
		}
	case "xlsx":
	default:
		return fmt.Errorf("sheet backend must be google or xlsx")
	}
	if strings.TrimSpace(c.SheetURL) == "" {
		return fmt.Errorf("sheet URL cannot be empty")
	}
	if c.FirstDataRow < 2 {
		return fmt.Errorf("first data row must be at least 2")
	}

	switch c.FetchMode {
	case "proxy":
		if c.ProxyAPIKey == "" {
			return fmt.Errorf("proxy API key cannot be empty in proxy mode")
		}
		parsedURL, err := url.Parse(c.ProxyBaseURL)
		if err != nil {
			return fmt.Errorf("invalid proxy base URL: %w", err)
		}
		if parsedURL.Host == "" {
			return fmt.Errorf("proxy base URL must include a host")
		}
	case "direct":
		if c.UserAgent == "" {
			return fmt.Errorf("user agent cannot be empty")
		}
	default:
		return fmt.Errorf("fetch mode must be proxy or direct")
	}

	if c.ProxyRPS < 0 {
		return fmt.Errorf("proxy rps cannot be negative")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.FetchAttempts <= 0 {
		return fmt.Errorf("fetch attempts must be positive")
	}
	if c.FetchRetryDelay < 0 || c.ConflictBackoff < 0 || c.LinkDelay < 0 {
		return fmt.Errorf("fetch delays cannot be negative")
	}
	if c.PriceRetries < 0 {
		return fmt.Errorf("price retries cannot be negative")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.WriteAttempts <= 0 {
		return fmt.Errorf("write attempts must be positive")
	}
	if c.WriteBackoffBase < 0 || c.WriteBackoffStep < 0 {
		return fmt.Errorf("write backoff cannot be negative")
	}
	if c.LockFile == "" {
		return fmt.Errorf("lock file cannot be empty")
	}
	if c.ReportFormat != "csv" && c.ReportFormat != "json" && c.ReportFormat != "dual" {
		return fmt.Errorf("report format must be csv, json, or dual")
	}

	return nil
}
