package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix namespaces every environment variable read by the CLI.
const EnvPrefix = "PRICESYNC_"

// LoadDotEnv loads variables from the given .env files without overriding
// the process environment. A missing default .env is not an error.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if err == nil {
		return nil
	}
	if len(paths) == 0 && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env file: %w", err)
}

// EnvString returns the trimmed value of PRICESYNC_<name>.
func EnvString(name string) (string, bool) {
	value, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses PRICESYNC_<name> as an integer.
func EnvInt(name string) (int, bool, error) {
	value, ok := EnvString(name)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return parsed, true, nil
}

// EnvBool parses PRICESYNC_<name> as a boolean.
func EnvBool(name string) (bool, bool, error) {
	value, ok := EnvString(name)
	if !ok {
		return false, false, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return parsed, true, nil
}

// EnvDuration parses PRICESYNC_<name> as a Go duration ("1.5s", "200ms").
func EnvDuration(name string) (time.Duration, bool, error) {
	value, ok := EnvString(name)
	if !ok {
		return 0, false, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return parsed, true, nil
}

// ApplyEnv overlays PRICESYNC_* variables on top of cfg.
func ApplyEnv(cfg *Config) error {
	strs := map[string]*string{
		"SHEET_BACKEND": &cfg.SheetBackend,
		"SHEET_URL":     &cfg.SheetURL,
		"SHEET_NAME":    &cfg.SheetName,
		"CREDENTIALS":   &cfg.CredentialsFile,
		"FETCH_MODE":    &cfg.FetchMode,
		"PROXY_URL":     &cfg.ProxyBaseURL,
		"PROXY_API_KEY": &cfg.ProxyAPIKey,
		"USER_AGENT":    &cfg.UserAgent,
		"LOG_FILE":      &cfg.LogFile,
		"LOCK_FILE":     &cfg.LockFile,
		"REPORT_FILE":   &cfg.ReportFile,
		"REPORT_FORMAT": &cfg.ReportFormat,
		"METRICS_ADDR":  &cfg.MetricsAddr,
	}
	for name, dst := range strs {
		if value, ok := EnvString(name); ok {
			*dst = value
		}
	}

	ints := map[string]*int{
		"FIRST_DATA_ROW": &cfg.FirstDataRow,
		"FETCH_ATTEMPTS": &cfg.FetchAttempts,
		"PRICE_RETRIES":  &cfg.PriceRetries,
		"CACHE_SIZE":     &cfg.CacheSize,
		"BLOCK_SIZE":     &cfg.BlockSize,
		"WORKERS":        &cfg.Workers,
		"WRITE_ATTEMPTS": &cfg.WriteAttempts,
	}
	for name, dst := range ints {
		value, ok, err := EnvInt(name)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"FETCH_TIMEOUT":      &cfg.FetchTimeout,
		"FETCH_RETRY_DELAY":  &cfg.FetchRetryDelay,
		"CONFLICT_BACKOFF":   &cfg.ConflictBackoff,
		"LINK_DELAY":         &cfg.LinkDelay,
		"CACHE_TTL":          &cfg.CacheTTL,
		"WRITE_BACKOFF_BASE": &cfg.WriteBackoffBase,
		"WRITE_BACKOFF_STEP": &cfg.WriteBackoffStep,
	}
	for name, dst := range durations {
		value, ok, err := EnvDuration(name)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	if value, ok, err := EnvBool("PROXY_BROWSER"); err != nil {
		return err
	} else if ok {
		cfg.ProxyBrowser = value
	}
	if value, ok, err := EnvBool("VERBOSE"); err != nil {
		return err
	} else if ok {
		cfg.Verbose = value
	}
	if value, ok := EnvString("PROXY_RPS"); ok {
		rps, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%sPROXY_RPS: %w", EnvPrefix, err)
		}
		cfg.ProxyRPS = rps
	}
	return nil
}
