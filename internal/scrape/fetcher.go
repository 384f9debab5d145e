package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrBlocked marks a permanent bot-protection block (403/451 or a
// challenge page). Callers log it as source-blocked and move on;
// retrying won't help.
var ErrBlocked = errors.New("access blocked by site")

var blockedMarkers = []string{
	"Zugriff verweigert",
	"Access denied",
	"sec-if-cpt-container",
	"sec-bc-tile-container",
}

// IsBlockedContent detects bot-protection challenge or access-denied
// pages that come back with status 200.
func IsBlockedContent(body []byte) bool {
	s := string(body)
	for _, marker := range blockedMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// FetchConfig tunes the shared retrying fetcher. Zero values fall
// back to the defaults the sites are known to tolerate.
type FetchConfig struct {
	UserAgent   string
	Timeout     time.Duration
	Delay       time.Duration // politeness delay between requests
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Headers     map[string]string
}

// Fetcher is a retrying HTTP client shared by the non-colly adapters.
// Requests through one Fetcher are spaced by the politeness delay.
type Fetcher struct {
	client *http.Client
	cfg    FetchConfig

	mu   sync.Mutex
	last time.Time
}

// NewFetcher builds a fetcher with defaults applied.
func NewFetcher(cfg FetchConfig) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "porsche-monitor/0.1"
	}
	return &Fetcher{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

// Get fetches one URL with retries. Non-retryable failures (403/451)
// return an error wrapping ErrBlocked.
func (f *Fetcher) Get(ctx context.Context, url string) (*Page, error) {
	if err := f.politeWait(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := f.backoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		page, retryable, err := f.do(ctx, url)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("giving up on %s after %d attempts: %w", url, f.cfg.MaxAttempts, lastErr)
}

// backoff returns the exponential wait before the given attempt,
// with a little jitter so parallel monitors don't sync up.
func (f *Fetcher) backoff(attempt int) time.Duration {
	d := f.cfg.BackoffBase << uint(attempt-2)
	if d > f.cfg.BackoffCap {
		d = f.cfg.BackoffCap
	}
	return d + time.Duration(rand.Intn(250))*time.Millisecond
}

// politeWait spaces consecutive requests by the configured delay.
func (f *Fetcher) politeWait(ctx context.Context) error {
	f.mu.Lock()
	wait := time.Duration(0)
	if !f.last.IsZero() && f.cfg.Delay > 0 {
		if elapsed := time.Since(f.last); elapsed < f.cfg.Delay {
			wait = f.cfg.Delay - elapsed
		}
	}
	f.last = time.Now().Add(wait)
	f.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (f *Fetcher) do(ctx context.Context, url string) (page *Page, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.8")
	for k, v := range f.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		// Transport errors (timeouts, resets) are worth retrying.
		return nil, true, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, fmt.Errorf("failed to read body: %w", err)
		}
		return &Page{
			URL:         url,
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Body:        body,
			FetchedAt:   time.Now(),
		}, false, nil
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnavailableForLegalReasons:
		return nil, false, fmt.Errorf("%s returned %d: %w", url, resp.StatusCode, ErrBlocked)
	default:
		return nil, true, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, url)
	}
}
