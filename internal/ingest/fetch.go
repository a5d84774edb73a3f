package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/thiagogfgf/lakehouse-platform/internal/logging"
)

const copyBufferSize = 8 * 1024

// FetcherConfig configures the HTTP source client.
type FetcherConfig struct {
	Timeout   time.Duration
	RateLimit float64
	UserAgent string
	Transport http.RoundTripper
}

// Fetcher downloads source artifacts. It never retries; retries happen at task level.
type Fetcher struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	userAgent   string
	logger      *slog.Logger
}

func NewFetcher(cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "lakehouse-ingest/1.0"
	}
	return &Fetcher{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		userAgent:   cfg.UserAgent,
		logger:      logging.Or(logger).With("component", "fetcher"),
	}
}

// Fetch streams url into destPath and returns the number of bytes written.
// A partial file is removed on failure.
func (f *Fetcher) Fetch(ctx context.Context, url, destPath string) (int64, error) {
	if err := f.rateLimiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create staging file: %w", err)
	}
	n, err := io.CopyBuffer(out, resp.Body, make([]byte, copyBufferSize))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(destPath)
		return 0, fmt.Errorf("download %s: %w", url, err)
	}

	f.logger.Info("fetched source artifact",
		"url", url,
		"bytes", n,
		"duration", time.Since(start),
	)
	return n, nil
}
