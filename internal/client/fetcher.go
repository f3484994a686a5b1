// Package client is the HTTP side of the loader: a JSON GET with a per-request
// timeout, fronted by a counting admission gate shared by every caller.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"swapi-archive/internal/logger"
)

const (
	// DefaultTimeout is the total time allowed for one request, body included.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxConcurrent is the default size of the admission gate.
	DefaultMaxConcurrent = 10

	// MaxResponseSize caps the body read from a single response (10MB).
	MaxResponseSize = 10 * 1024 * 1024
)

// ResponseHook is called once per request with its outcome
// ("ok", "status", "timeout", "transport", "malformed") and duration.
type ResponseHook func(outcome string, duration time.Duration)

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Timeout       time.Duration
	MaxConcurrent int
	// HTTPClient overrides the default client; tests inject a mock transport here.
	HTTPClient *http.Client
	OnResponse ResponseHook
}

// Fetcher performs JSON GETs. Fetch is bounded by the admission gate, Do is not.
type Fetcher struct {
	client     *http.Client
	timeout    time.Duration
	gate       *semaphore.Weighted
	maxSlots   int
	inFlight   atomic.Int64
	onResponse ResponseHook
	logger     *zap.Logger
}

// NewFetcher creates a fetcher; zero options fall back to the defaults.
func NewFetcher(opts FetcherOptions, log *zap.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: opts.MaxConcurrent,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Fetcher{
		client:     httpClient,
		timeout:    opts.Timeout,
		gate:       semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		maxSlots:   opts.MaxConcurrent,
		onResponse: opts.OnResponse,
		logger:     logger.OrNop(log).Named("fetcher"),
	}
}

// MaxConcurrent returns the size of the admission gate.
func (f *Fetcher) MaxConcurrent() int {
	return f.maxSlots
}

// InFlight returns the number of gate slots currently held.
func (f *Fetcher) InFlight() int {
	return int(f.inFlight.Load())
}

// Fetch waits for a gate slot, then GETs url and decodes the JSON body into v.
// The slot is released on every exit path.
func (f *Fetcher) Fetch(ctx context.Context, url string, v interface{}) error {
	if err := f.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for request slot: %w", err)
	}
	f.inFlight.Add(1)
	defer func() {
		f.inFlight.Add(-1)
		f.gate.Release(1)
	}()

	return f.Do(ctx, url, v)
}

// Do GETs url once, without retries, and decodes the JSON body into v.
func (f *Fetcher) Do(ctx context.Context, url string, v interface{}) error {
	start := time.Now()
	outcome, err := f.do(ctx, url, v)
	duration := time.Since(start)

	if f.onResponse != nil {
		f.onResponse(outcome, duration)
	}

	if err != nil {
		f.logger.Warn("request failed",
			zap.String("url", url),
			zap.String("outcome", outcome),
			zap.Duration("duration", duration),
			zap.Error(err))
		return err
	}

	f.logger.Debug("request completed", zap.String("url", url), zap.Duration("duration", duration))
	return nil
}

func (f *Fetcher) do(ctx context.Context, url string, v interface{}) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "transport", &TransportError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return transportOutcome(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))
		return "status", &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return transportOutcome(url, err)
	}
	if len(body) > MaxResponseSize {
		return "malformed", fmt.Errorf("GET %s: response body exceeds %d bytes: %w", url, MaxResponseSize, ErrMalformedPayload)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return "malformed", fmt.Errorf("GET %s: %v: %w", url, err, ErrMalformedPayload)
	}
	return "ok", nil
}

func transportOutcome(url string, err error) (string, error) {
	te := &TransportError{URL: url, Err: err}
	if te.Timeout() {
		return "timeout", te
	}
	return "transport", te
}
