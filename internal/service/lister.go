package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"swapi-archive/internal/client"
	"swapi-archive/internal/logger"
	"swapi-archive/internal/model"
)

// JSONFetcher is the HTTP dependency of the pipeline. Fetch goes through the
// admission gate, Do does not.
type JSONFetcher interface {
	Fetch(ctx context.Context, url string, v interface{}) error
	Do(ctx context.Context, url string, v interface{}) error
}

// ListerOptions configures page retries.
type ListerOptions struct {
	// MaxRetries is the number of attempts per page when it times out.
	MaxRetries int
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration
}

// PageLister walks the "next" chain of the listing endpoint.
type PageLister struct {
	fetcher  JSONFetcher
	opts     ListerOptions
	observer Observer
	logger   *zap.Logger
}

// NewPageLister creates a page lister.
func NewPageLister(fetcher JSONFetcher, opts ListerOptions, observer Observer, log *zap.Logger) *PageLister {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	return &PageLister{
		fetcher:  fetcher,
		opts:     opts,
		observer: orNop(observer),
		logger:   logger.OrNop(log).Named("lister"),
	}
}

// ListAll collects the detail URLs of every page reachable from startURL, in
// page order. It never fails: a page that keeps timing out, a transport error,
// a non-success status or an undecodable page ends the walk and the URLs
// gathered so far are returned.
func (l *PageLister) ListAll(ctx context.Context, startURL string) []string {
	var urls []string
	url := startURL

	for page := 1; url != ""; page++ {
		l.logger.Debug("fetching page", zap.Int("page", page), zap.String("url", url))

		data, ok := l.fetchPage(ctx, page, url)
		if !ok {
			break
		}

		for _, item := range data.Results {
			if item.URL == "" {
				l.logger.Warn("listing item without url", zap.Int("page", page), zap.ByteString("uid", item.UID))
				continue
			}
			urls = append(urls, item.URL)
		}
		l.observer.OnPageFetched(page)
		l.logger.Info("page fetched", zap.Int("page", page), zap.Int("items", len(data.Results)))

		url = ""
		if data.Next != nil {
			url = *data.Next
		}
	}

	return urls
}

// fetchPage retries timeouts with a fixed delay. ok is false when the walk must stop.
func (l *PageLister) fetchPage(ctx context.Context, page int, url string) (*model.PagePayload, bool) {
	for attempt := 1; attempt <= l.opts.MaxRetries; attempt++ {
		var data model.PagePayload
		err := l.fetcher.Do(ctx, url, &data)
		if err == nil {
			return &data, true
		}

		if !client.IsTimeout(err) {
			l.logger.Error("page fetch failed, stopping pagination",
				zap.Int("page", page), zap.String("url", url), zap.Error(err))
			return nil, false
		}

		if attempt == l.opts.MaxRetries {
			l.logger.Error("page timed out on every attempt, stopping pagination",
				zap.Int("page", page), zap.Int("attempts", attempt))
			return nil, false
		}

		l.logger.Warn("page timed out, retrying",
			zap.Int("page", page), zap.Int("next_attempt", attempt+1),
			zap.Int("max_attempts", l.opts.MaxRetries), zap.Duration("delay", l.opts.RetryDelay))

		if !sleep(ctx, l.opts.RetryDelay) {
			l.logger.Warn("pagination canceled", zap.Int("page", page), zap.Error(ctx.Err()))
			return nil, false
		}
	}
	return nil, false
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
