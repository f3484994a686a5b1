package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"swapi-archive/internal/cache"
	"swapi-archive/internal/logger"
	"swapi-archive/internal/model"
)

// LabelSeparator joins the labels of a reference list.
const LabelSeparator = ", "

// Resolver turns reference URLs into human readable labels.
type Resolver struct {
	fetcher JSONFetcher
	cache   cache.Cache
	ttl     time.Duration
	logger  *zap.Logger
}

// NewResolver creates a resolver. labels may be nil to disable caching.
func NewResolver(fetcher JSONFetcher, labels cache.Cache, ttl time.Duration, log *zap.Logger) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		cache:   labels,
		ttl:     ttl,
		logger:  logger.OrNop(log).Named("resolver"),
	}
}

// ResolveOne returns the name (or title) of the entity behind url, or "" when
// it cannot be fetched or carries neither field.
func (r *Resolver) ResolveOne(ctx context.Context, url string) string {
	if url == "" {
		return ""
	}

	if r.cache != nil {
		if label, err := r.cache.Get(ctx, url); err == nil {
			return string(label)
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Debug("label cache read failed", zap.String("url", url), zap.Error(err))
		}
	}

	var payload model.EntityPayload
	if err := r.fetcher.Fetch(ctx, url, &payload); err != nil {
		r.logger.Warn("reference unresolved", zap.String("url", url), zap.Error(err))
		return ""
	}

	label := labelOf(&payload)
	if label == "" {
		r.logger.Debug("reference has no name or title", zap.String("url", url))
		return ""
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, url, []byte(label), r.ttl); err != nil {
			r.logger.Debug("label cache write failed", zap.String("url", url), zap.Error(err))
		}
	}
	return label
}

// ResolveMany resolves each URL of a reference list in order and joins the
// non-empty labels. Anything other than a list yields "".
func (r *Resolver) ResolveMany(ctx context.Context, refs interface{}) string {
	var urls []string
	switch list := refs.(type) {
	case []interface{}:
		for _, item := range list {
			if s, ok := item.(string); ok {
				urls = append(urls, s)
			}
		}
	case []string:
		urls = list
	default:
		return ""
	}

	labels := make([]string, 0, len(urls))
	for _, url := range urls {
		if label := r.ResolveOne(ctx, url); label != "" {
			labels = append(labels, label)
		}
	}
	return strings.Join(labels, LabelSeparator)
}

func labelOf(payload *model.EntityPayload) string {
	if payload.Result == nil || payload.Result.Properties == nil {
		return ""
	}
	props := payload.Result.Properties
	if name, ok := props["name"].(string); ok && name != "" {
		return name
	}
	if title, ok := props["title"].(string); ok {
		return title
	}
	return ""
}
