package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"swapi-archive/internal/cache"
	"swapi-archive/internal/client"
	"swapi-archive/internal/config"
	"swapi-archive/internal/metrics"
	"swapi-archive/internal/repository"
	"swapi-archive/internal/service"
)

// openStore opens the snapshot store selected by STORE_TYPE.
func openStore(cfg config.StoreConfig, log *zap.Logger) (repository.CharacterRepository, error) {
	switch cfg.Type {
	case config.StoreMongoDB:
		return repository.NewMongoDBCharacterRepository(cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, log)
	case config.StorePostgres:
		return repository.NewPostgresCharacterRepository(cfg.PostgresDSN(), log)
	case config.StoreMySQL:
		return repository.NewMySQLCharacterRepository(cfg.MySQLDSN(), log)
	case config.StoreSQLite:
		return repository.NewSQLiteCharacterRepository(cfg.Path, log)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// openLabelCache returns the resolver cache selected by CACHE_TYPE, or nil.
// An unreachable Redis degrades to the in-process cache.
func openLabelCache(cfg config.CacheConfig, log *zap.Logger) cache.Cache {
	switch cfg.Type {
	case config.CacheNone:
		return nil
	case config.CacheRedis:
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:      cfg.RedisAddress(),
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, log)
		if err == nil {
			log.Info("label cache: redis", zap.String("addr", cfg.RedisAddress()))
			return rc
		}
		log.Warn("redis unavailable, using in-memory label cache", zap.Error(err))
	}
	log.Info("label cache: memory", zap.Duration("ttl", cfg.TTL))
	return cache.NewMemoryCache(cfg.TTL, 10*time.Minute)
}

// pipeline is the wired ingestion stack.
type pipeline struct {
	fetcher  *client.Fetcher
	ingestor *service.Ingestor
	runner   service.Runner
	metrics  *metrics.Metrics
	labels   cache.Cache
}

func newPipeline(cfg *config.Config, store repository.SnapshotWriter, reg prometheus.Registerer, log *zap.Logger) *pipeline {
	m := metrics.New(reg)

	fetcher := client.NewFetcher(client.FetcherOptions{
		Timeout:       cfg.SWAPI.RequestTimeout,
		MaxConcurrent: cfg.SWAPI.MaxConcurrentRequests,
		OnResponse:    m.ObserveFetch,
	}, log)
	m.WatchGate(fetcher.InFlight)

	labels := openLabelCache(cfg.Cache, log)

	lister := service.NewPageLister(fetcher, service.ListerOptions{
		MaxRetries: cfg.SWAPI.MaxRetries,
		RetryDelay: cfg.SWAPI.RetryDelay,
	}, m, log)

	ingestor := service.NewIngestor(
		lister,
		fetcher,
		service.NewResolver(fetcher, labels, cfg.Cache.TTL, log),
		store,
		service.IngestOptions{BaseURL: cfg.SWAPI.BaseURL, RunTimeout: cfg.SWAPI.RunTimeout},
		m,
		log,
	)

	return &pipeline{
		fetcher:  fetcher,
		ingestor: ingestor,
		runner:   m.Instrument(ingestor),
		metrics:  m,
		labels:   labels,
	}
}

func (p *pipeline) Close() {
	if p.labels != nil {
		_ = p.labels.Close()
	}
}
