package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swapi-archive/internal/logger"
	"swapi-archive/internal/model"
	"swapi-archive/internal/repository"
	"swapi-archive/pkg/uid"
)

var (
	// ErrNothingDiscovered aborts a run whose listing produced no entity URLs.
	// The stored snapshot is left untouched.
	ErrNothingDiscovered = errors.New("no entities discovered")

	// ErrRunInProgress is returned when Run is called while another run is active.
	ErrRunInProgress = errors.New("ingestion run already in progress")
)

// IngestOptions holds the static inputs of a run.
type IngestOptions struct {
	BaseURL string
	// RunTimeout bounds a whole run; zero means no run-level deadline.
	RunTimeout time.Duration
}

// RunResult summarizes one successful run.
type RunResult struct {
	RunID      string    `json:"run_id"`
	Discovered int       `json:"discovered"`
	Persisted  int       `json:"persisted"`
	Dropped    int       `json:"dropped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns how long the run took.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Ingestor drives list -> fetch/assemble/resolve -> replace snapshot.
type Ingestor struct {
	lister   *PageLister
	fetcher  JSONFetcher
	resolver *Resolver
	store    repository.SnapshotWriter
	opts     IngestOptions
	observer Observer
	logger   *zap.Logger

	running atomic.Bool
	mu      sync.RWMutex
	last    *RunResult
}

// NewIngestor wires the pipeline together.
func NewIngestor(
	lister *PageLister,
	fetcher JSONFetcher,
	resolver *Resolver,
	store repository.SnapshotWriter,
	opts IngestOptions,
	observer Observer,
	log *zap.Logger,
) *Ingestor {
	return &Ingestor{
		lister:   lister,
		fetcher:  fetcher,
		resolver: resolver,
		store:    store,
		opts:     opts,
		observer: orNop(observer),
		logger:   logger.OrNop(log).Named("ingestor"),
	}
}

// LastResult returns the most recent successful run, or nil.
func (i *Ingestor) LastResult() *RunResult {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.last
}

// Running reports whether a run is in progress.
func (i *Ingestor) Running() bool {
	return i.running.Load()
}

// Run performs one full ingestion and replaces the stored snapshot.
// Per-entity failures only lower the persisted count; an empty listing, an
// expired run deadline or a store failure abort the run and leave the
// previous snapshot in place.
func (i *Ingestor) Run(ctx context.Context) (*RunResult, error) {
	if !i.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer i.running.Store(false)

	if i.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.opts.RunTimeout)
		defer cancel()
	}

	result := &RunResult{RunID: uid.New(), StartedAt: time.Now().UTC()}
	log := i.logger.With(zap.String("run_id", result.RunID))
	log.Info("ingestion started", zap.String("base_url", i.opts.BaseURL))

	urls := i.lister.ListAll(ctx, i.opts.BaseURL)
	result.Discovered = len(urls)
	if len(urls) == 0 {
		log.Error("listing returned no entities, keeping the current snapshot")
		return nil, ErrNothingDiscovered
	}
	log.Info("entities discovered", zap.Int("count", len(urls)))

	loaded := i.loadAll(ctx, urls, log)

	if err := ctx.Err(); err != nil {
		log.Error("run aborted before persisting", zap.Error(err))
		return nil, fmt.Errorf("run aborted: %w", err)
	}

	records, invalid := collect(loaded, log)
	result.Persisted = len(records)
	result.Dropped = len(urls) - len(loaded) + invalid

	if err := i.store.ReplaceAll(ctx, records); err != nil {
		log.Error("snapshot replace failed", zap.Error(err))
		return nil, fmt.Errorf("replace snapshot: %w", err)
	}

	result.FinishedAt = time.Now().UTC()
	i.mu.Lock()
	i.last = result
	i.mu.Unlock()

	log.Info("ingestion finished",
		zap.Int("discovered", result.Discovered),
		zap.Int("persisted", result.Persisted),
		zap.Int("dropped", result.Dropped),
		zap.Duration("duration", result.Duration()))
	return result, nil
}

// loadAll runs one task per URL. Tasks never fail the group; a failed task
// simply yields no character. Concurrency is bounded by the fetcher's gate.
func (i *Ingestor) loadAll(ctx context.Context, urls []string, log *zap.Logger) []model.Character {
	out := make(chan model.Character, len(urls))

	var g errgroup.Group
	for _, url := range urls {
		url := url
		g.Go(func() error {
			if c := i.loadOne(ctx, url, log); c != nil {
				out <- *c
			}
			return nil
		})
	}
	_ = g.Wait()
	close(out)

	loaded := make([]model.Character, 0, len(urls))
	for c := range out {
		loaded = append(loaded, c)
	}
	return loaded
}

func (i *Ingestor) loadOne(ctx context.Context, url string, log *zap.Logger) *model.Character {
	var payload model.EntityPayload
	if err := i.fetcher.Fetch(ctx, url, &payload); err != nil {
		log.Warn("entity dropped: fetch failed", zap.String("url", url), zap.Error(err))
		return nil
	}

	draft, err := Assemble(&payload)
	if err != nil {
		log.Warn("entity dropped: malformed payload", zap.String("url", url), zap.Error(err))
		return nil
	}

	for _, f := range model.CharacterFields {
		switch f.Kind {
		case model.ReferenceField:
			ref, _ := draft.Refs[f.Name].(string)
			f.Set(&draft.Character, i.resolver.ResolveOne(ctx, ref))
		case model.ReferenceListField:
			f.Set(&draft.Character, i.resolver.ResolveMany(ctx, draft.Refs[f.Name]))
		}
	}

	i.observer.OnEntityResolved(draft.Character.ID)
	log.Debug("entity resolved", zap.Int64("id", draft.Character.ID), zap.String("name", draft.Character.Name))
	return &draft.Character
}

// collect enforces the snapshot invariants: non-negative unique id and a
// non-empty name. Offending records are dropped and counted.
func collect(loaded []model.Character, log *zap.Logger) ([]model.Character, int) {
	sort.Slice(loaded, func(a, b int) bool { return loaded[a].ID < loaded[b].ID })

	records := make([]model.Character, 0, len(loaded))
	seen := make(map[int64]struct{}, len(loaded))
	invalid := 0
	for _, c := range loaded {
		switch {
		case c.ID < 0:
			log.Warn("entity dropped: negative id", zap.Int64("id", c.ID))
		case c.Name == "":
			log.Warn("entity dropped: empty name", zap.Int64("id", c.ID))
		default:
			if _, dup := seen[c.ID]; dup {
				log.Warn("entity dropped: duplicate id", zap.Int64("id", c.ID), zap.String("name", c.Name))
				break
			}
			seen[c.ID] = struct{}{}
			records = append(records, c)
			continue
		}
		invalid++
	}
	return records, invalid
}
