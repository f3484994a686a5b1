package handler

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"swapi-archive/internal/logger"
	"swapi-archive/internal/service"
	"swapi-archive/pkg/apierror"
	"swapi-archive/pkg/response"
)

// StatsSource reports storage statistics.
type StatsSource interface {
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// RunReporter exposes the state of the ingestion pipeline.
type RunReporter interface {
	LastResult() *service.RunResult
	Running() bool
}

// GateReporter exposes the admission gate of the upstream client.
type GateReporter interface {
	MaxConcurrent() int
	InFlight() int
}

// AdminConfig holds the dependencies of the admin handler. Any of them may be nil.
type AdminConfig struct {
	Store     StatsSource
	StoreType string
	Runner    service.Runner
	Runs      RunReporter
	Gate      GateReporter
	// Lifetime cancels admin-triggered runs when it is done, so a run does
	// not outlive the server and the store it writes to.
	Lifetime context.Context
}

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	cfg       AdminConfig
	startTime time.Time
	logger    *zap.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(cfg AdminConfig, log *zap.Logger) *AdminHandler {
	return &AdminHandler{
		cfg:       cfg,
		startTime: time.Now(),
		logger:    logger.OrNop(log).Named("admin"),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	// System info
	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["store_type"] = h.cfg.StoreType

	// Memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	// Store stats
	if h.cfg.Store != nil {
		storeStats, err := h.cfg.Store.GetStats(ctx)
		if err == nil {
			storeStats["status"] = "connected"
			stats["store"] = storeStats
		} else {
			stats["store"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	} else {
		stats["store"] = map[string]interface{}{"status": "not_configured"}
	}

	// Ingestion state
	if h.cfg.Runs != nil {
		ingest := map[string]interface{}{"running": h.cfg.Runs.Running()}
		if last := h.cfg.Runs.LastResult(); last != nil {
			ingest["last_run"] = last
			ingest["last_run_seconds"] = last.Duration().Seconds()
		}
		stats["ingest"] = ingest
	}

	if h.cfg.Gate != nil {
		stats["gate"] = map[string]interface{}{
			"max_concurrent": h.cfg.Gate.MaxConcurrent(),
			"in_flight":      h.cfg.Gate.InFlight(),
		}
	}

	// Runtime info
	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}

// TriggerIngest handles POST /api/v1/admin/ingest. The run is synchronous and
// survives the client going away; the run timeout and the server lifetime
// still bound it.
func (h *AdminHandler) TriggerIngest(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Runner == nil {
		response.Error(w, apierror.ServiceUnavailable("ingestion is not configured"))
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	if h.cfg.Lifetime != nil {
		stop := context.AfterFunc(h.cfg.Lifetime, cancel)
		defer stop()
	}

	result, err := h.cfg.Runner.Run(ctx)
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		response.Error(w, apierror.Conflict("an ingestion run is already in progress"))
	case errors.Is(err, service.ErrNothingDiscovered):
		response.Error(w, apierror.BadGateway("upstream listing returned no characters; snapshot kept"))
	case err != nil:
		h.logger.Error("manual ingest failed", zap.Error(err))
		response.Error(w, apierror.InternalError("ingestion failed; snapshot kept"))
	default:
		response.OK(w, result)
	}
}
