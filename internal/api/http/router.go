package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/frostwatch/frostwatch/internal/archive"
	"github.com/frostwatch/frostwatch/internal/observability"
	"github.com/frostwatch/frostwatch/internal/router"
	"github.com/frostwatch/frostwatch/internal/server"
)

// RouterConfig holds HTTP surface settings.
type RouterConfig struct {
	CORSOrigins     []string
	IngestRateLimit int
	MaxBodyBytes    int64
	StreamKeepAlive time.Duration
}

// Deps are the components behind the routes. Archiver, Notifier, Activity,
// and Shutdown are optional; their routes or middleware are omitted when nil.
type Deps struct {
	Store    Store
	Restorer archive.Restorer
	Archiver Archiver
	Notifier *router.Notifier
	Activity *observability.SensorActivity
	Shutdown *server.ShutdownManager
	Logger   zerolog.Logger
}

// NewRouter builds the API handler.
func NewRouter(cfg RouterConfig, deps Deps) http.Handler {
	mux := http.NewServeMux()

	chain := func(route string, extra ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
		var mws []func(http.Handler) http.Handler
		if deps.Shutdown != nil {
			mws = append(mws, server.ShutdownMiddleware(deps.Shutdown))
		}
		mws = append(mws,
			RecoveryMiddleware(deps.Logger),
			RequestIDMiddleware,
			CorrelationIDMiddleware,
			LoggingMiddleware(deps.Logger, route),
			ContentTypeMiddleware,
		)
		return ChainMiddleware(append(mws, extra...)...)
	}

	mux.Handle("POST /api/esp32/data",
		chain("/api/esp32/data", RateLimitMiddleware(cfg.IngestRateLimit))(NewIngestHandler(deps.Store, cfg.MaxBodyBytes, deps.Logger)))
	mux.Handle("GET /api/esp32/data", chain("/api/esp32/data")(NewQueryHandler(deps.Store)))
	mux.Handle("GET /api/esp32/stats", chain("/api/esp32/stats")(NewStatsHandler(deps.Store)))
	mux.Handle("POST /api/esp32/prune", chain("/api/esp32/prune")(NewPruneHandler(deps.Store)))

	if deps.Activity != nil {
		mux.Handle("GET /api/esp32/sensors", chain("/api/esp32/sensors")(NewSensorsHandler(deps.Activity)))
	}
	if deps.Notifier != nil {
		mux.Handle("GET /api/esp32/stream",
			chain("/api/esp32/stream")(NewStreamHandler(deps.Notifier, cfg.StreamKeepAlive, deps.Logger)))
	}
	if deps.Archiver != nil && deps.Restorer != nil {
		mux.Handle("GET /api/esp32/archives", chain("/api/esp32/archives")(NewArchiveListHandler(deps.Archiver)))
		mux.Handle("POST /api/esp32/archives/restore",
			chain("/api/esp32/archives/restore")(NewRestoreHandler(deps.Archiver, deps.Restorer)))
	}

	mux.HandleFunc("GET /health", healthHandler(deps.Shutdown))
	mux.Handle("GET /metrics", promhttp.Handler())

	return CORSMiddleware(cfg.CORSOrigins)(mux)
}

// healthHandler reports liveness; it turns 503 once shutdown begins.
func healthHandler(sm *server.ShutdownManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sm != nil && sm.IsShuttingDown() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down", "service": "frostwatch"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "frostwatch"})
	}
}
