package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/loadstate/internal/config"
	"github.com/JakeFAU/loadstate/internal/loop"
	"github.com/JakeFAU/loadstate/internal/metrics"
	"github.com/JakeFAU/loadstate/internal/policy/ratelimit"
	"github.com/JakeFAU/loadstate/internal/progress"
	"github.com/JakeFAU/loadstate/internal/store"
	"github.com/JakeFAU/loadstate/internal/telemetry"
)

const requestTimeout = 30 * time.Second

// Tracker is the goroutine-safe load surface the handlers drive.
type Tracker interface {
	Report(
		ctx context.Context,
		id string,
		phase progress.Phase,
		categories progress.CategorySet,
		fraction float64,
		message string,
	) error
	Clear(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (progress.LoadingState, bool, error)
	All(ctx context.Context) ([]progress.LoadingState, error)
	ByCategories(ctx context.Context, mask progress.CategorySet) ([]progress.LoadingState, error)
	IsAnyActive(ctx context.Context, mask progress.CategorySet, ignoreIDs ...string) (bool, error)
	Phases() *progress.PhaseRegistry
	Categories() *progress.CategoryRegistry
}

// IDGenerator produces server-assigned load ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Server wires HTTP handlers to the tracker and history repository.
type Server struct {
	router  chi.Router
	tracker Tracker
	idGen   IDGenerator
	history *HistoryHandler
	limiter *ratelimit.Limiter
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. A nil history
// repository makes the history routes answer 503.
func NewServer(
	tracker Tracker,
	history store.HistoryRepository,
	idGen IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		tracker: tracker,
		idGen:   idGen,
		history: NewHistoryHandler(history, logger),
		cfg:     cfg,
		logger:  logger,
	}
	if cfg.Server.ReportRPS > 0 {
		s.limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Server.ReportRPS,
			DefaultBurst: cfg.Server.ReportBurst,
		})
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if cfg.Tracing.Enabled {
		r.Use(telemetry.Middleware)
	}
	if cfg.Metrics.Enabled {
		metrics.Init()
		r.Use(metrics.Middleware)
	}
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if cfg.Metrics.Enabled {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/active", s.isAnyActive)
		r.Get("/history", s.history.ListRecent)
		r.Route("/loads", func(r chi.Router) {
			r.Get("/", s.listLoads)
			r.Post("/", s.createLoad)
			r.Route("/{load_id}", func(r chi.Router) {
				r.Get("/", s.getLoad)
				r.Put("/", s.reportLoad)
				r.Delete("/", s.clearLoad)
				r.Get("/history", s.history.ListLoadHistory)
			})
		})
	})

	s.router = r
	return s
}

// LimiterObserver returns an observer that drops a load's rate limit bucket
// once the load is removed, or nil when reports are not throttled. Subscribe
// it to the tracker the server reports to.
func (s *Server) LimiterObserver() progress.Observer {
	if s.limiter == nil {
		return nil
	}
	return progress.ObserverFunc(func(change progress.Change) {
		if change.Kind == progress.ChangeRemoved {
			s.limiter.Forget(change.State.ID)
		}
	})
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz round-trips through the tracker loop so a stopped loop reports not ready.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	if _, err := s.tracker.IsAnyActive(ctx, progress.CategoryNone); err != nil {
		writeError(w, http.StatusServiceUnavailable, "tracker unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// trackerStatus maps tracker errors onto HTTP status codes.
func trackerStatus(err error) int {
	switch {
	case errors.Is(err, loop.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
