// Package api exposes the orchestrator over HTTP.
//
// Kick-off endpoints answer 202 with the queued run or record; progress is
// delivered on the workspace event stream.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artpar/launchpad/internal/shell/api/middleware"
	"github.com/artpar/launchpad/internal/shell/metrics"
)

const readyCheckTimeout = 2 * time.Second

// =============================================================================
// API Setup
// =============================================================================

// ReadyCheck checks one dependency for the readiness endpoint.
type ReadyCheck func(ctx context.Context) error

// APIConfig holds configuration for the API setup.
type APIConfig struct {
	Orchestrator Orchestrator
	Stream       StreamServer // nil disables /events
	Logger       *slog.Logger

	// Metrics records request counts. Gatherer serves /metrics; nil
	// disables the route.
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer

	// ReadyChecks are run by /ready, keyed by dependency name.
	ReadyChecks map[string]ReadyCheck

	// AuthSharedSecret is the optional gateway secret.
	AuthSharedSecret string
}

// SetupAPI creates the complete API router.
func SetupAPI(cfg APIConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(chimw.RealIP)
	r.Use(recoveryMiddleware(cfg.Logger))
	r.Use(instrument(cfg.Metrics))

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(cfg.ReadyChecks))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	authMW := middleware.NewAuthMiddleware(middleware.AuthConfig{
		SharedSecret: cfg.AuthSharedSecret,
		Logger:       cfg.Logger,
	})
	h := NewHandler(cfg.Orchestrator, cfg.Stream, cfg.Logger)

	r.Route("/api/v1/workspaces/{workspaceID}", func(r chi.Router) {
		r.Use(authMW.Handler)
		r.Use(middleware.RequireWorkspace(cfg.Logger, workspaceID))
		h.Routes(r)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSONError(w, http.StatusNotFound, "Not Found", "No route matches the request")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteJSONError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// requestIDMiddleware propagates or generates X-Request-ID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(chimw.RequestIDHeader)
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set(chimw.RequestIDHeader, reqID)
		ctx := context.WithValue(r.Context(), chimw.RequestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoveryMiddleware recovers from panics and returns a 500 error.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						"error", rec,
						"path", r.URL.Path,
						"request_id", chimw.GetReqID(r.Context()),
					)
					middleware.WriteJSONError(w, http.StatusInternalServerError,
						"Internal Server Error", "An unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// instrument records request metrics under the matched route pattern.
func instrument(m *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveRequest(route, r.Method, status, time.Since(start))
		})
	}
}

// =============================================================================
// Health Handlers
// =============================================================================

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
}

func readyHandler(checks map[string]ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(checks))}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = "failed"
				resp.Status = "not_ready"
				continue
			}
			resp.Checks[name] = "ok"
		}

		status := http.StatusOK
		if resp.Status != "ready" {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "req-unknown"
	}
	return "req-" + hex.EncodeToString(b)
}
