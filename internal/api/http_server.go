package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"propsync/internal/config"
	"propsync/internal/domain"
	"propsync/internal/engine"
	"propsync/internal/metrics"
	"propsync/internal/models"

	"github.com/rs/zerolog"
)

// SyncEngine is the part of the batch engine exposed over HTTP.
type SyncEngine interface {
	Start(ctx context.Context, syncType string, opts models.Options) (*engine.StartResult, error)
	Get(ctx context.Context, syncID string) (*models.Snapshot, error)
	Cancel(ctx context.Context, syncID string) error
	ListActive(ctx context.Context) ([]models.Snapshot, error)
	ReconcileActive(ctx context.Context) (*engine.JanitorReport, error)
	ForceClear(ctx context.Context) (map[string]string, error)
}

// WebhookProcessor applies CRM webhook events to the local store.
type WebhookProcessor interface {
	Process(ctx context.Context, action string, payload models.WebhookPayload) (models.WebhookResult, error)
}

// MappingAdmin exposes Entity Map maintenance.
type MappingAdmin interface {
	GetStats(ctx context.Context) (map[string]int64, error)
	ClearType(ctx context.Context, entityType string) (int64, error)
}

// ReportWriter renders the sync log workbook.
type ReportWriter interface {
	WriteSyncReport(ctx context.Context, w io.Writer, since time.Time, limit uint64) error
}

// ReadinessCheck fails when a dependency is not usable.
type ReadinessCheck func(ctx context.Context) error

// Deps are the collaborators behind the HTTP routes. Nil members disable
// their routes with 503.
type Deps struct {
	Engine   SyncEngine
	Webhooks WebhookProcessor
	Mappings MappingAdmin
	Events   domain.EventPublisher
	Reports  ReportWriter
	Ready    map[string]ReadinessCheck
}

// HTTPServer exposes sync control, webhook ingress and reports.
type HTTPServer struct {
	cfg     *config.APIConfig
	webhook config.WebhookConfig
	deps    Deps
	server  *http.Server
	auth    *HTTPAuth
	logger  zerolog.Logger
}

func NewHTTPServer(cfg *config.APIConfig, webhookCfg config.WebhookConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:     cfg,
		webhook: webhookCfg,
		deps:    deps,
		auth:    NewHTTPAuth(cfg),
		logger:  logger.With().Str("component", "http").Logger(),
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/syncs", srv.handleStartSync)
	api.HandleFunc("GET /api/v1/syncs/active", srv.handleActiveSyncs)
	api.HandleFunc("POST /api/v1/syncs/force-clear", srv.handleForceClear)
	api.HandleFunc("POST /api/v1/syncs/janitor", srv.handleJanitor)
	api.HandleFunc("GET /api/v1/syncs/{id}", srv.handleGetSync)
	api.HandleFunc("POST /api/v1/syncs/{id}/cancel", srv.handleCancelSync)
	api.HandleFunc("GET /api/v1/mappings/stats", srv.handleMappingStats)
	api.HandleFunc("DELETE /api/v1/mappings/{entity_type}", srv.handleClearMappings)
	api.HandleFunc("POST /api/v1/events", srv.handleLocalEvent)
	api.HandleFunc("GET /api/v1/reports/sync-log.xlsx", srv.handleSyncReport)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/webhooks/crm", srv.handleWebhook)
	mux.Handle("/api/v1/", srv.auth.Wrap(api))
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /readyz", srv.handleReadyz)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(corsMiddleware(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	return srv
}

// Handler returns the root handler with all middleware applied.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.deps.Ready))
	for name := range s.deps.Ready {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	ready := true
	for _, name := range names {
		if err := s.deps.Ready[name](ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"ready": ready, "checks": checks})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-API-Extra")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
