package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-camera/internal/audit"
	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/config"
)

// Server timeouts.
const (
	gracefulShutdownTimeout = 5 * time.Second
	readHeaderTimeout       = 5 * time.Second
	writeTimeout            = 10 * time.Second
)

// CameraStatus is one row of GET /api/cameras.
type CameraStatus struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	Available   bool   `json:"available"`
	Errors      int    `json:"errors"`
	LoginFailed bool   `json:"login_failed"`
}

// CameraLister supplies the camera rows for /api/cameras.
type CameraLister interface {
	CameraStatuses() []CameraStatus
}

// AuditLister answers GET /api/audit. *audit.SQLiteRepository implements it.
type AuditLister interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// HistoryFunc returns the recent history of one camera for
// GET /api/cameras/{name}/history.
type HistoryFunc func(ctx context.Context, camera string, limit int) (any, error)

// Logger is the logging interface used by the status server.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// ServerDeps holds the dependencies of the status server.
type ServerDeps struct {
	Config  config.StatusConfig
	Metrics *Metrics
	Health  healthcheck.Handler
	Cameras CameraLister
	Logger  Logger

	// Events serves the live event stream at Config.WebSocket.Path. Optional.
	Events http.Handler

	// Audit serves /api/audit. Optional.
	Audit AuditLister

	// History serves /api/cameras/{name}/history. Optional.
	History HistoryFunc
}

// Server is the status HTTP server.
type Server struct {
	cfg     config.StatusConfig
	metrics *Metrics
	health  healthcheck.Handler
	cameras CameraLister
	logger  Logger
	events  http.Handler
	audit   AuditLister
	history HistoryFunc

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer validates deps and builds the server. It does not listen until Start.
func NewServer(deps ServerDeps) (*Server, error) {
	if deps.Metrics == nil {
		return nil, fmt.Errorf("metrics is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	health := deps.Health
	if health == nil {
		health = NewHealth(deps.Metrics)
	}

	return &Server{
		cfg:     deps.Config,
		metrics: deps.Metrics,
		health:  health,
		cameras: deps.Cameras,
		logger:  deps.Logger,
		events:  deps.Events,
		audit:   deps.Audit,
		history: deps.History,
	}, nil
}

// Handler returns the router. Exposed for tests and for embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health.LiveEndpoint)
	r.Get("/ready", s.health.ReadyEndpoint)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/cameras", s.handleListCameras)
		r.Get("/cameras/{name}", s.handleGetCamera)
		if s.history != nil {
			r.Get("/cameras/{name}/history", s.handleCameraHistory)
		}
		if s.audit != nil {
			r.Get("/audit", s.handleListAudit)
		}
	})

	if s.events != nil {
		path := s.cfg.WebSocket.Path
		if path == "" {
			path = "/api/events"
		}
		r.Method(http.MethodGet, path, s.events)
	}

	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("status server already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status server listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()

	s.logger.Info("status server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts the server down.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return nil
}

func (s *Server) statuses() []CameraStatus {
	if s.cameras == nil {
		return []CameraStatus{}
	}
	list := s.cameras.CameraStatuses()
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

func (s *Server) handleListCameras(w http.ResponseWriter, _ *http.Request) {
	list := s.statuses()
	writeJSON(w, http.StatusOK, map[string]any{
		"cameras": list,
		"count":   len(list),
	})
}

func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, st := range s.statuses() {
		if st.Name == name {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{
		"code":    "not_found",
		"message": fmt.Sprintf("camera %q not found", name),
	})
}

func (s *Server) handleCameraHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.knownCamera(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"code":    "not_found",
			"message": fmt.Sprintf("camera %q not found", name),
		})
		return
	}

	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	history, err := s.history(r.Context(), name, limit)
	if err != nil {
		s.logger.Error("camera history query failed", "camera", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"code":    "internal_error",
			"message": "failed to load camera history",
		})
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) knownCamera(name string) bool {
	for _, st := range s.statuses() {
		if st.Name == name {
			return true
		}
	}
	return false
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}

	q := r.URL.Query()
	result, err := s.audit.List(r.Context(), audit.Filter{
		Action:   q.Get("action"),
		Service:  q.Get("service"),
		EntityID: q.Get("entity_id"),
		UserID:   q.Get("user_id"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.logger.Error("audit query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"code":    "internal_error",
			"message": "failed to list audit logs",
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// queryInt parses an optional integer query parameter, writing a 400 on failure.
func queryInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"code":    "bad_request",
			"message": fmt.Sprintf("%s must be an integer", key),
		})
		return 0, false
	}
	return v, true
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	json.NewEncoder(w).Encode(v)
}
