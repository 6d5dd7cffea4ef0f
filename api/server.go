package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/curator"
	"github.com/docutag/curator/classifier"
	"github.com/docutag/curator/db"
	"github.com/docutag/curator/folders"
	"github.com/docutag/curator/health"
	"github.com/docutag/curator/metrics"
	"github.com/docutag/curator/models"
	"github.com/docutag/curator/storage"
)

const maxBodyBytes = 1 << 20

// Server exposes the curator over HTTP
type Server struct {
	db          *db.DB
	curator     *curator.Curator
	logger      *slog.Logger
	addr        string
	server      *http.Server
	mux         *http.ServeMux
	corsEnabled bool
}

// Config wires the server to its database, snapshot store and AI backend
type Config struct {
	Addr             string
	DBConfig         db.Config
	StoragePath      string            // Local snapshot directory
	S3               *storage.S3Config // Snapshots go to S3 when set
	ClassifierConfig classifier.Config
	CuratorConfig    curator.Config
	HealthConfig     health.Config
	CORSEnabled      bool
	Logger           *slog.Logger

	// Classifier replaces the backend built from ClassifierConfig
	Classifier classifier.Classifier
}

// DefaultConfig listens on :8080 against a local SQLite file
func DefaultConfig() Config {
	return Config{
		Addr:             ":8080",
		DBConfig:         db.DefaultConfig(),
		StoragePath:      storage.DefaultConfig().BasePath,
		ClassifierConfig: classifier.DefaultConfig(),
		CuratorConfig:    curator.DefaultConfig(),
		HealthConfig:     health.DefaultConfig(),
		CORSEnabled:      true,
	}
}

// NewServer opens the database and snapshot store and registers routes.
// A classifier that fails to start is logged and left nil, so only
// organize requests are refused.
func NewServer(ctx context.Context, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	database, err := db.New(config.DBConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	snapshots, err := newSnapshotStore(ctx, config)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// The service stays up without a classifier; organize answers 503
	ai := config.Classifier
	if ai == nil {
		ai, err = classifier.New(ctx, config.ClassifierConfig, logger)
		if err != nil {
			logger.Warn("classifier unavailable, organize disabled", "backend", config.ClassifierConfig.Backend, "error", err)
			ai = nil
		}
	}

	cur := curator.New(config.CuratorConfig, curator.Deps{
		Tree:       database,
		Classifier: ai,
		Snapshots:  snapshots,
		Checker:    health.New(config.HealthConfig, logger),
		Verdicts:   database,
		Logger:     logger,
	})

	s := &Server{
		db:          database,
		curator:     cur,
		logger:      logger,
		addr:        config.Addr,
		mux:         http.NewServeMux(),
		corsEnabled: config.CORSEnabled,
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      otelhttp.NewHandler(s.middleware(s.mux), "curator-api"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // Organize runs classify every batch inline
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

func newSnapshotStore(ctx context.Context, config Config) (storage.Store, error) {
	if config.S3 != nil {
		return storage.NewS3Storage(ctx, *config.S3)
	}
	path := config.StoragePath
	if path == "" {
		path = storage.DefaultConfig().BasePath
	}
	return storage.New(storage.Config{BasePath: path})
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/tree", s.handleTree)
	s.mux.HandleFunc("/api/organize", s.handleOrganize)
	s.mux.HandleFunc("/api/check", s.handleCheck)
	s.mux.HandleFunc("/api/dead", s.handleDead) // GET lists, DELETE prunes
	s.mux.HandleFunc("/api/restore", s.handleRestore)
}

// Handler returns the routed handler without tracing, for tests
func (s *Server) Handler() http.Handler {
	return s.middleware(s.mux)
}

// DB returns the database for metrics collection
func (s *Server) DB() *db.DB {
	return s.db
}

// Start blocks serving until Shutdown
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests, then closes the database
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.db.Close()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// middleware adds CORS headers, request metrics and access logs
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Browser extensions call from their own origin
		if s.corsEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		// Skip health checks and scrapes to reduce noise
		if r.URL.Path != "/health" && r.URL.Path != "/metrics" {
			s.logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", elapsed,
			)
		}
	})
}

// handleHealth reports liveness and the stored link count
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	count, err := s.db.CountLinks(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get count")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"links":  count,
		"time":   time.Now(),
	})
}

// handleTree returns the whole folder tree
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	roots, err := s.curator.Tree(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	if roots == nil {
		roots = []*models.FolderNode{}
	}
	respondJSON(w, http.StatusOK, roots)
}

// OrganizeErrorResponse carries what a failed run still did
type OrganizeErrorResponse struct {
	Error  string                   `json:"error"`
	Report *models.OrganizeResponse `json:"report,omitempty"`
}

// handleOrganize runs a reorganization
func (s *Server) handleOrganize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.OrganizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MaxCategories < 0 {
		respondError(w, http.StatusBadRequest, "max_categories cannot be negative")
		return
	}

	report, err := s.curator.Organize(r.Context(), curator.OptionsFromRequest(req))
	if err != nil {
		status := organizeStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("organize failed", "error", err)
		}
		respondJSON(w, status, OrganizeErrorResponse{Error: err.Error(), Report: report})
		return
	}

	respondJSON(w, http.StatusOK, report)
}

func organizeStatus(err error) int {
	var batchErr *curator.BatchError
	var planErr *curator.PlanningError
	switch {
	case errors.Is(err, curator.ErrNoClassifier):
		return http.StatusServiceUnavailable
	case errors.Is(err, folders.ErrConfirmationRequired):
		return http.StatusBadRequest
	case errors.Is(err, folders.ErrNotFound):
		return http.StatusNotFound
	case classifier.IsRateLimited(err):
		return http.StatusTooManyRequests
	case errors.As(err, &planErr), errors.As(err, &batchErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleCheck probes links under a folder
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.CheckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Window < 0 {
		respondError(w, http.StatusBadRequest, "window cannot be negative")
		return
	}

	report, err := s.curator.Check(r.Context(), curator.CheckOptions{
		RootID: req.RootID,
		Strict: req.Strict,
		Window: req.Window,
	})
	if err != nil {
		if errors.Is(err, folders.ErrNotFound) {
			respondError(w, http.StatusNotFound, "folder not found")
			return
		}
		s.logger.Error("link check failed", "error", err)
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("link check failed: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// DeadLinksResponse lists stored dead verdicts
type DeadLinksResponse struct {
	Verdicts []models.HealthVerdict `json:"verdicts"`
	Count    int                    `json:"count"`
}

// handleDead lists dead links or, with DELETE and confirm=true, deletes them
func (s *Server) handleDead(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		dead, err := s.curator.DeadLinks(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "database error")
			return
		}
		respondJSON(w, http.StatusOK, DeadLinksResponse{Verdicts: dead, Count: len(dead)})

	case http.MethodDelete:
		confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
		report, err := s.curator.Prune(r.Context(), confirmed)
		if errors.Is(err, folders.ErrConfirmationRequired) {
			respondError(w, http.StatusBadRequest, "deleting dead links requires confirm=true")
			return
		}
		if err != nil {
			s.logger.Error("prune failed", "error", err)
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("prune failed: %v", err))
			return
		}
		respondJSON(w, http.StatusOK, report)

	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleRestore replays a stored snapshot
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.RestoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SnapshotKey == "" {
		respondError(w, http.StatusBadRequest, "snapshot_key is required")
		return
	}

	result, err := s.curator.Restore(r.Context(), req.SnapshotKey, req.RootID)
	switch {
	case errors.Is(err, curator.ErrNoSnapshots):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "snapshot not found")
	case errors.Is(err, folders.ErrNotFound):
		respondError(w, http.StatusNotFound, "folder not found")
	case err != nil:
		s.logger.Error("restore failed", "key", req.SnapshotKey, "error", err)
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("restore failed: %v", err))
	default:
		respondJSON(w, http.StatusOK, result)
	}
}

// decodeBody reads a JSON request body into v. An empty body leaves v at
// its zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
