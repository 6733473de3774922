// Package server exposes the derived per-source views as a read-only JSON API.
//
// Routes:
//
//	GET /api/sources                      overview of every source
//	GET /api/sources/{id}                 dashboard of one source
//	GET /api/sources/{id}/readings        newest first, ?limit=N (default 50, 0 = all)
//	GET /api/sources/{id}/chart           chronological series with threshold lines
//	GET /api/sources/{id}/insights        analytics over the trailing window
//	GET /api/network                      online/offline indicator
//	GET /healthz
//	GET /metrics
//
// API routes pass through request id, logging, metrics, rate limiting and a
// response cache keyed by the combined session generation. Responses are
// gzip-compressed on request and handler panics become 500s.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tejusbharadwaj/tankwatch/internal/netstate"
	middleware "github.com/tejusbharadwaj/tankwatch/internal/server/middlewares"
	"github.com/tejusbharadwaj/tankwatch/internal/session"
)

// Config holds configuration options for the HTTP server
type Config struct {
	CacheSize      int     // Size of the LRU cache
	RateLimit      float64 // Requests per second
	RateLimitBurst int     // Maximum burst size for rate limiting
	CORSOrigins    []string
	// CacheBucket re-keys the cache on this period, for views that depend on
	// the wall clock. Zero keys on data changes only.
	CacheBucket time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		CacheSize:      256,
		RateLimit:      20.0,
		RateLimitBurst: 40,
		CORSOrigins:    []string{"*"},
	}
}

// Source is the read side of a session.
type Source interface {
	ID() string
	Overview() session.Overview
	Dashboard() session.Dashboard
	Readings(limit int) []session.ReadingView
	Chart() session.Chart
	Insights() (session.Insights, error)
	Snapshot() session.State
}

// NetworkStatus reports connectivity.
type NetworkStatus interface {
	Status() netstate.Status
}

type Server struct {
	sources   map[string]Source
	order     []string
	network   NetworkStatus
	validator *RequestValidator
	cfg       Config
	logger    *logrus.Logger
	handler   http.Handler
}

// New builds the router. A nil network is reported as always online.
func New(sources []Source, network NetworkStatus, cfg Config, logger *logrus.Logger) (*Server, error) {
	s := &Server{
		sources:   make(map[string]Source, len(sources)),
		network:   network,
		validator: NewRequestValidator(),
		cfg:       cfg,
		logger:    logger,
	}
	for _, src := range sources {
		if _, dup := s.sources[src.ID()]; dup {
			return nil, fmt.Errorf("duplicate source id %q", src.ID())
		}
		s.sources[src.ID()] = src
		s.order = append(s.order, src.ID())
	}

	cache, err := middleware.NewCache(cfg.CacheSize, s.version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	router := mux.NewRouter()
	router.Use(
		middleware.RequestID, // Add request ID first
		middleware.Logging(logger),
		middleware.NewMetrics(middleware.Requests, middleware.Latency),
	)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(
		middleware.RateLimiter(rate.NewLimiter(limit, max(cfg.RateLimitBurst, 1))),
		cache.Middleware, // Cache last to avoid caching rejected requests
	)
	api.HandleFunc("/sources", s.handleSources).Methods(http.MethodGet)
	api.HandleFunc("/sources/{id}", s.withSource(s.handleDashboard)).Methods(http.MethodGet)
	api.HandleFunc("/sources/{id}/readings", s.withSource(s.handleReadings)).Methods(http.MethodGet)
	api.HandleFunc("/sources/{id}/chart", s.withSource(s.handleChart)).Methods(http.MethodGet)
	api.HandleFunc("/sources/{id}/insights", s.withSource(s.handleInsights)).Methods(http.MethodGet)
	api.HandleFunc("/network", s.handleNetwork).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.respondWithError(w, NewAPIError(ErrorCodeNotFound, "no such route", nil, http.StatusNotFound))
	})

	var h http.Handler = handlers.CompressHandler(router)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(logger),
		handlers.PrintRecoveryStack(true),
	)(h)
	s.handler = cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}).Handler(h)

	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// version changes whenever any response could change.
func (s *Server) version() string {
	var sum uint64
	for _, id := range s.order {
		sum += s.sources[id].Snapshot().Generation
	}
	parts := []string{strconv.FormatUint(sum, 10), strconv.FormatBool(s.online())}
	if s.cfg.CacheBucket > 0 {
		parts = append(parts, strconv.FormatInt(time.Now().Truncate(s.cfg.CacheBucket).Unix(), 10))
	}
	return strings.Join(parts, ":")
}

func (s *Server) online() bool {
	return s.network == nil || s.network.Status().Online
}

func (s *Server) respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, apiErr APIError) {
	s.respondWithJSON(w, apiErr.StatusCode, apiErr)
}
