package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/courseware-agent/internal/config"
	"github.com/jonathan/courseware-agent/internal/db"
	"github.com/jonathan/courseware-agent/internal/fetch"
	"github.com/jonathan/courseware-agent/internal/pipeline"
	"github.com/jonathan/courseware-agent/internal/server/middleware"
	"github.com/jonathan/courseware-agent/internal/server/ratelimit"
	"github.com/jonathan/courseware-agent/internal/types"
)

// RunArchive is the read side of the run archive.
type RunArchive interface {
	ListRuns(ctx context.Context, filters db.RunFilters) ([]db.Run, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*db.Run, error)
	ListTrace(ctx context.Context, runID uuid.UUID, stage *string) ([]db.TraceEntry, error)
	GetArtifact(ctx context.Context, runID uuid.UUID, step string) (*db.Artifact, error)
	DeleteRun(ctx context.Context, runID uuid.UUID) error
}

// FetchFunc retrieves a scrape-origin document.
type FetchFunc func(ctx context.Context, url string) (types.SourceDocument, error)

// Server represents the HTTP server
type Server struct {
	httpServer   *http.Server
	handler      http.Handler
	orchestrator *pipeline.Orchestrator
	archive      RunArchive
	rateLimiter  *ratelimit.Limiter
	jwtService   *JWTService
	admin        *config.AdminConfig
	fetch        FetchFunc

	// baseCtx outlives requests; background runs are cancelled with it on shutdown.
	baseCtx    context.Context
	stopRuns   context.CancelFunc
	background sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Port         int
	Orchestrator *pipeline.Orchestrator
	// Archive is optional; archive endpoints answer 503 without it.
	Archive RunArchive
	JWT     *config.JWTConfig
	Admin   *config.AdminConfig
	// RateLimit nil reads the limits from the environment.
	RateLimit *ratelimit.Config
	// Fetch nil fetches over HTTP with headless-browser fallback.
	Fetch FetchFunc
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.JWT == nil || cfg.Admin == nil {
		return nil, fmt.Errorf("JWT and admin configuration are required")
	}

	rlConfig := cfg.RateLimit
	if rlConfig == nil {
		rlConfig = ratelimit.LoadConfig()
	}

	fetchFn := cfg.Fetch
	if fetchFn == nil {
		fetchFn = func(ctx context.Context, url string) (types.SourceDocument, error) {
			opts := fetch.DefaultOptions()
			opts.UseBrowser = true
			return fetch.Document(ctx, url, opts)
		}
	}

	baseCtx, stopRuns := context.WithCancel(context.Background())
	s := &Server{
		orchestrator: cfg.Orchestrator,
		archive:      cfg.Archive,
		rateLimiter:  ratelimit.NewLimiter(rlConfig),
		jwtService:   NewJWTService(cfg.JWT),
		admin:        cfg.Admin,
		fetch:        fetchFn,
		baseCtx:      baseCtx,
		stopRuns:     stopRuns,
	}

	auth := middleware.AuthMiddleware(s.jwtService.AsTokenValidator())
	protect := func(h http.HandlerFunc) http.Handler { return auth(h) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /auth/token", s.handleToken)

	// Live runs
	mux.Handle("POST /runs", protect(s.handleCreateRun))
	mux.Handle("POST /runs/stream", protect(s.handleRunStream))
	mux.Handle("GET /runs", protect(s.handleListRuns))
	mux.Handle("GET /runs/{id}", protect(s.handleGetRun))
	mux.Handle("DELETE /runs/{id}", protect(s.handleForgetRun))
	mux.Handle("GET /runs/{id}/trace", protect(s.handleRunTrace))
	mux.Handle("POST /runs/{id}/clarify", protect(s.handleClarify))
	mux.Handle("POST /runs/{id}/handoff", protect(s.handleHandoff))
	mux.Handle("POST /runs/{id}/cancel", protect(s.handleCancel))

	// Archived runs
	mux.Handle("GET /archive/runs", protect(s.handleListArchived))
	mux.Handle("GET /archive/runs/{id}", protect(s.handleGetArchived))
	mux.Handle("DELETE /archive/runs/{id}", protect(s.handleDeleteArchived))
	mux.Handle("GET /archive/runs/{id}/trace", protect(s.handleArchivedTrace))
	mux.Handle("GET /archive/runs/{id}/artifacts/{step}", protect(s.handleArchivedArtifact))

	s.handler = s.withRateLimit(s.withLogging(s.withCORS(mux)))
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // streamed runs hold the connection
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for requests and blocks until SIGINT or SIGTERM.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		s.Close()
		return fmt.Errorf("server error: %w", err)
	}
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.Close()
	log.Println("Server stopped")
	return nil
}

// Close cancels background runs, waits for them to settle and stops the rate
// limiter cleanup goroutine.
func (s *Server) Close() {
	s.stopRuns()
	s.background.Wait()
	s.rateLimiter.Stop()
}

// goBackground runs fn on the server context, outside the request lifetime.
func (s *Server) goBackground(fn func(ctx context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn(s.baseCtx)
	}()
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(s.extractClientID(r), r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"archive": s.archive != nil,
	})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// errorFrom maps err to its status code and writes it.
func (s *Server) errorFrom(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("Error: %v", err)
	}
	s.errorResponse(w, status, err.Error())
}

// extractClientID extracts the client identifier from the request.
// It uses the IP address from RemoteAddr; X-Forwarded-For is not trusted.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}

	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Seconds()) + 1
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	}

	log.Printf("[rate-limit] Rate limit exceeded: Limit=%d Remaining=%d", info.Limit, info.Remaining)

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
