// Package api is the HTTP host for engines: each environment is a session
// behind /api/v1/envs, and every call goes through the bridge call surface
// with JSON bodies decoded into dynamic values.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/eden-env/internal/bridge"
	"github.com/MJE43/eden-env/internal/game"
	"github.com/MJE43/eden-env/internal/metrics"
	"github.com/MJE43/eden-env/internal/ratelimit"
	"github.com/MJE43/eden-env/internal/store"
	"github.com/MJE43/eden-env/internal/version"
)

const maxBodyBytes = 8 << 20

// Options configures a Server. Zero values disable the optional parts.
type Options struct {
	Logger        *log.Logger
	Store         *store.Store
	Metrics       *metrics.Metrics
	Limiter       *ratelimit.Limiter
	BridgeOptions []bridge.Option
	// Open defaults to game.Open, DefaultKind to "sandbox".
	Open        func(kind, config string) (game.Game, error)
	DefaultKind string
	// Verbose logs every request.
	Verbose bool
}

// Server handles HTTP requests.
type Server struct {
	sessions     *sessions
	store        *store.Store
	metrics      *metrics.Metrics
	limiter      *ratelimit.Limiter
	bridgeOpts   []bridge.Option
	open         func(kind, config string) (game.Game, error)
	defaultKind  string
	verbose      bool
	errorHandler *ErrorHandler
	logger       *log.Logger
	startTime    time.Time
}

// NewServer creates a new API server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[API] ", log.LstdFlags|log.Lshortfile)
	}
	s := &Server{
		sessions:     newSessions(),
		store:        opts.Store,
		metrics:      opts.Metrics,
		limiter:      opts.Limiter,
		bridgeOpts:   opts.BridgeOptions,
		open:         opts.Open,
		defaultKind:  opts.DefaultKind,
		verbose:      opts.Verbose,
		errorHandler: NewErrorHandler(logger),
		logger:       logger,
		startTime:    time.Now(),
	}
	if s.open == nil {
		s.open = game.Open
	}
	if s.defaultKind == "" {
		s.defaultKind = "sandbox"
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	logger.Printf("server_init kinds=%v default_kind=%s store=%t rate_limit=%t",
		game.Kinds(), s.defaultKind, s.store != nil, s.limiter != nil)
	return s
}

// Routes sets up the HTTP routes with middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.verbose {
		r.Use(s.LoggingMiddleware)
	}
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(s.RateLimitMiddleware)

	r.Get("/health", s.handleHealthCheck)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/version", s.handleVersion)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/envs", func(r chi.Router) {
			r.Post("/", s.handleCreateEnv)
			r.Get("/", s.handleListEnvs)
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", s.handleDeleteEnv)
				r.Post("/reset", s.handleReset)
				r.Post("/update", s.handleUpdate)
				r.Post("/step", s.handleStep)
				r.Get("/observe", s.handleObserve)
				r.Get("/result", s.handleResult)
				r.Get("/agent_count", s.handleAgentCount)
				r.Get("/ui/{agentID}", s.handleGetUI)
				r.Post("/run_script", s.handleRunScript)
				r.Post("/call", s.handleCall)
			})
		})
		r.Route("/episodes", func(r chi.Router) {
			r.Get("/", s.handleListEpisodes)
			r.Get("/{id}", s.handleGetEpisode)
			r.Get("/{id}/steps", s.handleGetSteps)
		})
	})

	return r
}

// Close closes every open environment and flushes their recordings.
func (s *Server) Close() error {
	var errs []error
	for _, sess := range s.sessions.drain() {
		sess.mu.Lock()
		if !sess.closed {
			s.metrics.EnvClosed()
		}
		errs = append(errs, sess.closeLocked())
		sess.mu.Unlock()
	}
	return errors.Join(errs...)
}

// writeJSON writes a JSON response with headers. The body is marshalled before
// the status goes out, so values JSON cannot carry (NaN, Inf) become a 500
// instead of an empty 200.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("response_marshal_failed status=%d err=%v", status, err)
		apiErr := NewError(ErrTypeInternal, "response is not representable as JSON").
			WithContext("error", err.Error()).
			Build()
		s.errorHandler.writeErrorResponse(w, http.StatusInternalServerError, apiErr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", version.Version)
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		s.logger.Printf("response_write_failed status=%d err=%v", status, err)
	}
}

// decodeJSON reads a JSON body keeping numbers as json.Number, so integers
// survive exactly and the bridge decides what each one may be. An empty body
// decodes as {}.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.errorHandler.HandleValidationError(w, r, "body", fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}
