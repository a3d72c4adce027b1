// Package server exposes build planning and cache statistics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ldesign/toolkit/builder"
	"github.com/ldesign/toolkit/cache"
	"github.com/ldesign/toolkit/config"
	"github.com/ldesign/toolkit/limiter"
	"github.com/rs/zerolog/log"
)

// Option configures a Server.
type Option func(*Server)

// WithRuleLimiter rate limits the planning endpoint.
func WithRuleLimiter(rl *limiter.RuleLimiter) Option {
	return func(s *Server) {
		s.limiter = rl
	}
}

// WithToolchain replaces the node_modules toolchain rooted at the configured
// project root.
func WithToolchain(tc builder.Toolchain) Option {
	return func(s *Server) {
		if tc != nil {
			s.toolchain = tc
		}
	}
}

// WithRegistry replaces the built-in strategy registry.
func WithRegistry(r *builder.Registry) Option {
	return func(s *Server) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithPlanTTL sets how long resolved plans stay cached. Zero uses the engine default.
func WithPlanTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.planTTL = ttl
	}
}

// Server serves the HTTP API. It implements lifecycle.Component.
type Server struct {
	cfg       config.ServerConfig
	cache     *cache.Manager
	registry  *builder.Registry
	toolchain builder.Toolchain
	limiter   *limiter.RuleLimiter
	planTTL   time.Duration
	router    chi.Router

	mu   sync.Mutex
	http *http.Server
	ln   net.Listener
	done chan struct{}
}

// New creates a stopped Server whose plans are cached in manager.
func New(cfg config.ServerConfig, manager *cache.Manager, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		cache:    manager,
		registry: builder.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.toolchain == nil {
		s.toolchain = builder.NodeModules(cfg.ProjectRoot, nil)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/cache/stats", s.handleCacheStats)
		r.Delete("/cache", s.handleCacheClear)
		if s.limiter != nil {
			r.With(limiter.HTTPMiddleware(s.limiter)).Post("/plan", s.handlePlan)
		} else {
			r.Post("/plan", s.handlePlan)
		}
	})
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Name() string {
	return "http-server"
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", ln.Addr().String()).Msg("http server stopped unexpectedly")
		}
	}()
	s.http, s.ln, s.done = srv, ln, done
	log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	return nil
}

// Stop gracefully shuts the server down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http == nil {
		return nil
	}
	err := s.http.Shutdown(ctx)
	if err == nil {
		<-s.done
	}
	s.http, s.ln, s.done = nil, nil, nil
	return err
}

// Addr returns the listening address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
