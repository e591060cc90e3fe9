// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package server exposes the host API and routes requests to mounted plugins.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sigil-dev/plughost/internal/plugin"
	"github.com/sigil-dev/plughost/internal/plugin/hooks"
	hosterr "github.com/sigil-dev/plughost/pkg/errors"
)

// PluginPrefix is where the plugin router is mounted.
const PluginPrefix = "/plugins"

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Version is reported by GET /version.
	Version string
}

// ApplyDefaults fills zero timeouts and version.
func (c *Config) ApplyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.Version == "" {
		c.Version = "dev"
	}
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return hosterr.New(hosterr.CodeServerConfigInvalid, "listen address is required")
	}
	for _, origin := range c.CORSOrigins {
		if origin == "*" {
			return hosterr.New(hosterr.CodeServerConfigInvalid, "CORS origin \"*\" is not allowed with credentials; list origins explicitly")
		}
	}
	c.ApplyDefaults()
	return nil
}

// PluginRegistry is the bootstrap result the server routes to.
type PluginRegistry interface {
	Loaded() []plugin.Record
	Hooks() *hooks.Table
	Router() http.Handler
}

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router chi.Router
	api    huma.API
	cfg    Config

	mu      sync.RWMutex
	plugins PluginRegistry
	table   *hooks.Table
}

// New creates a Server with chi router, huma API, health and version
// endpoints, and CORS.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(securityHeaders)
	r.Use(corsMiddleware(cfg.CORSOrigins))

	humaConfig := huma.DefaultConfig("Plughost", cfg.Version)
	humaConfig.Info.Description = "Plugin extension host API"
	api := humachi.New(r, humaConfig)

	srv := &Server{
		router: r,
		api:    api,
		cfg:    cfg,
		table:  hooks.NewBuilder(ExtensibleOperations()).Build(),
	}
	srv.registerRoutes()

	return srv, nil
}

// RegisterPlugins mounts the registry's router under PluginPrefix and makes
// its hook table available to Dispatch. It may be called once.
func (s *Server) RegisterPlugins(reg PluginRegistry) error {
	if reg == nil {
		return hosterr.New(hosterr.CodeServerConfigInvalid, "plugin registry is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plugins != nil {
		return hosterr.New(hosterr.CodeServerConfigInvalid, "plugins already registered")
	}
	s.plugins = reg
	if t := reg.Hooks(); t != nil {
		s.table = t
	}
	if h := reg.Router(); h != nil {
		s.router.Mount(PluginPrefix, h)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi router so callers can add core operation routes.
func (s *Server) Router() chi.Router {
	return s.router
}

// API returns the huma API for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

func (s *Server) loaded() []plugin.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.plugins == nil {
		return []plugin.Record{}
	}
	return slices.Clone(s.plugins.Loaded())
}

func (s *Server) hookTable() *hooks.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return hosterr.Wrapf(err, hosterr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return hosterr.Wrap(err, hosterr.CodeServerStartFailure, "serving")
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return hosterr.Wrap(err, hosterr.CodeServerShutdownFailure, "shutting down")
	}

	if err := <-errCh; err != nil {
		return hosterr.Wrap(err, hosterr.CodeServerStartFailure, "serving")
	}
	return nil
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "0")
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware allows no cross-origin requests unless origins are listed.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	// go-chi/cors treats an empty origin list as "allow all".
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
