// Package server exposes the explorer over HTTP for the web front end.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/config"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/store"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/trace"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/pkg/explorer"
)

// Archive is the part of the trace store the server uses. *store.Store implements it.
type Archive interface {
	SaveTrace(ctx context.Context, t *trace.Trace) error
	GetTrace(ctx context.Context, id string) (*store.ArchivedTrace, error)
	ListTraces(ctx context.Context, limit int) ([]store.Summary, error)
}

// Server hosts the HTTP API.
type Server struct {
	cfg      config.ServerConfig
	explorer *explorer.Explorer
	archive  Archive
	logger   *zap.Logger
	handler  http.Handler
}

// New builds the router. archive may be nil, in which case traces are not archived and the
// archive routes are absent.
func New(cfg config.ServerConfig, exp *explorer.Explorer, archive Archive, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		explorer: exp,
		archive:  archive,
		logger:   logger.Named("server"),
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if cfg.Compression {
		r.Use(brotliCompress)
	}
	r.Use(rateLimit(limiter))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	s.registerRoutes(r)

	s.handler = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		ErrorLog:     zap.NewStdLog(s.logger),
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting.", zap.String("address", ln.Addr().String()))
		serveErr <- httpServer.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server gracefully.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}
