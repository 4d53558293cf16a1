// File: internal/api/server.go
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/cfgate/internal/config"
)

// Server hosts the HTTP API.
type Server struct {
	cfg        config.ServerConfig
	logger     *zap.Logger
	handlers   *Handlers
	limiter    *rate.Limiter
	httpServer *http.Server
}

// NewServer builds the router around backend. Nothing listens until Serve is called.
func NewServer(cfg config.ServerConfig, logger *zap.Logger, backend Backend) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("api"),
		handlers: NewHandlers(logger, backend, cfg.MaxBodyBytes),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the complete handler chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}
	r.Use(corsMiddleware)

	s.handlers.RegisterRoutes(r, s.limiter)
	return r
}

// Serve accepts connections on ln until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("API server listening.", zap.String("address", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("API server shutting down.")
	return s.httpServer.Shutdown(ctx)
}
