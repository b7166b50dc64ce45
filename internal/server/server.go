// Package server exposes the on-demand certificate actions over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/systmms/kvrotate/internal/config"
	"github.com/systmms/kvrotate/internal/logging"
	"github.com/systmms/kvrotate/pkg/rotation"
)

const shutdownTimeout = 10 * time.Second

// RequestHandler executes one on-demand request.
type RequestHandler interface {
	Handle(ctx context.Context, req rotation.Request) (rotation.Response, error)
}

// Server is the HTTP surface: the certificates endpoint, a health check and
// Prometheus metrics.
type Server struct {
	echo             *echo.Echo
	cfg              config.ServerConfig
	handler          RequestHandler
	vault            string
	defaultThreshold int
	logger           *logging.Logger
	now              func() time.Time
}

// Option is a functional option for configuring a Server
type Option func(*Server)

// WithClock overrides the clock used for envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New builds the server and registers its routes.
func New(cfg config.ServerConfig, handler RequestHandler, vaultName string, defaultThreshold int, logger *logging.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:              cfg,
		handler:          handler,
		vault:            vaultName,
		defaultThreshold: defaultThreshold,
		logger:           logger.Named("http"),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newValidator()
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.logRequests())

	e.GET(cfg.Path, s.handleCertificates)
	e.POST(cfg.Path, s.handleCertificates)
	e.GET("/healthz", s.handleHealth)
	if cfg.MetricsPath != "" {
		e.GET(cfg.MetricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	s.echo = e
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on cfg.Listen until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Shutdown did not complete cleanly: %v", err)
		}
	}()

	s.logger.Info("Listening on %s, certificates at %s", s.cfg.Listen, s.cfg.Path)
	if err := s.echo.Start(s.cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// logRequests logs every request; server errors are logged as warnings.
func (s *Server) logRequests() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			elapsed := time.Since(start).Round(time.Millisecond)
			if status >= http.StatusInternalServerError {
				s.logger.Warn("%s %s %d %s", req.Method, req.URL.Path, status, elapsed)
			} else {
				s.logger.Debug("%s %s %d %s", req.Method, req.URL.Path, status, elapsed)
			}
			return nil
		}
	}
}
