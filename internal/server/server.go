// Package server exposes the catalog and the classification service over
// HTTP with echo.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abhisek/tierkit/internal/config"
	"github.com/abhisek/tierkit/internal/logging"
	"github.com/abhisek/tierkit/internal/service"
)

// ResponseError is the body of every non-2xx response.
type ResponseError struct {
	Message string `json:"message"`
}

// Server is the tierkit HTTP API.
type Server struct {
	e   *echo.Echo
	cfg config.HTTPConfig
	log *slog.Logger
}

// New builds the router. gatherer backs /metrics; nil uses the default
// Prometheus registry.
func New(svc *service.Service, cfg config.HTTPConfig, batch config.BatchConfig, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	log := logging.New("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomiddleware.Recover())
	e.Use(requestLogger(log))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	h := &handler{
		svc:        svc,
		validator:  validator.New(),
		timeout:    30 * time.Second,
		maxRecords: cfg.MaxRecords,
		mode:       batch.Mode,
		parallel:   batch.Parallel,
		log:        log,
	}

	api := e.Group("/api/v1")
	if cfg.JWTSecret != "" {
		api.Use(BearerAuth([]byte(cfg.JWTSecret)))
	}
	api.GET("/domains", h.listDomains)
	api.GET("/domains/:name", h.getDomain)
	api.POST("/domains/:name/classify", h.classify)
	api.GET("/runs", h.listRuns)
	api.GET("/runs/:id", h.getRun)

	return &Server{e: e, cfg: cfg, log: log}
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.e }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", "address", s.cfg.Addr)
		if err := s.e.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Warn("request failed", append(attrs, slog.String("error", v.Error.Error()))...)
				return nil
			}
			log.Debug("request", attrs...)
			return nil
		},
	})
}
