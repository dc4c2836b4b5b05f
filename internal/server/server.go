// Package server exposes the chat service as a JSON API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bitechat/internal/domain"
	"bitechat/internal/filter"
	"bitechat/internal/service"
)

// ChatAPI is the subset of the chat service the API serves.
type ChatAPI interface {
	CreateSession() string
	Session(id string) (service.SessionView, error)
	ToggleFilter(id, name string, enabled bool) ([]string, error)
	Ask(ctx context.Context, id, question string) (string, error)
	Filters() []filter.Group
	SampleQuestions() []service.Sample
}

// Server wraps the echo instance.
type Server struct {
	e           *echo.Echo
	api         ChatAPI
	turnTimeout time.Duration
	logger      *zap.Logger
}

type askRequest struct {
	Message string `json:"message"`
}

type toggleRequest struct {
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

// New registers routes. gatherer backs /metrics.
func New(api ChatAPI, gatherer prometheus.Gatherer, turnTimeout time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{e: echo.New(), api: api, turnTimeout: turnTimeout, logger: logger.Named("http")}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Use(middleware.Recover())
	s.e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			s.logger.Info("request", fields...)
			return nil
		},
	}))

	s.e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	s.e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	g := s.e.Group("/api")
	g.GET("/filters", s.listFilters)
	g.GET("/samples", s.listSamples)
	g.POST("/sessions", s.createSession)
	g.GET("/sessions/:id", s.getSession)
	g.POST("/sessions/:id/messages", s.postMessage)
	g.PUT("/sessions/:id/filters", s.putFilter)
	return s
}

// Handler returns the HTTP handler, for tests and custom listeners.
func (s *Server) Handler() http.Handler { return s.e }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("listening", zap.String("addr", addr))
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func (s *Server) listFilters(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"groups": s.api.Filters()})
}

func (s *Server) listSamples(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"samples": s.api.SampleQuestions()})
}

func (s *Server) createSession(c echo.Context) error {
	return c.JSON(http.StatusCreated, map[string]string{"session_id": s.api.CreateSession()})
}

func (s *Server) getSession(c echo.Context) error {
	view, err := s.api.Session(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if view.Messages == nil {
		view.Messages = []domain.Message{}
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) postMessage(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	ctx := c.Request().Context()
	if s.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.turnTimeout)
		defer cancel()
	}
	answer, err := s.api.Ask(ctx, c.Param("id"), req.Message)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"answer": answer})
}

func (s *Server) putFilter(c echo.Context) error {
	var req toggleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	labels, err := s.api.ToggleFilter(c.Param("id"), req.Label, req.Enabled)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string][]string{"filters": labels})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found").SetInternal(err)
	case errors.Is(err, service.ErrEmptyQuestion):
		return echo.NewHTTPError(http.StatusBadRequest, "message is required").SetInternal(err)
	case errors.Is(err, service.ErrUnknownFilter):
		return echo.NewHTTPError(http.StatusBadRequest, "unknown filter").SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}
