// Package server exposes the HTTP API: structured generation, run history,
// schedules, and operational introspection. Handlers stay thin; pipeline
// work happens behind the Runner seam so tests can substitute it.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tagweave/tagweave/config"
	"github.com/tagweave/tagweave/internal/agent"
	"github.com/tagweave/tagweave/internal/codec"
	"github.com/tagweave/tagweave/internal/shape"
	"github.com/tagweave/tagweave/internal/store"
	"github.com/tagweave/tagweave/internal/telemetry"
)

// Runner executes one structured-generation run. *agent.Orchestrator
// satisfies it.
type Runner interface {
	Run(ctx context.Context, input *codec.Map, opts ...agent.RunOption) (agent.Result, error)
}

type Server struct {
	cfg    config.ServerConfig
	echo   *echo.Echo
	logger *log.Logger

	runner Runner
	store  *store.Store
	output *shape.Shape
	tel    *telemetry.Telemetry
	sched  *Scheduler
}

type Options struct {
	Config    config.ServerConfig
	Runner    Runner
	Store     *store.Store
	Output    *shape.Shape
	Telemetry *telemetry.Telemetry
	Scheduler *Scheduler
	Logger    *log.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("server: runner is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if opts.Output == nil {
		return nil, fmt.Errorf("server: output shape is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[SERVER] ", log.LstdFlags)
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.New(config.TelemetryConfig{})
	}
	s := &Server{
		cfg:    opts.Config.Normalize(),
		logger: logger,
		runner: opts.Runner,
		store:  opts.Store,
		output: opts.Output,
		tel:    tel,
		sched:  opts.Scheduler,
	}
	s.echo = s.buildEcho()
	return s, nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	registerDocs(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/api/auth/token", s.issueToken)

	api := e.Group("/api")
	if s.cfg.JWTSecret != "" {
		api.Use(authMiddleware([]byte(s.cfg.JWTSecret)))
	} else {
		s.logger.Printf("warn: jwt secret not configured, api auth disabled")
	}

	api.POST("/generate", s.generate)
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)
	api.GET("/runs/:id/calls", s.listRunCalls)
	api.GET("/stats", s.runStats)
	api.GET("/shape", s.describeShape)
	api.GET("/telemetry", s.telemetrySnapshot)
	api.GET("/dashboard", s.dashboard)

	api.POST("/schedules", s.createSchedule)
	api.GET("/schedules", s.listSchedules)
	api.GET("/schedules/:id", s.getSchedule)
	api.PUT("/schedules/:id", s.updateSchedule)
	api.DELETE("/schedules/:id", s.deleteSchedule)

	return e
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	if s.sched != nil {
		s.sched.Start()
	}
	s.logger.Printf("listening on %s", s.cfg.Address)
	return s.echo.Start(s.cfg.Address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.sched != nil {
		s.sched.Stop()
	}
	return s.echo.Shutdown(ctx)
}
