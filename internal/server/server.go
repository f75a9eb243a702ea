package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/autoposter/internal/logging"
	"github.com/mohammad-safakhou/autoposter/internal/store"
	"github.com/mohammad-safakhou/autoposter/internal/telemetry"
	"github.com/mohammad-safakhou/autoposter/internal/workflow"
)

// Controller starts runs and reports whether one is active.
type Controller interface {
	TryStart(trigger, topic string) (string, error)
	Running() bool
}

// Queries are the read-only lookups behind /api.
type Queries interface {
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
	GetRun(ctx context.Context, id string) (store.Run, error)
	RecentPosts(ctx context.Context, limit int) ([]workflow.PublishedPost, error)
	ModelCallTotals(ctx context.Context, since time.Time) ([]store.ModelCallTotals, error)
}

// HTTPError is the error envelope returned by every endpoint.
type HTTPError struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status          string `json:"status"`
	WorkflowRunning bool   `json:"workflow_running"`
}

type StartRequest struct {
	Topic string `json:"topic"`
}

type StartResponse struct {
	RunID string `json:"run_id"`
}

type CostsResponse struct {
	Since   time.Time               `json:"since"`
	Process telemetry.CostSnapshot  `json:"process"`
	Models  []store.ModelCallTotals `json:"models"`
}

type Options struct {
	Controller Controller
	// Queries may be nil, in which case /api is not mounted.
	Queries    Queries
	Telemetry  *telemetry.Telemetry
	Gatherer   prometheus.Gatherer
	JWTSecret  []byte
	Logger     logging.Logger
}

type Server struct {
	echo   *echo.Echo
	ctl    Controller
	q      Queries
	tele   *telemetry.Telemetry
	logger logging.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		entry := logger.WithFields(logging.Fields{"status": code, "method": req.Method, "path": req.URL.Path, "remote": c.RealIP()})
		if code >= http.StatusInternalServerError {
			entry.WithError(err).Error("request failed")
		} else {
			entry.Debug(msg)
		}
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}

	s := &Server{echo: e, ctl: opts.Controller, q: opts.Queries, tele: opts.Telemetry, logger: logger}

	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	var guard []echo.MiddlewareFunc
	if len(opts.JWTSecret) > 0 {
		guard = append(guard, AuthMiddleware(opts.JWTSecret))
	}
	e.POST("/start", s.start, guard...)

	if s.q != nil {
		api := e.Group("/api", guard...)
		api.GET("/runs", s.listRuns)
		api.GET("/runs/:id", s.getRun)
		api.GET("/posts", s.recentPosts)
		api.GET("/costs", s.costs)
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.echo }

// Start blocks serving on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.WithField("address", addr).Info("http server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", WorkflowRunning: s.ctl != nil && s.ctl.Running()})
}

// start launches a manual run. An empty body uses the configured topic.
func (s *Server) start(c echo.Context) error {
	var req StartRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	if s.ctl == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "workflow runner not configured")
	}
	id, err := s.ctl.TryStart(workflow.TriggerManual, req.Topic)
	if errors.Is(err, ErrBusy) {
		return echo.NewHTTPError(http.StatusConflict, "Workflow already running")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, StartResponse{RunID: id})
}

func (s *Server) listRuns(c echo.Context) error {
	runs, err := s.q.ListRuns(c.Request().Context(), queryInt(c, "limit", 20))
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []store.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c echo.Context) error {
	run, err := s.q.GetRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) recentPosts(c echo.Context) error {
	posts, err := s.q.RecentPosts(c.Request().Context(), queryInt(c, "limit", 10))
	if err != nil {
		return err
	}
	if posts == nil {
		posts = []workflow.PublishedPost{}
	}
	return c.JSON(http.StatusOK, posts)
}

// costs reports in-process spend plus persisted per-model totals over a
// window given as a Go duration (default 24h).
func (s *Server) costs(c echo.Context) error {
	window := 24 * time.Hour
	if raw := c.QueryParam("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid window")
		}
		window = d
	}
	since := time.Now().UTC().Add(-window)
	totals, err := s.q.ModelCallTotals(c.Request().Context(), since)
	if err != nil {
		return err
	}
	if totals == nil {
		totals = []store.ModelCallTotals{}
	}
	return c.JSON(http.StatusOK, CostsResponse{Since: since, Process: s.tele.Costs(), Models: totals})
}

func queryInt(c echo.Context, name string, def int) int {
	n, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
