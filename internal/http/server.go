// Package http serves the org chart API and the front-end assets.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orgchart/internal/logging"
	"github.com/fyrsmithlabs/orgchart/internal/orgchart"
	"github.com/fyrsmithlabs/orgchart/internal/refresh"
	"github.com/fyrsmithlabs/orgchart/internal/settings"
	"github.com/fyrsmithlabs/orgchart/internal/snapshot"
)

// SnapshotReader exposes the published tree.
type SnapshotReader interface {
	Current() (*snapshot.Snapshot, bool)
}

// Refresher is the part of refresh.Scheduler the API drives.
type Refresher interface {
	Enabled() bool
	Trigger() bool
	TriggerAndWait(ctx context.Context) (refresh.Result, error)
	IsRunning() bool
	LastResult() (refresh.Result, bool)
	NextRun() (time.Time, bool)
	Inspect(ctx context.Context) (*refresh.Inspection, error)
}

// SettingsStore reads and writes user settings.
type SettingsStore interface {
	Get() settings.Settings
	Update(next settings.Settings) (settings.Settings, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	// WebDir holds index.html and the static/ directory.
	WebDir      string
	Debug       bool
	CORSOrigins []string
	SearchLimit int
	ServiceName string
}

// Server serves the org chart over HTTP.
type Server struct {
	echo      *echo.Echo
	snapshots SnapshotReader
	refresher Refresher
	settings  SettingsStore
	logger    *logging.Logger
	config    *Config
	now       func() time.Time
}

// NewServer creates the server and registers every route.
func NewServer(snapshots SnapshotReader, refresher Refresher, store SettingsStore, logger *logging.Logger, cfg *Config) (*Server, error) {
	if snapshots == nil {
		return nil, fmt.Errorf("snapshot reader cannot be nil")
	}
	if refresher == nil {
		return nil, fmt.Errorf("refresher cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("settings store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "0.0.0.0", Port: 5000}
	}
	if cfg.SearchLimit <= 0 || cfg.SearchLimit > orgchart.DefaultSearchLimit {
		cfg.SearchLimit = orgchart.DefaultSearchLimit
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "orgchartd"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler(e)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := logging.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	e.Use(requestLogger(logger))
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		}))
	}
	e.Use(NewHTTPMetrics(logger.Underlying()).MetricsMiddleware())

	s := &Server{
		echo:      e,
		snapshots: snapshots,
		refresher: refresher,
		settings:  store,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
	s.registerRoutes()
	return s, nil
}

func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
			}
			ctx := c.Request().Context()
			switch {
			case status >= 500:
				logger.Error(ctx, "http request", fields...)
			case c.Path() == "/health" || c.Path() == "/metrics":
				logger.Debug(ctx, "http request", fields...)
			default:
				logger.Info(ctx, "http request", fields...)
			}
			return nil
		}
	}
}

// jsonErrorHandler renders every error as {"error": "..."}.
func jsonErrorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, ErrorResponse{Error: msg})
		}
		if err != nil {
			e.Logger.Error(err)
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.GET("/employees", s.handleEmployees)
	api.GET("/search", s.handleSearch)
	api.GET("/employee/:id", s.handleEmployee)
	api.POST("/update-now", s.handleUpdateNow)
	api.POST("/force-update", s.handleForceUpdate)
	api.GET("/status", s.handleStatus)
	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings", s.handlePutSettings)
	if s.config.Debug {
		api.GET("/debug", s.handleDebug)
	}

	if s.config.WebDir != "" {
		s.echo.Static("/static", filepath.Join(s.config.WebDir, "static"))
		s.echo.File("/", filepath.Join(s.config.WebDir, "index.html"))
	}
}

func (s *Server) recency() orgchart.RecencyPolicy {
	return orgchart.RecencyPolicy{Months: s.settings.Get().NewEmployeeMonths}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: s.config.ServiceName})
}

// handleEmployees serves the whole tree. Before the first snapshot it builds
// one synchronously, and serves a placeholder if that fails too.
func (s *Server) handleEmployees(c echo.Context) error {
	ctx := c.Request().Context()
	snap, ok := s.snapshots.Current()
	if !ok && s.refresher.Enabled() {
		if _, err := s.refresher.TriggerAndWait(ctx); err != nil {
			s.logger.Warn(ctx, "initial build failed", zap.Error(err))
		}
		snap, ok = s.snapshots.Current()
	}
	if !ok {
		s.logger.Warn(ctx, "no hierarchical data available")
		return c.JSON(http.StatusOK, orgchart.Placeholder())
	}
	return c.JSON(http.StatusOK, orgchart.WithRecency(snap.Root, s.recency(), s.now()))
}

// handleSearch returns matching employees without their reports.
func (s *Server) handleSearch(c echo.Context) error {
	results := []orgchart.Employee{}
	snap, ok := s.snapshots.Current()
	if !ok {
		return c.JSON(http.StatusOK, results)
	}
	policy, now := s.recency(), s.now()
	for _, n := range orgchart.Search(snap.Root, c.QueryParam("q"), s.config.SearchLimit) {
		e := n.Summary()
		e.IsNew = policy.IsNew(e.HireDate, now)
		results = append(results, e)
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) handleEmployee(c echo.Context) error {
	snap, ok := s.snapshots.Current()
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "Employee not found"})
	}
	n, found := orgchart.Find(snap.Root, c.Param("id"))
	if !found {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "Employee not found"})
	}
	return c.JSON(http.StatusOK, orgchart.WithRecency(n, s.recency(), s.now()))
}

func (s *Server) handleUpdateNow(c echo.Context) error {
	if !s.refresher.Enabled() {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: refresh.ErrDisabled.Error()})
	}
	if !s.refresher.Trigger() {
		return c.JSON(http.StatusOK, UpdateResponse{Status: "Update already in progress"})
	}
	return c.JSON(http.StatusOK, UpdateResponse{Status: "Update started"})
}

func (s *Server) handleForceUpdate(c echo.Context) error {
	ctx := c.Request().Context()
	res, err := s.refresher.TriggerAndWait(ctx)
	switch {
	case errors.Is(err, refresh.ErrDisabled):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	case err != nil:
		s.logger.Error(ctx, "forced update failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	if res.Skipped {
		return c.JSON(http.StatusOK, UpdateResponse{Status: "No employees fetched, previous data kept", RunID: res.RunID})
	}
	n := res.Employees
	return c.JSON(http.StatusOK, UpdateResponse{Status: "Update completed", Employees: &n, RunID: res.RunID})
}

func (s *Server) handleStatus(c echo.Context) error {
	now := s.now()
	resp := StatusResponse{
		Refreshing:        s.refresher.IsRunning(),
		Offline:           !s.refresher.Enabled(),
		ServerTime:        now,
		NewEmployeeMonths: s.settings.Get().NewEmployeeMonths,
	}
	if snap, ok := s.snapshots.Current(); ok {
		built := snap.BuiltAt
		resp.HasData = true
		resp.Employees = snap.Employees
		resp.BuiltAt = &built
		resp.AgeSeconds = int64(snap.Age(now).Seconds())
	}
	if next, ok := s.refresher.NextRun(); ok {
		resp.NextRefresh = &next
	}
	if last, ok := s.refresher.LastResult(); ok {
		resp.LastRefresh = &last
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetSettings(c echo.Context) error {
	return c.JSON(http.StatusOK, s.settings.Get())
}

// handlePutSettings applies the fields present in the body over the current
// settings.
func (s *Server) handlePutSettings(c echo.Context) error {
	next := s.settings.Get()
	if err := c.Bind(&next); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	saved, err := s.settings.Update(next)
	if errors.Is(err, settings.ErrInvalid) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to save settings", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to save settings"})
	}
	return c.JSON(http.StatusOK, saved)
}

func (s *Server) handleDebug(c echo.Context) error {
	in, err := s.refresher.Inspect(c.Request().Context())
	switch {
	case errors.Is(err, refresh.ErrDisabled):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, in)
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start serves until ctx is canceled, then shuts down gracefully within
// the configured timeout. It returns http.ErrServerClosed after a clean
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "starting http server", zap.String("addr", s.Addr()))
		if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		s.logger.Info(shutdownCtx, "shutting down http server")
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}
