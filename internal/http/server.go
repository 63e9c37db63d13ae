// Package http exposes the pipeline over a JSON API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/config"
	"github.com/fyrsmithlabs/forged/internal/engine"
	"github.com/fyrsmithlabs/forged/internal/knowledge"
	"github.com/fyrsmithlabs/forged/internal/patterns"
	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

// Runner executes one pipeline request. Satisfied by *engine.Engine.
type Runner interface {
	Run(ctx context.Context, req *pipeline.Request) *engine.Result
}

// Classifier infers a workflow type when a request omits one. Satisfied
// by *classify.TableClassifier.
type Classifier interface {
	Classify(query string) (pipeline.WorkflowType, float64)
}

// Server wires the engine, pattern store, and knowledge base to echo.
type Server struct {
	echo       *echo.Echo
	runner     Runner
	store      patterns.Store
	know       knowledge.Provider
	classifier Classifier
	registry   *runRegistry
	logger     *zap.Logger
	cfg        config.HTTPConfig
}

// NewServer builds the API server. The runner and logger are required;
// the pattern store, knowledge provider, and classifier are optional and
// their endpoints return 503 when absent.
func NewServer(runner Runner, store patterns.Store, know knowledge.Provider, classifier Classifier, logger *zap.Logger, cfg config.HTTPConfig) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.RecentRuns <= 0 {
		cfg.RecentRuns = 100
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(NewHTTPMetrics(logger).Middleware())

	s := &Server{
		echo:       e,
		runner:     runner,
		store:      store,
		know:       know,
		classifier: classifier,
		registry:   newRunRegistry(cfg.RecentRuns),
		logger:     logger,
		cfg:        cfg,
	}
	s.registerRoutes()
	return s, nil
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/runs", s.handleCreateRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.GET("/patterns", s.handlePatterns)
	v1.GET("/stats", s.handleStats)
}

// Echo exposes the underlying router so callers can mount extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleCreateRun(c echo.Context) error {
	var body RunRequest
	if err := c.Bind(&body); err != nil {
		s.logger.Warn("invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	if body.Domain == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "domain field is required")
	}

	workflow := pipeline.WorkflowType(body.Workflow)
	if body.Workflow == "" {
		if s.classifier == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "workflow field is required")
		}
		workflow, _ = s.classifier.Classify(body.Query)
	}

	req, err := pipeline.NewRequest(body.Query, workflow, body.Domain, body.Attachments...)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res := s.runner.Run(c.Request().Context(), req)
	s.registry.add(req, res)

	return c.JSON(http.StatusOK, resultDTO(req, res))
}

func (s *Server) handleGetRun(c echo.Context) error {
	entry, ok := s.registry.get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, resultDTO(entry.req, entry.res))
}

func (s *Server) handleListRuns(c echo.Context) error {
	entries := s.registry.list()
	out := make([]RunResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, resultDTO(e.req, e.res))
	}
	return c.JSON(http.StatusOK, RunListResponse{Runs: out})
}

func (s *Server) handlePatterns(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "pattern store not configured")
	}

	q := patterns.LookupQuery{
		Text:     c.QueryParam("q"),
		Workflow: pipeline.WorkflowType(c.QueryParam("workflow")),
		Domain:   c.QueryParam("domain"),
	}
	if q.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter is required")
	}
	if q.Workflow != "" && !q.Workflow.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown workflow %q", q.Workflow))
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		q.Limit = limit
	}

	matches, err := s.store.Lookup(c.Request().Context(), q)
	if err != nil {
		s.logger.Error("pattern lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "pattern lookup failed")
	}

	out := PatternListResponse{Patterns: make([]PatternMatch, 0, len(matches))}
	for _, m := range matches {
		out.Patterns = append(out.Patterns, PatternMatch{
			Signature:     m.Pattern.Signature,
			Strategy:      m.Pattern.Strategy,
			Effectiveness: m.Pattern.Effectiveness,
			Workflow:      string(m.Pattern.Workflow),
			Domain:        m.Pattern.Domain,
			Similarity:    m.Similarity,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleStats(c echo.Context) error {
	stats := s.registry.stats()

	if s.know != nil {
		domains, err := s.know.Domains(c.Request().Context())
		if err == nil {
			stats.Domains = domains
		}
	}
	return c.JSON(http.StatusOK, stats)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
