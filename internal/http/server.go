// Package http serves the outreachd operator API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outreachd/internal/campaign"
	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/experiment"
	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
	"github.com/fyrsmithlabs/outreachd/internal/leads"
	"github.com/fyrsmithlabs/outreachd/internal/logging"
	"github.com/fyrsmithlabs/outreachd/internal/optimizer"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
	"github.com/fyrsmithlabs/outreachd/internal/sequencer"
)

// CampaignService is the campaign manager as seen by the API.
type CampaignService interface {
	Create(ctx context.Context, cfg campaign.Config) (*campaign.Campaign, error)
	Get(ctx context.Context, id string) (*campaign.Campaign, error)
	List(ctx context.Context) ([]*campaign.Campaign, error)
	Pause(ctx context.Context, id, reason string) (*campaign.Campaign, error)
	Resume(ctx context.Context, id, reviewer string) (*campaign.Campaign, error)
	EvaluateGuardrails(ctx context.Context, id string) ([]guardrail.Violation, error)
}

// PolicyService exposes the jurisdiction registry.
type PolicyService interface {
	Lookup(key string) (*policy.Policy, bool)
	List() []*policy.Policy
}

// SequenceService is the sequencer as seen by the API.
type SequenceService interface {
	Start(ctx context.Context, c *campaign.Campaign, lead leads.LeadCard, pack sequencer.Pack) (*sequencer.Sequence, error)
	Get(ctx context.Context, id string) (*sequencer.Sequence, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]*sequencer.Sequence, error)
	HandleReply(ctx context.Context, id string, reply sequencer.Reply) (sequencer.ReplyResult, error)
	Resume(ctx context.Context, id, reviewer string) (*sequencer.Sequence, error)
}

// LeadQualifier filters submitted leads for a campaign.
type LeadQualifier interface {
	Qualify(ctx context.Context, t leads.Target, cards []leads.LeadCard) (leads.Result, error)
}

// ExperimentService is the experiment engine as seen by the API.
type ExperimentService interface {
	Create(ctx context.Context, spec experiment.Spec) (*experiment.Experiment, error)
	Get(ctx context.Context, id string) (*experiment.Experiment, error)
	List(ctx context.Context, campaignID string) ([]*experiment.Experiment, error)
	Evaluate(ctx context.Context, id string) (experiment.Result, error)
	Observe(ctx context.Context, id string, obs experiment.Observation) (optimizer.Reward, error)
	Recommendations(ctx context.Context, campaignID string) ([]experiment.Plan, error)
}

// QTable exposes the optimizer's learned values.
type QTable interface {
	Cells() []optimizer.Cell
}

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// Deps are the services behind the API. Campaigns, Policies and Log are
// required.
type Deps struct {
	Campaigns   CampaignService
	Policies    PolicyService
	Log         compliancelog.Log
	Sequences   SequenceService
	Qualifier   LeadQualifier
	Experiments ExperimentService
	QTable      QTable
	Thresholds  guardrail.Thresholds
	Checks      map[string]HealthCheck
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides the HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  *zap.Logger
	config  *Config
	metrics *apiMetrics
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Campaigns == nil || deps.Policies == nil || deps.Log == nil {
		return nil, errors.New("campaigns, policies and compliance log are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}
	if deps.Thresholds == (guardrail.Thresholds{}) {
		deps.Thresholds = guardrail.DefaultThresholds()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger.Named("http"),
		config:  cfg,
		metrics: newAPIMetrics(otel.Meter(httpInstrumentationName), logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.middleware())
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

// requestLogger logs every request and tags the request context with its
// id so downstream logs correlate.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		reqID := c.Response().Header().Get(echo.HeaderXRequestID)
		req := c.Request()
		c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), reqID)))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info("http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)

	v1.POST("/campaigns", s.handleCreateCampaign)
	v1.GET("/campaigns", s.handleListCampaigns)
	v1.GET("/campaigns/:id", s.handleGetCampaign)
	v1.POST("/campaigns/:id/pause", s.handlePauseCampaign)
	v1.POST("/campaigns/:id/resume", s.handleResumeCampaign)
	v1.GET("/campaigns/:id/metrics", s.handleCampaignMetrics)
	v1.POST("/campaigns/:id/guardrails", s.handleEvaluateGuardrails)
	v1.POST("/campaigns/:id/leads", s.handleSubmitLeads)
	v1.GET("/campaigns/:id/sequences", s.handleListSequences)
	v1.GET("/campaigns/:id/experiments", s.handleListExperiments)
	v1.GET("/campaigns/:id/recommendations", s.handleRecommendations)

	v1.GET("/policies", s.handleListPolicies)
	v1.GET("/policies/:key", s.handleGetPolicy)

	v1.GET("/compliance-log", s.handleQueryLog)

	v1.GET("/sequences/:id", s.handleGetSequence)
	v1.POST("/sequences/:id/replies", s.handleReply)
	v1.POST("/sequences/:id/resume", s.handleResumeSequence)

	v1.POST("/experiments", s.handleCreateExperiment)
	v1.GET("/experiments/:id", s.handleGetExperiment)
	v1.GET("/experiments/:id/evaluate", s.handleEvaluateExperiment)
	v1.POST("/experiments/:id/outcomes", s.handleRecordOutcome)

	v1.GET("/qtable", s.handleQTable)
}

// handleHealth runs every registered check. Any failure reports 503.
func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok"}
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			if resp.Checks == nil {
				resp.Checks = make(map[string]string)
			}
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
		}
	}
	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

// Echo returns the underlying router for extra routes such as /metrics.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.Addr()))
	return s.echo.Start(s.Addr())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
