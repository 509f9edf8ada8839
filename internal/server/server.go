// Package server exposes the agent over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ppiankov/claimsagent/internal/apperr"
	"github.com/ppiankov/claimsagent/internal/audit"
	"github.com/ppiankov/claimsagent/internal/infer"
	"github.com/ppiankov/claimsagent/internal/logging"
	"github.com/ppiankov/claimsagent/internal/metrics"
	"github.com/ppiankov/claimsagent/internal/model"
	"github.com/ppiankov/claimsagent/internal/schema"
)

// Extractor returns validated claims.
type Extractor interface {
	Extract(ctx context.Context, claimID string, creds model.Credentials) (model.ClaimRecord, error)
}

// Inference runs the model requests.
type Inference interface {
	ClassifyRisk(ctx context.Context, payload model.PatientPayload) (model.RiskResult, error)
	AnalyzePatientText(ctx context.Context, patientID, text string) (model.SentimentResult, error)
}

// Assessor runs the full claim assessment.
type Assessor interface {
	Assess(ctx context.Context, claimID string, creds model.Credentials) (*model.Assessment, error)
}

// Deps are the components the routes call. Assessor and Metrics are optional.
type Deps struct {
	Extractor Extractor
	Inference Inference
	Assessor  Assessor
	Metrics   *metrics.Metrics
}

// Server provides the agent's HTTP endpoints.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config model.ServerConfig
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// New creates a server.
func New(cfg model.ServerConfig, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}
	if deps.Inference == nil {
		return nil, fmt.Errorf("inference client cannot be nil")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	logger = logging.OrNop(logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/agent/claims-system/:claim_id", s.handleExtract)
	if s.deps.Assessor != nil {
		v1.GET("/agent/claims-system/:claim_id/assessment", s.handleAssess)
	}
	v1.POST("/models/risk-classification", s.handleRisk)
	v1.POST("/models/sentiment-analysis", s.handleSentiment)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleExtract(c echo.Context) error {
	rec, err := s.deps.Extractor.Extract(c.Request().Context(), c.Param("claim_id"), credentials(c.Request()))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleAssess(c echo.Context) error {
	a, err := s.deps.Assessor.Assess(c.Request().Context(), c.Param("claim_id"), credentials(c.Request()))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) handleRisk(c echo.Context) error {
	payload, err := infer.DecodeRiskRequest(c.Request().Body)
	if err != nil {
		return err
	}
	res, err := s.deps.Inference.ClassifyRisk(requestContext(c.Request()), payload)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleSentiment(c echo.Context) error {
	in, err := infer.DecodeSentimentRequest(c.Request().Body)
	if err != nil {
		return err
	}
	res, err := s.deps.Inference.AnalyzePatientText(requestContext(c.Request()), in.PatientID, in.Text)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// handleError renders apperr kinds with their status and details. Anything
// else is reported without its message.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		kind := strings.ToLower(strings.ReplaceAll(http.StatusText(he.Code), " ", "_"))
		_ = c.JSON(he.Code, ErrorResponse{Error: kind, Details: map[string]any{}})
		return
	}

	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("route", c.Path()), zap.Error(err))
	}
	_ = c.JSON(status, ErrorResponse{Error: string(kind), Details: apperr.Details(err)})
}

// credentials reads the bearer token and acting user from r.
func credentials(r *http.Request) model.Credentials {
	creds := model.Credentials{UserID: userID(r)}
	if auth := r.Header.Get(echo.HeaderAuthorization); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			creds.Token = strings.TrimSpace(token)
		}
	}
	return creds
}

func userID(r *http.Request) string {
	id := r.Header.Get("X-User-ID")
	if !schema.IdentifierPattern().MatchString(id) {
		return ""
	}
	return id
}

func requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	if id := userID(r); id != "" {
		ctx = audit.WithUserID(ctx, id)
	}
	return ctx
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.config.Addr))
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
