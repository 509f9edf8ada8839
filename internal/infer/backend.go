// Package infer calls risk-classification and sentiment-analysis models
// behind a local request validator, a result cache and the shared retry
// policy.
package infer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ppiankov/claimsagent/internal/apperr"
	"github.com/ppiankov/claimsagent/internal/model"
)

// RiskRequest is a validated risk-classification request.
type RiskRequest struct {
	Patient model.PatientPayload
}

// SentimentRequest is a validated sentiment-analysis request. Text is
// already normalized to visible plain text.
type SentimentRequest struct {
	PatientID string
	Text      string
}

// ModelBackend is a model service. Implementations return apperr
// UpstreamTimeout for failures worth retrying and UpstreamError otherwise.
type ModelBackend interface {
	// Name identifies the backend in metrics, logs and cache keys
	Name() string

	Risk(ctx context.Context, req RiskRequest) (model.RiskResult, error)

	Sentiment(ctx context.Context, req SentimentRequest) (model.SentimentResult, error)
}

// NewBackend creates the backend selected by cfg.Backend.
func NewBackend(cfg model.ModelConfig) (ModelBackend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "heuristic", "local":
		return NewHeuristicBackend(), nil

	case "openai":
		return NewOpenAIBackend(cfg)

	case "ollama":
		return NewOllamaBackend(cfg)

	case "http", "remote":
		return NewHTTPBackend(cfg)

	default:
		return nil, fmt.Errorf("unknown model backend: %s (supported: heuristic, openai, ollama, http)", cfg.Backend)
	}
}

// upstreamFailure maps a transport error or HTTP status from a model service
// onto the apperr taxonomy. status is 0 when no response arrived.
func upstreamFailure(op string, status int, err error, message string) error {
	if status == 0 {
		if err == nil {
			return &apperr.UpstreamError{Operation: op, Message: message}
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		// no response at all: connection refused, reset, deadline
		return &apperr.UpstreamTimeout{Operation: op, Cause: err}
	}
	if transientStatus(status) {
		return &apperr.UpstreamTimeout{Operation: op, Cause: fmt.Errorf("model service returned %d", status)}
	}
	return &apperr.UpstreamError{Operation: op, StatusCode: status, Message: message}
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
