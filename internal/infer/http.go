package infer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ppiankov/claimsagent/internal/model"
)

const maxResponseBytes = 1 << 20

// HTTPBackend calls a remote model service exposing
// POST /api/v1/models/risk-classification and
// POST /api/v1/models/sentiment-analysis.
type HTTPBackend struct {
	base       *url.URL
	apiKey     string
	httpClient *http.Client
}

// NewHTTPBackend creates a backend for the model service at cfg.BaseURL.
func NewHTTPBackend(cfg model.ModelConfig) (*HTTPBackend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("model.base_url is required for the http backend")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse model base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("model base url must be http or https, got %q", cfg.BaseURL)
	}
	return &HTTPBackend{
		base:       base,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
	}, nil
}

// Name returns the backend name
func (b *HTTPBackend) Name() string {
	return "http:" + b.base.Host
}

func (b *HTTPBackend) Risk(ctx context.Context, req RiskRequest) (model.RiskResult, error) {
	const op = "risk classification"

	var w riskWire
	body := map[string]any{"patient": req.Patient}
	if err := b.post(ctx, op, "risk-classification", body, &w); err != nil {
		return model.RiskResult{}, err
	}
	res, err := w.result(op)
	if err != nil {
		return model.RiskResult{}, err
	}
	if res.PatientID == "" {
		res.PatientID = req.Patient.PatientID
	}
	res.Model = b.Name()
	return res, nil
}

func (b *HTTPBackend) Sentiment(ctx context.Context, req SentimentRequest) (model.SentimentResult, error) {
	const op = "sentiment analysis"

	var w sentimentWire
	body := map[string]any{"patient_text": req.Text}
	if req.PatientID != "" {
		body["patient_id"] = req.PatientID
	}
	if err := b.post(ctx, op, "sentiment-analysis", body, &w); err != nil {
		return model.SentimentResult{}, err
	}
	res, err := w.result(op)
	if err != nil {
		return model.SentimentResult{}, err
	}
	res.Model = b.Name()
	return res, nil
}

func (b *HTTPBackend) post(ctx context.Context, op, endpoint string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	target := b.base.JoinPath("api", "v1", "models", endpoint).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return upstreamFailure(op, 0, err, "")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return upstreamFailure(op, resp.StatusCode, nil, fmt.Sprintf("model service returned %d", resp.StatusCode))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return upstreamFailure(op, 0, err, "")
		}
		return invalidResponse(op, "body is not a JSON object")
	}
	return nil
}
