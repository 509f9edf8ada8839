package infer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/claimsagent/internal/model"
)

// OllamaBackend classifies with a local Ollama server through /api/generate
// in JSON mode.
type OllamaBackend struct {
	baseURL    string
	httpClient *http.Client
	config     model.ModelConfig
}

// Ollama API structures
type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Format  string        `json:"format"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	Seed        int     `json:"seed"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaBackend creates a new Ollama backend
func NewOllamaBackend(config model.ModelConfig) (*OllamaBackend, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("ollama base url must be http or https, got %q", baseURL)
	}
	if config.Model == "" {
		return nil, fmt.Errorf("ollama model must be specified (e.g., llama3.1:8b, mistral)")
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second // local models can be slow to load
	}

	return &OllamaBackend{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		config:     config,
	}, nil
}

// Name returns the backend name
func (b *OllamaBackend) Name() string {
	return "ollama:" + b.config.Model
}

func (b *OllamaBackend) Risk(ctx context.Context, req RiskRequest) (model.RiskResult, error) {
	const op = "risk classification"

	payload, err := json.Marshal(req.Patient)
	if err != nil {
		return model.RiskResult{}, fmt.Errorf("marshal payload: %w", err)
	}

	content, err := b.generate(ctx, op, riskSystemPrompt, string(payload))
	if err != nil {
		return model.RiskResult{}, err
	}

	var w riskWire
	if err := json.Unmarshal([]byte(content), &w); err != nil {
		return model.RiskResult{}, invalidResponse(op, "model reply is not JSON")
	}
	res, err := w.result(op)
	if err != nil {
		return model.RiskResult{}, err
	}
	res.PatientID = req.Patient.PatientID
	res.Model = b.Name()
	return res, nil
}

func (b *OllamaBackend) Sentiment(ctx context.Context, req SentimentRequest) (model.SentimentResult, error) {
	const op = "sentiment analysis"

	content, err := b.generate(ctx, op, sentimentSystemPrompt, req.Text)
	if err != nil {
		return model.SentimentResult{}, err
	}

	var w sentimentWire
	if err := json.Unmarshal([]byte(content), &w); err != nil {
		return model.SentimentResult{}, invalidResponse(op, "model reply is not JSON")
	}
	res, err := w.result(op)
	if err != nil {
		return model.SentimentResult{}, err
	}
	res.Model = b.Name()
	return res, nil
}

// generate makes one non-streaming call and returns the reply text.
func (b *OllamaBackend) generate(ctx context.Context, op, system, prompt string) (string, error) {
	body, err := json.Marshal(ollamaRequest{
		Model:  b.config.Model,
		Prompt: prompt,
		System: system,
		Format: "json",
		Options: ollamaOptions{
			Temperature: 0,
			Seed:        b.config.Seed,
			NumPredict:  500,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := b.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", upstreamFailure(op, 0, err, "")
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return "", upstreamFailure(op, 0, err, "")
	}

	// error bodies can quote the prompt, so only the status is kept
	if httpResp.StatusCode != http.StatusOK {
		return "", upstreamFailure(op, httpResp.StatusCode, nil, fmt.Sprintf("ollama returned %d", httpResp.StatusCode))
	}

	var resp ollamaResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", invalidResponse(op, "body is not a JSON object")
	}
	if !resp.Done {
		return "", invalidResponse(op, "generation did not complete")
	}
	return strings.TrimSpace(resp.Response), nil
}
