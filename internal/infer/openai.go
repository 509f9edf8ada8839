package infer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/claimsagent/internal/model"
)

const (
	riskSystemPrompt = `You are a clinical triage assistant. Classify the patient's risk from the JSON payload you are given.
Reply with a single JSON object and nothing else:
{"risk_level": "low|medium|high|critical", "confidence_score": <0..1>, "reasoning": "<one or two sentences>", "risk_factors": ["..."], "recommendations": ["..."]}
Base the classification only on the payload. If it holds little clinical detail, say so in the reasoning and keep confidence below 0.5.`

	sentimentSystemPrompt = `You analyze messages patients send to their care team.
Reply with a single JSON object and nothing else:
{"sentiment": "positive|negative|neutral|concerned|urgent", "confidence_score": <0..1>, "key_themes": ["..."], "urgency_level": "low|medium|high", "summary": "<one sentence>"}
Explicit severe-symptom language (for example severe chest pain or trouble breathing) is urgent with high urgency.`
)

// OpenAIBackend classifies with an OpenAI-compatible chat completions API.
// Requests use a fixed seed and the lowest temperature so repeated calls on
// the same payload agree.
type OpenAIBackend struct {
	client *openai.Client
	config model.ModelConfig
}

// NewOpenAIBackend creates a new OpenAI backend
func NewOpenAIBackend(config model.ModelConfig) (*OpenAIBackend, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeoutOrDefault(config.Timeout)}

	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}

	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns the backend name
func (b *OpenAIBackend) Name() string {
	return "openai:" + b.config.Model
}

func (b *OpenAIBackend) Risk(ctx context.Context, req RiskRequest) (model.RiskResult, error) {
	const op = "risk classification"

	payload, err := json.Marshal(req.Patient)
	if err != nil {
		return model.RiskResult{}, fmt.Errorf("marshal payload: %w", err)
	}

	content, err := b.complete(ctx, op, riskSystemPrompt, string(payload))
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
	res.Model = b.config.Model
	return res, nil
}

func (b *OpenAIBackend) Sentiment(ctx context.Context, req SentimentRequest) (model.SentimentResult, error) {
	const op = "sentiment analysis"

	content, err := b.complete(ctx, op, sentimentSystemPrompt, req.Text)
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
	res.Model = b.config.Model
	return res, nil
}

func (b *OpenAIBackend) complete(ctx context.Context, op, system, user string) (string, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeoutOrDefault(b.config.Timeout))
	defer cancel()

	seed := b.config.Seed
	chatReq := openai.ChatCompletionRequest{
		Model: b.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens: 500,
		// a literal 0 is dropped by omitempty and the API default applies
		Temperature: math.SmallestNonzeroFloat32,
		Seed:        &seed,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := b.client.CreateChatCompletion(ctxWithTimeout, chatReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", openAIFailure(op, err)
	}

	if len(resp.Choices) == 0 {
		return "", invalidResponse(op, "no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// openAIFailure maps client errors. API error bodies are not echoed since
// they may quote the request.
func openAIFailure(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return upstreamFailure(op, apiErr.HTTPStatusCode, err, fmt.Sprintf("model API returned %d", apiErr.HTTPStatusCode))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return upstreamFailure(op, reqErr.HTTPStatusCode, err, fmt.Sprintf("model API returned %d", reqErr.HTTPStatusCode))
	}
	return upstreamFailure(op, 0, err, "")
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
