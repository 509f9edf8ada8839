package infer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/claimsagent/internal/apperr"
	"github.com/ppiankov/claimsagent/internal/model"
)

func chatReply(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:      "chatcmpl-123",
		Object:  "chat.completion",
		Created: 1677652288,
		Model:   "gpt-4o-mini",
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: "stop",
			},
		},
	}
}

func newOpenAITestBackend(t *testing.T, url string) *OpenAIBackend {
	t.Helper()
	backend, err := NewOpenAIBackend(model.ModelConfig{
		APIKey:  "test-key",
		BaseURL: url,
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
		Seed:    42,
	})
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	return backend
}

func TestOpenAIBackend_Risk_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header Bearer test-key, got %s", r.Header.Get("Authorization"))
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Failed to decode request: %v", err)
			return
		}
		if body["seed"] != float64(42) {
			t.Errorf("Expected seed 42, got %v", body["seed"])
		}
		format, _ := body["response_format"].(map[string]any)
		if format["type"] != "json_object" {
			t.Errorf("Expected json_object response format, got %v", body["response_format"])
		}

		_ = json.NewEncoder(w).Encode(chatReply(`{"risk_level":"High","confidence_score":0.82,"reasoning":"Chest pain with hypertension.","risk_factors":["chest_pain","hypertension"]}`))
	}))
	defer server.Close()

	backend := newOpenAITestBackend(t, server.URL)

	res, err := backend.Risk(context.Background(), RiskRequest{Patient: samplePayload()})
	if err != nil {
		t.Fatalf("Risk failed: %v", err)
	}
	if res.RiskLevel != model.RiskHigh {
		t.Errorf("Expected high, got %s", res.RiskLevel)
	}
	if res.ConfidenceScore != 0.82 {
		t.Errorf("Expected confidence 0.82, got %.2f", res.ConfidenceScore)
	}
	if res.PatientID != "PAT001" {
		t.Errorf("Expected patient id PAT001, got %s", res.PatientID)
	}
	if res.Model != "gpt-4o-mini" {
		t.Errorf("Expected model gpt-4o-mini, got %s", res.Model)
	}
}

func TestOpenAIBackend_Sentiment_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatReply(`{"sentiment":"concerned","confidence_score":0.7,"key_themes":["anxiety"],"urgency_level":"medium","summary":"Patient is worried."}`))
	}))
	defer server.Close()

	backend := newOpenAITestBackend(t, server.URL)

	res, err := backend.Sentiment(context.Background(), SentimentRequest{Text: "I'm worried about my results"})
	if err != nil {
		t.Fatalf("Sentiment failed: %v", err)
	}
	if res.Sentiment != model.SentimentConcerned || res.UrgencyLevel != model.UrgencyMedium {
		t.Errorf("Unexpected result: %+v", res)
	}
	if len(res.KeyThemes) != 1 || res.KeyThemes[0] != "anxiety" {
		t.Errorf("Unexpected themes: %v", res.KeyThemes)
	}
}

func TestOpenAIBackend_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   apperr.Kind
	}{
		{http.StatusTooManyRequests, apperr.KindUpstreamTimeout},
		{http.StatusServiceUnavailable, apperr.KindUpstreamTimeout},
		{http.StatusBadRequest, apperr.KindUpstreamError},
		{http.StatusUnauthorized, apperr.KindUpstreamError},
		{http.StatusInternalServerError, apperr.KindUpstreamError},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream said no","type":"error"}}`))
		}))

		backend := newOpenAITestBackend(t, server.URL)
		_, err := backend.Risk(context.Background(), RiskRequest{Patient: samplePayload()})
		server.Close()

		if got := apperr.KindOf(err); got != tt.want {
			t.Errorf("status %d: expected %s, got %s (%v)", tt.status, tt.want, got, err)
		}
	}
}

func TestOpenAIBackend_ReplyNotJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatReply("The patient looks fine to me."))
	}))
	defer server.Close()

	backend := newOpenAITestBackend(t, server.URL)

	_, err := backend.Risk(context.Background(), RiskRequest{Patient: samplePayload()})
	var upstream *apperr.UpstreamError
	if !errorsAs(err, &upstream) {
		t.Fatalf("Expected UpstreamError, got %v", err)
	}
	if upstream.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 for an invalid reply, got %d", upstream.StatusCode)
	}
}

func TestOpenAIBackend_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{ID: "chatcmpl-123"})
	}))
	defer server.Close()

	backend := newOpenAITestBackend(t, server.URL)

	_, err := backend.Sentiment(context.Background(), SentimentRequest{Text: "hello"})
	if apperr.KindOf(err) != apperr.KindUpstreamError {
		t.Errorf("Expected upstream error, got %v", err)
	}
}

func TestNewOpenAIBackend_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIBackend(model.ModelConfig{Backend: "openai"}); err == nil {
		t.Error("Expected error without an API key")
	}
}

func TestNewOpenAIBackend_DefaultModel(t *testing.T) {
	backend, err := NewOpenAIBackend(model.ModelConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	if backend.Name() != "openai:"+openai.GPT4oMini {
		t.Errorf("Unexpected name %s", backend.Name())
	}
}
