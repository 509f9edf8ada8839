package infer

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ppiankov/claimsagent/internal/apperr"
	"github.com/ppiankov/claimsagent/internal/model"
)

// riskWire is the risk response shape shared by the HTTP model service and
// the JSON the OpenAI backend asks the model to produce.
type riskWire struct {
	PatientID       string   `json:"patient_id,omitempty"`
	RiskLevel       string   `json:"risk_level"`
	ConfidenceScore *float64 `json:"confidence_score"`
	Reasoning       string   `json:"reasoning"`
	RiskFactors     []string `json:"risk_factors"`
	Recommendations []string `json:"recommendations"`
}

func (w riskWire) result(op string) (model.RiskResult, error) {
	level, ok := model.ParseRiskLevel(w.RiskLevel)
	if !ok {
		return model.RiskResult{}, invalidResponse(op, "risk_level %q is not one of low, medium, high, critical", w.RiskLevel)
	}
	if w.ConfidenceScore == nil {
		return model.RiskResult{}, invalidResponse(op, "confidence_score missing")
	}
	if c := *w.ConfidenceScore; c < 0 || c > 1 {
		return model.RiskResult{}, invalidResponse(op, "confidence_score %v outside [0, 1]", c)
	}

	reasoning := strings.TrimSpace(w.Reasoning)
	if reasoning == "" && len(w.RiskFactors) > 0 {
		reasoning = "Risk factors reported by the model: " + strings.Join(w.RiskFactors, ", ") + "."
	}
	if reasoning == "" {
		return model.RiskResult{}, invalidResponse(op, "reasoning missing")
	}

	return model.RiskResult{
		PatientID:       w.PatientID,
		RiskLevel:       level,
		ConfidenceScore: *w.ConfidenceScore,
		Reasoning:       reasoning,
		RiskFactors:     w.RiskFactors,
		Recommendations: w.Recommendations,
	}, nil
}

// sentimentWire also accepts the older field names some model services
// still send (sentiment_score, key_phrases, urgency_indicator).
type sentimentWire struct {
	Sentiment        string   `json:"sentiment"`
	ConfidenceScore  *float64 `json:"confidence_score"`
	SentimentScore   *float64 `json:"sentiment_score,omitempty"`
	KeyThemes        []string `json:"key_themes"`
	KeyPhrases       []string `json:"key_phrases,omitempty"`
	UrgencyLevel     string   `json:"urgency_level"`
	UrgencyIndicator *bool    `json:"urgency_indicator,omitempty"`
	Summary          string   `json:"summary"`
}

func (w sentimentWire) result(op string) (model.SentimentResult, error) {
	sentiment, ok := model.ParseSentiment(w.Sentiment)
	if !ok {
		return model.SentimentResult{}, invalidResponse(op, "sentiment %q is not a known value", w.Sentiment)
	}

	confidence := w.ConfidenceScore
	if confidence == nil {
		confidence = w.SentimentScore
	}
	if confidence == nil {
		return model.SentimentResult{}, invalidResponse(op, "confidence_score missing")
	}
	if c := *confidence; c < 0 || c > 1 {
		return model.SentimentResult{}, invalidResponse(op, "confidence_score %v outside [0, 1]", c)
	}

	urgency, ok := model.ParseUrgency(w.UrgencyLevel)
	if !ok {
		switch {
		case w.UrgencyLevel != "":
			return model.SentimentResult{}, invalidResponse(op, "urgency_level %q is not one of low, medium, high", w.UrgencyLevel)
		case w.UrgencyIndicator != nil && *w.UrgencyIndicator:
			urgency = model.UrgencyHigh
		default:
			urgency = model.UrgencyLow
		}
	}

	themes := w.KeyThemes
	if themes == nil {
		themes = w.KeyPhrases
	}
	if themes == nil {
		themes = []string{}
	}

	return model.SentimentResult{
		Sentiment:       sentiment,
		ConfidenceScore: *confidence,
		KeyThemes:       themes,
		UrgencyLevel:    urgency,
		Summary:         strings.TrimSpace(w.Summary),
	}, nil
}

func invalidResponse(op, format string, args ...any) error {
	return &apperr.UpstreamError{
		Operation:  op,
		StatusCode: http.StatusOK,
		Message:    "invalid response: " + fmt.Sprintf(format, args...),
	}
}
