package infer

import (
	"context"

	"github.com/ppiankov/claimsagent/internal/model"
	"github.com/ppiankov/claimsagent/internal/score"
)

// HeuristicBackend scores requests locally with the transparent point
// scorer. It needs no network and is fully deterministic.
type HeuristicBackend struct {
	scorer *score.Scorer
}

// NewHeuristicBackend creates a local backend.
func NewHeuristicBackend() *HeuristicBackend {
	return &HeuristicBackend{scorer: score.NewScorer()}
}

// Name returns the backend name
func (b *HeuristicBackend) Name() string {
	return "heuristic"
}

func (b *HeuristicBackend) Risk(ctx context.Context, req RiskRequest) (model.RiskResult, error) {
	if err := ctx.Err(); err != nil {
		return model.RiskResult{}, err
	}
	rs := b.scorer.Risk(req.Patient)
	return model.RiskResult{
		PatientID:       req.Patient.PatientID,
		RiskLevel:       rs.Level,
		ConfidenceScore: rs.Confidence,
		Reasoning:       rs.Reasoning,
		RiskFactors:     rs.Factors(),
		Recommendations: rs.Recommendations,
		Model:           "heuristic-v1",
	}, nil
}

func (b *HeuristicBackend) Sentiment(ctx context.Context, req SentimentRequest) (model.SentimentResult, error) {
	if err := ctx.Err(); err != nil {
		return model.SentimentResult{}, err
	}
	ss := b.scorer.Sentiment(req.Text)
	return model.SentimentResult{
		Sentiment:       ss.Sentiment,
		ConfidenceScore: ss.Confidence,
		KeyThemes:       ss.Themes,
		UrgencyLevel:    ss.Urgency,
		Summary:         ss.Summary,
		Model:           "heuristic-v1",
	}, nil
}
