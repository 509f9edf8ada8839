package score

import (
	"strings"
	"testing"

	"github.com/ppiankov/claimsagent/internal/model"
)

func TestScorer_Sentiment_SevereSymptomsAreUrgent(t *testing.T) {
	scorer := NewScorer()

	result := scorer.Sentiment("I have severe chest pain and I'm having trouble breathing")

	if result.Sentiment != model.SentimentUrgent {
		t.Errorf("Expected urgent, got %s", result.Sentiment)
	}
	if result.Urgency != model.UrgencyHigh {
		t.Errorf("Expected high urgency, got %s", result.Urgency)
	}
	if result.Confidence <= 0.85 {
		t.Errorf("Expected confidence > 0.85, got %.2f", result.Confidence)
	}
	themes := strings.Join(result.Themes, ",")
	if !strings.Contains(themes, "chest pain") || !strings.Contains(themes, "breathing difficulty") {
		t.Errorf("Expected chest pain and breathing themes, got %v", result.Themes)
	}
}

func TestScorer_Sentiment_CriticalPhraseAloneIsUrgent(t *testing.T) {
	scorer := NewScorer()

	for _, text := range []string{
		"I can’t breathe",
		"my husband passed out in the kitchen",
		"I think this is a heart attack",
	} {
		result := scorer.Sentiment(text)
		if result.Sentiment != model.SentimentUrgent || result.Urgency != model.UrgencyHigh {
			t.Errorf("%q: expected urgent/high, got %s/%s", text, result.Sentiment, result.Urgency)
		}
	}
}

func TestScorer_Sentiment_WorriedAboutChestPainIsConcerned(t *testing.T) {
	scorer := NewScorer()

	result := scorer.Sentiment("I've been experiencing chest pain for the past few hours. I'm really worried about it.")

	if result.Sentiment != model.SentimentConcerned {
		t.Errorf("Expected concerned, got %s", result.Sentiment)
	}
	if result.Urgency != model.UrgencyMedium {
		t.Errorf("Expected medium urgency, got %s", result.Urgency)
	}
	if result.Confidence > 0.85 {
		t.Errorf("Non-urgent confidence should stay at or below 0.85, got %.2f", result.Confidence)
	}
}

func TestScorer_Sentiment_Negation(t *testing.T) {
	scorer := NewScorer()

	result := scorer.Sentiment("No chest pain and no trouble breathing today, feeling better")

	if result.Sentiment != model.SentimentPositive {
		t.Errorf("Expected positive, got %s (matches %v)", result.Sentiment, result.Matches)
	}
	if result.Urgency != model.UrgencyLow {
		t.Errorf("Expected low urgency, got %s", result.Urgency)
	}

	result = scorer.Sentiment("I don't feel better at all")
	if result.Sentiment != model.SentimentNegative {
		t.Errorf("Expected negated positive to read negative, got %s", result.Sentiment)
	}
}

func TestScorer_Sentiment_NegationStopsAtClauseBreak(t *testing.T) {
	scorer := NewScorer()

	result := scorer.Sentiment("no fever but severe chest pain")

	if result.Sentiment != model.SentimentUrgent {
		t.Errorf("Expected urgent, got %s (matches %v)", result.Sentiment, result.Matches)
	}
}

func TestScorer_Sentiment_NeutralText(t *testing.T) {
	scorer := NewScorer()

	result := scorer.Sentiment("Please reschedule my appointment to Thursday.")

	if result.Sentiment != model.SentimentNeutral {
		t.Errorf("Expected neutral, got %s", result.Sentiment)
	}
	if result.Urgency != model.UrgencyLow {
		t.Errorf("Expected low urgency, got %s", result.Urgency)
	}
	if len(result.Themes) != 0 {
		t.Errorf("Expected no themes, got %v", result.Themes)
	}
	if result.Summary == "" {
		t.Error("Expected a summary")
	}
}

func TestScorer_Sentiment_Deterministic(t *testing.T) {
	scorer := NewScorer()
	text := "Thanks, the new medication is helping but I'm still a bit tired and anxious"

	first := scorer.Sentiment(text)
	for i := 0; i < 10; i++ {
		again := scorer.Sentiment(text)
		if again.Sentiment != first.Sentiment || again.Confidence != first.Confidence {
			t.Fatalf("Run %d differs: %+v vs %+v", i, again, first)
		}
	}
}

func TestScorer_Sentiment_ConfidenceBounds(t *testing.T) {
	scorer := NewScorer()
	texts := []string{
		"",
		"Help!",
		"I'm worried 😟",
		strings.Repeat("This is a very long text. ", 100),
		strings.Repeat("severe crushing chest pain can't breathe emergency ", 20),
	}

	for _, text := range texts {
		result := scorer.Sentiment(text)
		if result.Confidence < 0 || result.Confidence > 1 {
			t.Errorf("Confidence out of range for %.20q: %.2f", text, result.Confidence)
		}
		if _, ok := model.ParseSentiment(string(result.Sentiment)); !ok {
			t.Errorf("Unknown sentiment %q", result.Sentiment)
		}
	}
}
