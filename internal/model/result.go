package model

import "time"

// RiskLevel is the categorical output of risk classification
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevels lists every risk level from least to most severe.
var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// ParseRiskLevel accepts any casing ("MEDIUM" and "medium" are equal).
func ParseRiskLevel(s string) (RiskLevel, bool) {
	l := RiskLevel(lowerTrim(s))
	for _, known := range RiskLevels {
		if l == known {
			return l, true
		}
	}
	return "", false
}

// Sentiment is the categorical output of sentiment analysis
type Sentiment string

const (
	SentimentPositive  Sentiment = "positive"
	SentimentNegative  Sentiment = "negative"
	SentimentNeutral   Sentiment = "neutral"
	SentimentConcerned Sentiment = "concerned"
	SentimentUrgent    Sentiment = "urgent"
)

// Sentiments lists every sentiment value.
var Sentiments = []Sentiment{SentimentPositive, SentimentNegative, SentimentNeutral, SentimentConcerned, SentimentUrgent}

// ParseSentiment accepts any casing.
func ParseSentiment(s string) (Sentiment, bool) {
	v := Sentiment(lowerTrim(s))
	for _, known := range Sentiments {
		if v == known {
			return v, true
		}
	}
	return "", false
}

// Urgency grades how quickly patient text needs a human response
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// ParseUrgency accepts any casing.
func ParseUrgency(s string) (Urgency, bool) {
	u := Urgency(lowerTrim(s))
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return u, true
	}
	return "", false
}

// RiskResult is the response of a risk classification call.
type RiskResult struct {
	PatientID       string    `json:"patient_id,omitempty"`
	RiskLevel       RiskLevel `json:"risk_level"`
	ConfidenceScore float64   `json:"confidence_score"`
	Reasoning       string    `json:"reasoning"`
	RiskFactors     []string  `json:"risk_factors,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	Model           string    `json:"model,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// SentimentResult is the response of a sentiment analysis call.
type SentimentResult struct {
	Sentiment       Sentiment `json:"sentiment"`
	ConfidenceScore float64   `json:"confidence_score"`
	KeyThemes       []string  `json:"key_themes"`
	UrgencyLevel    Urgency   `json:"urgency_level"`
	Summary         string    `json:"summary"`
	Model           string    `json:"model,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Assessment bundles a claim with the model results derived from it.
type Assessment struct {
	Claim     ClaimRecord      `json:"claim"`
	Risk      *RiskResult      `json:"risk,omitempty"`
	Sentiment *SentimentResult `json:"sentiment,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`
	Elapsed   time.Duration    `json:"elapsed_ns"`
}
