package infer

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/claimsagent/internal/apperr"
	"github.com/ppiankov/claimsagent/internal/audit"
	"github.com/ppiankov/claimsagent/internal/cache"
	"github.com/ppiankov/claimsagent/internal/model"
	"github.com/ppiankov/claimsagent/internal/schema"
)

// fakeBackend replays queued errors, then returns the configured result.
type fakeBackend struct {
	mu sync.Mutex

	risk      model.RiskResult
	sentiment model.SentimentResult
	riskErrs  []error
	sentErrs  []error

	// confidences, when set, are handed out one per call
	confidences []float64

	riskCalls      int
	sentimentCalls int
	lastText       string
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Risk(ctx context.Context, req RiskRequest) (model.RiskResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.riskCalls++
	if len(f.riskErrs) > 0 {
		err := f.riskErrs[0]
		f.riskErrs = f.riskErrs[1:]
		return model.RiskResult{}, err
	}
	res := f.risk
	if len(f.confidences) > 0 {
		res.ConfidenceScore = f.confidences[0]
		f.confidences = f.confidences[1:]
	}
	return res, nil
}

func (f *fakeBackend) Sentiment(ctx context.Context, req SentimentRequest) (model.SentimentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentimentCalls++
	f.lastText = req.Text
	if len(f.sentErrs) > 0 {
		err := f.sentErrs[0]
		f.sentErrs = f.sentErrs[1:]
		return model.SentimentResult{}, err
	}
	return f.sentiment, nil
}

func (f *fakeBackend) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.riskCalls, f.sentimentCalls
}

type recordedSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func intPtr(v int) *int { return &v }

func mediumRisk() model.RiskResult {
	return model.RiskResult{
		RiskLevel:       "MEDIUM",
		ConfidenceScore: 0.75,
		Reasoning:       "hypertension with chest pain",
		RiskFactors:     []string{"hypertension", "chest_pain"},
	}
}

func samplePayload() model.PatientPayload {
	return model.PatientPayload{
		PatientID:      "PAT001",
		Age:            intPtr(44),
		Gender:         "female",
		Symptoms:       []string{"chest_pain", "shortness_of_breath"},
		Vitals:         map[string]any{"blood_pressure": "140/90", "heart_rate": 95},
		MedicalHistory: []string{"hypertension", "diabetes"},
	}
}

func newTestClient(backend ModelBackend, opts ...Option) (*Client, *audit.Recorder, *recordedSleep) {
	rec := &audit.Recorder{}
	sleeper := &recordedSleep{}
	base := []Option{
		WithAudit(audit.NewEmitter(rec, nil, nil)),
		WithClock(sleeper.sleep, time.Now),
	}
	return NewClient(backend, append(base, opts...)...), rec, sleeper
}

func TestClassifyRisk_MinimalInputDefaultsLow(t *testing.T) {
	backend := &fakeBackend{risk: mediumRisk()}
	client, rec, _ := newTestClient(backend)

	res, err := client.ClassifyRisk(context.Background(), model.PatientPayload{Age: intPtr(30), Gender: "female"})
	require.NoError(t, err)

	assert.Equal(t, model.RiskLow, res.RiskLevel)
	assert.Less(t, res.ConfidenceScore, 0.5)
	assert.Contains(t, strings.ToLower(res.Reasoning), "limited data")
	assert.False(t, res.Timestamp.IsZero())

	riskCalls, _ := backend.calls()
	assert.Zero(t, riskCalls, "minimal input is answered locally")

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionRisk, events[0].Action)
	assert.Equal(t, audit.ResultSuccess, events[0].Result)
}

func TestClassifyRisk_BlankHistoryIsLimitedData(t *testing.T) {
	backend := &fakeBackend{risk: mediumRisk()}
	client, _, _ := newTestClient(backend)

	res, err := client.ClassifyRisk(context.Background(), model.PatientPayload{
		Age:            intPtr(30),
		Gender:         "female",
		MedicalHistory: []string{"", "   "},
	})
	require.NoError(t, err)

	assert.Equal(t, model.RiskLow, res.RiskLevel)
	assert.Less(t, res.ConfidenceScore, 0.5)
	assert.Contains(t, strings.ToLower(res.Reasoning), "limited data")

	riskCalls, _ := backend.calls()
	assert.Zero(t, riskCalls)
}

func TestClassifyRisk_CallsBackendAndNormalizes(t *testing.T) {
	backend := &fakeBackend{risk: mediumRisk()}
	client, rec, _ := newTestClient(backend)

	res, err := client.ClassifyRisk(context.Background(), samplePayload())
	require.NoError(t, err)

	assert.Equal(t, model.RiskMedium, res.RiskLevel)
	assert.Equal(t, 0.75, res.ConfidenceScore)
	assert.Equal(t, "PAT001", res.PatientID)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "PAT001", events[0].PatientID)
}

func TestClassifyRisk_HeuristicBackendCriticalCase(t *testing.T) {
	client, _, _ := newTestClient(NewHeuristicBackend())

	res, err := client.ClassifyRisk(context.Background(), model.PatientPayload{
		PatientID:      "PAT001",
		Age:            intPtr(44),
		Gender:         "male",
		Symptoms:       []string{"chest_pain", "shortness_of_breath", "sweating"},
		Vitals:         map[string]any{"blood_pressure": "180/110", "heart_rate": 120},
		MedicalHistory: []string{"hypertension", "diabetes", "heart_disease"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.RiskCritical, res.RiskLevel)
	assert.Contains(t, res.Recommendations, "immediate_emergency_evaluation")
}

func TestClassifyRisk_IdenticalInputIsStable(t *testing.T) {
	backend := &fakeBackend{risk: mediumRisk(), confidences: []float64{0.71, 0.79, 0.64}}
	client, _, _ := newTestClient(backend, WithCache(cache.NewMemoryCache(time.Hour, time.Hour), 0))

	first, err := client.ClassifyRisk(context.Background(), samplePayload())
	require.NoError(t, err)
	second, err := client.ClassifyRisk(context.Background(), samplePayload())
	require.NoError(t, err)

	assert.Equal(t, first.RiskLevel, second.RiskLevel)
	assert.InDelta(t, first.ConfidenceScore, second.ConfidenceScore, 0.01)

	riskCalls, _ := backend.calls()
	assert.Equal(t, 1, riskCalls, "second call is served from the cache")
}

func TestClassifyRisk_HeuristicIsDeterministicWithoutCache(t *testing.T) {
	client, _, _ := newTestClient(NewHeuristicBackend())

	first, err := client.ClassifyRisk(context.Background(), samplePayload())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := client.ClassifyRisk(context.Background(), samplePayload())
		require.NoError(t, err)
		assert.Equal(t, first.RiskLevel, again.RiskLevel)
		assert.InDelta(t, first.ConfidenceScore, again.ConfidenceScore, 0.01)
	}
}

func TestClassifyRisk_InvalidInputNeverReachesBackend(t *testing.T) {
	tests := []struct {
		name    string
		payload model.PatientPayload
		field   string
		issue   schema.Issue
	}{
		{"negative age", model.PatientPayload{Age: intPtr(-5), Gender: "male"}, "age", schema.IssueOutOfRange},
		{"age too high", model.PatientPayload{Age: intPtr(200), Gender: "male"}, "age", schema.IssueOutOfRange},
		{"missing age", model.PatientPayload{Gender: "male"}, "age", schema.IssueMissing},
		{"missing gender", model.PatientPayload{Age: intPtr(44), Symptoms: []string{}}, "gender", schema.IssueMissing},
		{"unknown gender", model.PatientPayload{Age: intPtr(44), Gender: "robot"}, "gender", schema.IssueOutOfRange},
		{"impossible blood pressure", model.PatientPayload{Age: intPtr(44), Gender: "f", Vitals: map[string]any{"blood_pressure": "400/300"}}, "vitals.blood_pressure", schema.IssueOutOfRange},
		{"impossible heart rate", model.PatientPayload{Age: intPtr(44), Gender: "f", Vitals: map[string]any{"heart_rate": 300}}, "vitals.heart_rate", schema.IssueOutOfRange},
		{"heart rate not a number", model.PatientPayload{Age: intPtr(44), Gender: "f", Vitals: map[string]any{"heart_rate": math.NaN()}}, "vitals.heart_rate", schema.IssueTypeMismatch},
		{"infinite temperature", model.PatientPayload{Age: intPtr(44), Gender: "f", Vitals: map[string]any{"temperature": math.Inf(1)}}, "vitals.temperature", schema.IssueTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{risk: mediumRisk()}
			client, rec, _ := newTestClient(backend)

			_, err := client.ClassifyRisk(context.Background(), tt.payload)

			var invalid *apperr.InvalidInput
			require.ErrorAs(t, err, &invalid)
			require.NotEmpty(t, invalid.Errors)
			assert.Equal(t, tt.field, invalid.Errors[0].Field)
			assert.Equal(t, tt.issue, invalid.Errors[0].Issue)

			riskCalls, _ := backend.calls()
			assert.Zero(t, riskCalls)

			events := rec.Events()
			require.Len(t, events, 1)
			assert.Equal(t, audit.ResultFailure, events[0].Result)
			assert.Equal(t, string(apperr.KindInvalidInput), events[0].Reason)
		})
	}
}

func TestClassifyRisk_BoundaryVitalsAccepted(t *testing.T) {
	backend := &fakeBackend{risk: mediumRisk()}
	client, _, _ := newTestClient(backend)

	_, err := client.ClassifyRisk(context.Background(), model.PatientPayload{
		Age:    intPtr(44),
		Gender: "female",
		Vitals: map[string]any{"heart_rate": 250, "blood_pressure": "300/200"},
	})
	require.NoError(t, err)
}

func TestClassifyRisk_RetriesUpstreamTimeouts(t *testing.T) {
	timeout := &apperr.UpstreamTimeout{Operation: "risk classification", Cause: context.DeadlineExceeded}
	backend := &fakeBackend{risk: mediumRisk(), riskErrs: []error{timeout, timeout}}
	client, _, sleeper := newTestClient(backend)

	res, err := client.ClassifyRisk(context.Background(), samplePayload())
	require.NoError(t, err)
	assert.Equal(t, model.RiskMedium, res.RiskLevel)

	riskCalls, _ := backend.calls()
	assert.Equal(t, 3, riskCalls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.delays)
}

func TestClassifyRisk_TimeoutsExhaust(t *testing.T) {
	timeout := &apperr.UpstreamTimeout{Operation: "risk classification", Cause: context.DeadlineExceeded}
	backend := &fakeBackend{riskErrs: []error{timeout, timeout, timeout, timeout}}
	client, _, _ := newTestClient(backend)

	_, err := client.ClassifyRisk(context.Background(), samplePayload())
	assert.Equal(t, apperr.KindUpstreamTimeout, apperr.KindOf(err))

	riskCalls, _ := backend.calls()
	assert.Equal(t, 3, riskCalls)
}

func TestClassifyRisk_UpstreamErrorNotRetried(t *testing.T) {
	backend := &fakeBackend{riskErrs: []error{&apperr.UpstreamError{Operation: "risk classification", StatusCode: 400, Message: "bad request"}}}
	client, _, sleeper := newTestClient(backend)

	_, err := client.ClassifyRisk(context.Background(), samplePayload())

	var upstream *apperr.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, 400, upstream.StatusCode)

	riskCalls, _ := backend.calls()
	assert.Equal(t, 1, riskCalls)
	assert.Empty(t, sleeper.delays)
}

func TestClassifyRisk_UntypedBackendErrors(t *testing.T) {
	backend := &fakeBackend{riskErrs: []error{errors.New("decoder exploded")}}
	client, _, _ := newTestClient(backend)

	_, err := client.ClassifyRisk(context.Background(), samplePayload())
	assert.Equal(t, apperr.KindUpstreamError, apperr.KindOf(err))
}

func TestClassifyRisk_InvalidBackendResponse(t *testing.T) {
	tests := map[string]model.RiskResult{
		"confidence above 1": {RiskLevel: "high", ConfidenceScore: 1.4, Reasoning: "x"},
		"unknown level":      {RiskLevel: "severe", ConfidenceScore: 0.5, Reasoning: "x"},
		"no reasoning":       {RiskLevel: "high", ConfidenceScore: 0.5},
	}
	for name, res := range tests {
		t.Run(name, func(t *testing.T) {
			client, _, _ := newTestClient(&fakeBackend{risk: res})
			_, err := client.ClassifyRisk(context.Background(), samplePayload())
			assert.Equal(t, apperr.KindUpstreamError, apperr.KindOf(err))
		})
	}
}

func TestClassifyRisk_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend := &fakeBackend{risk: mediumRisk()}
	client, rec, _ := newTestClient(backend)

	_, err := client.ClassifyRisk(ctx, samplePayload())
	assert.Equal(t, apperr.KindCancelled, apperr.KindOf(err))

	riskCalls, _ := backend.calls()
	assert.Zero(t, riskCalls)
	assert.Len(t, rec.Events(), 1)
}

func TestClassifyRisk_CancelledDuringRetryDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	timeout := &apperr.UpstreamTimeout{Operation: "risk classification", Cause: context.DeadlineExceeded}
	backend := &fakeBackend{risk: mediumRisk(), riskErrs: []error{timeout, timeout}}

	client, _, _ := newTestClient(backend, WithClock(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}, time.Now))

	_, err := client.ClassifyRisk(ctx, samplePayload())
	assert.Equal(t, apperr.KindCancelled, apperr.KindOf(err))

	riskCalls, _ := backend.calls()
	assert.Equal(t, 1, riskCalls)
}

func TestAnalyzeSentiment_SevereLanguageIsUrgent(t *testing.T) {
	client, _, _ := newTestClient(NewHeuristicBackend())

	res, err := client.AnalyzeSentiment(context.Background(), "I have severe chest pain and trouble breathing")
	require.NoError(t, err)

	assert.Equal(t, model.SentimentUrgent, res.Sentiment)
	assert.Equal(t, model.UrgencyHigh, res.UrgencyLevel)
	assert.Greater(t, res.ConfidenceScore, 0.85)
}

func TestAnalyzeSentiment_UrgencyEnforcedOverBackend(t *testing.T) {
	backend := &fakeBackend{sentiment: model.SentimentResult{
		Sentiment:       "CONCERNED",
		ConfidenceScore: 0.65,
		KeyThemes:       []string{"worry"},
		UrgencyLevel:    "medium",
	}}
	client, _, _ := newTestClient(backend)

	res, err := client.AnalyzeSentiment(context.Background(), "severe chest pain ... trouble breathing")
	require.NoError(t, err)

	assert.Equal(t, model.SentimentUrgent, res.Sentiment)
	assert.Equal(t, model.UrgencyHigh, res.UrgencyLevel)
	assert.Greater(t, res.ConfidenceScore, 0.85)
	assert.Contains(t, res.KeyThemes, "worry")
	assert.Contains(t, res.KeyThemes, "chest pain")
}

func TestAnalyzeSentiment_BackendResultKeptForCalmText(t *testing.T) {
	backend := &fakeBackend{sentiment: model.SentimentResult{
		Sentiment:       "positive",
		ConfidenceScore: 0.812,
		UrgencyLevel:    "low",
	}}
	client, _, _ := newTestClient(backend)

	res, err := client.AnalyzeSentiment(context.Background(), "Feeling much better, thank you")
	require.NoError(t, err)
	assert.Equal(t, model.SentimentPositive, res.Sentiment)
	assert.Equal(t, 0.81, res.ConfidenceScore)
	assert.NotNil(t, res.KeyThemes)
}

func TestAnalyzeSentiment_InvalidText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		issue schema.Issue
	}{
		{"empty", "", schema.IssueMissing},
		{"whitespace", "   \n\t", schema.IssueMissing},
		{"markup only", "<script>alert(1)</script>", schema.IssueMissing},
		{"too long", strings.Repeat("A", 10000), schema.IssueOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{}
			client, _, _ := newTestClient(backend)

			_, err := client.AnalyzeSentiment(context.Background(), tt.text)

			var invalid *apperr.InvalidInput
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, "patient_text", invalid.Errors[0].Field)
			assert.Equal(t, tt.issue, invalid.Errors[0].Issue)

			_, sentimentCalls := backend.calls()
			assert.Zero(t, sentimentCalls)
		})
	}
}

func TestAnalyzeSentiment_LongestTextAccepted(t *testing.T) {
	client, _, _ := newTestClient(NewHeuristicBackend())
	_, err := client.AnalyzeSentiment(context.Background(), strings.Repeat("A", schema.MaxPatientText))
	assert.NoError(t, err)
}

func TestAnalyzeSentiment_SendsVisibleTextOnly(t *testing.T) {
	backend := &fakeBackend{sentiment: model.SentimentResult{Sentiment: "neutral", ConfidenceScore: 0.6, UrgencyLevel: "low"}}
	client, _, _ := newTestClient(backend)

	_, err := client.AnalyzePatientText(context.Background(), "PAT001",
		"<div><p>My   knee <b>hurts</b></p><script>steal()</script><style>p{}</style></div>")
	require.NoError(t, err)
	assert.Equal(t, "My knee hurts", backend.lastText)
}

func TestAnalyzeSentiment_AuditsPatient(t *testing.T) {
	client, rec, _ := newTestClient(NewHeuristicBackend())

	_, err := client.AnalyzePatientText(audit.WithUserID(context.Background(), "nurse-7"), "PAT001", "I'm worried")
	require.NoError(t, err)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionSentiment, events[0].Action)
	assert.Equal(t, "PAT001", events[0].PatientID)
	assert.Equal(t, "nurse-7", events[0].UserID)
}

func TestAnalyzeSentiment_HostilePatientIDNotAudited(t *testing.T) {
	client, rec, _ := newTestClient(NewHeuristicBackend())

	_, err := client.AnalyzePatientText(context.Background(), "'; DROP TABLE patients; --", "I'm fine")
	require.NoError(t, err)
	assert.Empty(t, rec.Events()[0].PatientID)
}
