package infer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ppiankov/claimsagent/internal/apperr"
	"github.com/ppiankov/claimsagent/internal/audit"
	"github.com/ppiankov/claimsagent/internal/cache"
	"github.com/ppiankov/claimsagent/internal/logging"
	"github.com/ppiankov/claimsagent/internal/metrics"
	"github.com/ppiankov/claimsagent/internal/model"
	"github.com/ppiankov/claimsagent/internal/retry"
	"github.com/ppiankov/claimsagent/internal/schema"
	"github.com/ppiankov/claimsagent/internal/score"
)

const (
	opRisk      = "risk"
	opSentiment = "sentiment"

	limitedDataModel = "limited-data-policy"
)

// Client validates model requests locally, then calls the backend with the
// shared retry policy. Results are cached by canonical request so repeated
// calls on identical input return identical output.
type Client struct {
	backend  ModelBackend
	local    *HeuristicBackend
	scorer   *score.Scorer
	cache    cache.Cache
	cacheTTL time.Duration
	policy   retry.Policy
	audit    *audit.Emitter
	logger   *zap.Logger
	metrics  *metrics.Metrics

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithCache enables the result cache. ttl 0 uses the cache default.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(cl *Client) {
		cl.cache = c
		cl.cacheTTL = ttl
	}
}

// WithPolicy sets the retry policy for upstream timeouts.
func WithPolicy(p retry.Policy) Option { return func(c *Client) { c.policy = p } }

// WithAudit sets the audit emitter.
func WithAudit(e *audit.Emitter) Option { return func(c *Client) { c.audit = e } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = logging.OrNop(l) } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

// WithClock replaces the sleep and time functions (tests).
func WithClock(sleep func(context.Context, time.Duration) error, now func() time.Time) Option {
	return func(c *Client) {
		c.sleep = sleep
		c.now = now
	}
}

// NewClient creates a Client over backend.
func NewClient(backend ModelBackend, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		local:   NewHeuristicBackend(),
		scorer:  score.NewScorer(),
		policy:  retry.DefaultPolicy(),
		logger:  zap.NewNop(),
		sleep:   retry.SleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the configured backend.
func (c *Client) Backend() ModelBackend { return c.backend }

// ClassifyRisk classifies payload. Invalid payloads fail with InvalidInput
// before any backend call. A payload with nothing beyond age and gender is
// classified low with confidence below 0.5 without consulting the backend.
func (c *Client) ClassifyRisk(ctx context.Context, payload model.PatientPayload) (model.RiskResult, error) {
	start := c.now()
	patientID := safeID(payload.PatientID)
	log := c.logger.With(zap.String("operation", opRisk), zap.String("patient_id", patientID), zap.String("backend", c.backend.Name()))

	record, err := payloadRecord(payload)
	if err != nil {
		return model.RiskResult{}, c.finish(ctx, log, audit.ActionRisk, patientID, start, err)
	}
	p, err := validatePatientRecord(record)
	if err != nil {
		return model.RiskResult{}, c.finish(ctx, log, audit.ActionRisk, patientID, start, err)
	}
	if err := ctx.Err(); err != nil {
		return model.RiskResult{}, c.finish(ctx, log, audit.ActionRisk, patientID, start, &apperr.Cancelled{Operation: "risk classification", Cause: err})
	}

	if !p.HasClinicalDetail() {
		res, err := c.local.Risk(ctx, RiskRequest{Patient: p})
		if err != nil {
			return model.RiskResult{}, c.finish(ctx, log, audit.ActionRisk, patientID, start, &apperr.Cancelled{Operation: "risk classification", Cause: err})
		}
		res.Model = limitedDataModel
		res.Timestamp = c.now().UTC()
		return res, c.finish(ctx, log, audit.ActionRisk, patientID, start, nil)
	}

	key := c.key(opRisk, p)
	var res model.RiskResult
	if c.cached(key, opRisk, &res) {
		res.Timestamp = c.now().UTC()
		return res, c.finish(ctx, log, audit.ActionRisk, patientID, start, nil)
	}

	err = c.call(ctx, log, "risk classification", func(ctx context.Context) error {
		r, err := c.backend.Risk(ctx, RiskRequest{Patient: p})
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err == nil {
		res, err = normalizeRisk(res)
	}
	if err != nil {
		return model.RiskResult{}, c.finish(ctx, log, audit.ActionRisk, patientID, start, err)
	}

	res.PatientID = p.PatientID
	res.ConfidenceScore = round2(res.ConfidenceScore)
	c.store(key, res)

	res.Timestamp = c.now().UTC()
	return res, c.finish(ctx, log, audit.ActionRisk, patientID, start, nil)
}

// AnalyzeSentiment grades free patient text.
func (c *Client) AnalyzeSentiment(ctx context.Context, text string) (model.SentimentResult, error) {
	return c.AnalyzePatientText(ctx, "", text)
}

// AnalyzePatientText is AnalyzeSentiment with the patient recorded in the
// audit trail. Explicit severe-symptom language always comes back urgent
// with high urgency and confidence above 0.85, whatever the backend says.
func (c *Client) AnalyzePatientText(ctx context.Context, patientID, text string) (model.SentimentResult, error) {
	start := c.now()
	patientID = safeID(patientID)
	log := c.logger.With(zap.String("operation", opSentiment), zap.String("patient_id", patientID), zap.String("backend", c.backend.Name()))

	if err := checkText(text); err != nil {
		return model.SentimentResult{}, c.finish(ctx, log, audit.ActionSentiment, patientID, start, err)
	}
	normalized := NormalizeText(text)
	if normalized == "" {
		err := apperr.NewInvalidInput("patient_text", schema.IssueMissing, "non-empty text", "no visible text")
		return model.SentimentResult{}, c.finish(ctx, log, audit.ActionSentiment, patientID, start, err)
	}
	if err := ctx.Err(); err != nil {
		return model.SentimentResult{}, c.finish(ctx, log, audit.ActionSentiment, patientID, start, &apperr.Cancelled{Operation: "sentiment analysis", Cause: err})
	}

	key := c.key(opSentiment, normalized)
	var res model.SentimentResult
	if c.cached(key, opSentiment, &res) {
		res.Timestamp = c.now().UTC()
		return res, c.finish(ctx, log, audit.ActionSentiment, patientID, start, nil)
	}

	err := c.call(ctx, log, "sentiment analysis", func(ctx context.Context) error {
		r, err := c.backend.Sentiment(ctx, SentimentRequest{PatientID: patientID, Text: normalized})
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err == nil {
		res, err = normalizeSentiment(res)
	}
	if err != nil {
		return model.SentimentResult{}, c.finish(ctx, log, audit.ActionSentiment, patientID, start, err)
	}

	res = c.enforceUrgency(normalized, res)
	res.ConfidenceScore = round2(res.ConfidenceScore)
	if res.KeyThemes == nil {
		res.KeyThemes = []string{}
	}
	c.store(key, res)

	res.Timestamp = c.now().UTC()
	return res, c.finish(ctx, log, audit.ActionSentiment, patientID, start, nil)
}

func (c *Client) enforceUrgency(text string, res model.SentimentResult) model.SentimentResult {
	local := c.scorer.Sentiment(text)
	if local.Sentiment != model.SentimentUrgent {
		return res
	}
	res.Sentiment = model.SentimentUrgent
	res.UrgencyLevel = model.UrgencyHigh
	res.ConfidenceScore = math.Max(res.ConfidenceScore, local.Confidence)
	seen := make(map[string]bool, len(res.KeyThemes))
	for _, t := range res.KeyThemes {
		seen[t] = true
	}
	for _, t := range local.Themes {
		if !seen[t] {
			res.KeyThemes = append(res.KeyThemes, t)
		}
	}
	if res.Summary == "" {
		res.Summary = local.Summary
	}
	return res
}

// call runs fn under the retry policy and maps the outcome onto the
// upstream error kinds.
func (c *Client) call(ctx context.Context, log *zap.Logger, op string, fn func(ctx context.Context) error) error {
	runner := &retry.Runner{
		Policy: c.policy,
		Sleep:  c.sleep,
		Now:    c.now,
		OnAttempt: func(s retry.State) {
			log.Debug("model attempt", zap.Int("attempt", s.Attempt), zap.Int("max_attempts", s.MaxAttempts))
		},
		OnRetry: func(s retry.State, delay time.Duration) {
			c.metrics.IncRetry(op)
			log.Warn("model call timed out, retrying",
				zap.Int("attempt", s.Attempt),
				zap.Duration("delay", delay),
				zap.Error(s.LastError),
			)
		},
	}

	state, err := runner.Run(ctx, func(ctx context.Context, _ int) error { return fn(ctx) })
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || state.LastClass == retry.ClassCancelled {
		cause := ctx.Err()
		if cause == nil {
			cause = err
		}
		return &apperr.Cancelled{Operation: op, Cause: cause}
	}
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	if state.LastClass == retry.ClassTransient {
		return &apperr.UpstreamTimeout{Operation: op, Cause: err}
	}
	return &apperr.UpstreamError{Operation: op, Message: err.Error()}
}

func (c *Client) key(op string, v any) string {
	if c.cache == nil {
		return ""
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return cache.Key(op+":"+c.backend.Name(), canonical)
}

func (c *Client) cached(key, op string, out any) bool {
	if key == "" {
		return false
	}
	data, ok := c.cache.Get(key)
	if ok && json.Unmarshal(data, out) == nil {
		c.metrics.CacheLookup(op, true)
		return true
	}
	c.metrics.CacheLookup(op, false)
	return false
}

func (c *Client) store(key string, v any) {
	if key == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(key, data, c.cacheTTL); err != nil {
		c.logger.Warn("cache write failed", zap.Error(err))
	}
}

// finish logs, meters and audits the terminal outcome, and returns err.
func (c *Client) finish(ctx context.Context, log *zap.Logger, action audit.Action, patientID string, start time.Time, err error) error {
	elapsed := c.now().Sub(start)
	op := opRisk
	if action == audit.ActionSentiment {
		op = opSentiment
	}

	ev := audit.Event{Action: action, PatientID: patientID, Result: audit.ResultSuccess}
	result := "success"
	if err != nil {
		kind := apperr.KindOf(err)
		ev.Result = audit.ResultFailure
		ev.Reason = string(kind)
		result = string(kind)
		log.Warn("model request failed", zap.String("kind", result), zap.Duration("elapsed", elapsed), zap.Error(err))
	} else {
		log.Info("model request completed", zap.Duration("elapsed", elapsed))
	}

	c.metrics.ObserveInference(op, c.backend.Name(), result, elapsed)
	c.audit.Emit(ctx, ev)
	return err
}

func checkText(text string) error {
	if n := utf8.RuneCountInString(text); n > schema.MaxPatientText {
		return apperr.NewInvalidInput("patient_text", schema.IssueOutOfRange,
			fmt.Sprintf("at most %d characters", schema.MaxPatientText), fmt.Sprintf("%d characters", n))
	}
	if strings.TrimSpace(text) == "" {
		actual := "empty"
		if text != "" {
			actual = "whitespace only"
		}
		return apperr.NewInvalidInput("patient_text", schema.IssueMissing, "non-empty text", actual)
	}
	return nil
}

// normalizeRisk checks a backend result and canonicalizes its enums.
func normalizeRisk(r model.RiskResult) (model.RiskResult, error) {
	const op = "risk classification"
	level, ok := model.ParseRiskLevel(string(r.RiskLevel))
	if !ok {
		return r, invalidResponse(op, "risk_level %q is not one of low, medium, high, critical", r.RiskLevel)
	}
	if r.ConfidenceScore < 0 || r.ConfidenceScore > 1 || math.IsNaN(r.ConfidenceScore) {
		return r, invalidResponse(op, "confidence_score %v outside [0, 1]", r.ConfidenceScore)
	}
	if strings.TrimSpace(r.Reasoning) == "" {
		return r, invalidResponse(op, "reasoning missing")
	}
	r.RiskLevel = level
	return r, nil
}

func normalizeSentiment(r model.SentimentResult) (model.SentimentResult, error) {
	const op = "sentiment analysis"
	sentiment, ok := model.ParseSentiment(string(r.Sentiment))
	if !ok {
		return r, invalidResponse(op, "sentiment %q is not a known value", r.Sentiment)
	}
	urgency, ok := model.ParseUrgency(string(r.UrgencyLevel))
	if !ok {
		return r, invalidResponse(op, "urgency_level %q is not one of low, medium, high", r.UrgencyLevel)
	}
	if r.ConfidenceScore < 0 || r.ConfidenceScore > 1 || math.IsNaN(r.ConfidenceScore) {
		return r, invalidResponse(op, "confidence_score %v outside [0, 1]", r.ConfidenceScore)
	}
	r.Sentiment = sentiment
	r.UrgencyLevel = urgency
	return r, nil
}

// safeID drops identifiers that do not look like one, so hostile input
// never reaches logs or the audit trail.
func safeID(id string) string {
	if id == "" || !schema.IdentifierPattern().MatchString(id) {
		return ""
	}
	return id
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
