package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/claimsagent/internal/apperr"
	"github.com/ppiankov/claimsagent/internal/audit"
	"github.com/ppiankov/claimsagent/internal/logging"
	"github.com/ppiankov/claimsagent/internal/metrics"
	"github.com/ppiankov/claimsagent/internal/model"
	"github.com/ppiankov/claimsagent/internal/retry"
	"github.com/ppiankov/claimsagent/internal/schema"
)

// Client extracts single claims: authenticate, fetch (with retry), validate.
// It holds no per-call state and is safe for concurrent use.
type Client struct {
	source  ClaimsSource
	policy  retry.Policy
	audit   *audit.Emitter
	logger  *zap.Logger
	metrics *metrics.Metrics

	attemptTimeout time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithPolicy sets the retry policy.
func WithPolicy(p retry.Policy) Option { return func(c *Client) { c.policy = p } }

// WithAudit sets the audit emitter.
func WithAudit(e *audit.Emitter) Option { return func(c *Client) { c.audit = e } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = logging.OrNop(l) } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

// WithAttemptTimeout bounds each fetch attempt. Zero means no per-attempt bound.
func WithAttemptTimeout(d time.Duration) Option { return func(c *Client) { c.attemptTimeout = d } }

// WithClock replaces the sleep and time functions (tests).
func WithClock(sleep func(context.Context, time.Duration) error, now func() time.Time) Option {
	return func(c *Client) {
		c.sleep = sleep
		c.now = now
	}
}

// NewClient creates a Client over source.
func NewClient(source ClaimsSource, opts ...Option) *Client {
	c := &Client{
		source: source,
		policy: retry.DefaultPolicy(),
		logger: zap.NewNop(),
		sleep:  retry.SleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract returns the validated claim claimID or a typed error from apperr.
// A call never returns a partially populated record, and emits exactly one
// terminal audit event plus one event per retry.
func (c *Client) Extract(ctx context.Context, claimID string, creds model.Credentials) (model.ClaimRecord, error) {
	start := c.now()
	if creds.UserID != "" {
		ctx = audit.WithUserID(ctx, creds.UserID)
	}
	log := c.logger.With(zap.String("claim_id", claimID), zap.String("user_id", creds.UserID))

	if !schema.IdentifierPattern().MatchString(claimID) {
		// The raw id may be hostile; it is not echoed back.
		err := apperr.NewInvalidInput("claim_id", schema.IssueFormatViolation, "1-64 characters of [A-Za-z0-9_-]", fmt.Sprintf("%d characters", len(claimID)))
		return model.ClaimRecord{}, c.finish(ctx, log, "", start, err)
	}

	if err := ctx.Err(); err != nil {
		return model.ClaimRecord{}, c.finish(ctx, log, claimID, start, &apperr.Cancelled{Operation: "extract " + claimID, Cause: err})
	}

	session, err := c.source.Authenticate(ctx, creds)
	if err != nil {
		if ctx.Err() != nil {
			return model.ClaimRecord{}, c.finish(ctx, log, claimID, start, &apperr.Cancelled{Operation: "extract " + claimID, Cause: ctx.Err()})
		}
		return model.ClaimRecord{}, c.finish(ctx, log, claimID, start, authFailure(creds.UserID, err))
	}

	var raw map[string]any
	runner := &retry.Runner{
		Policy: c.policy,
		Sleep:  c.sleep,
		Now:    c.now,
		OnAttempt: func(s retry.State) {
			c.metrics.IncAttempt()
			log.Info("fetch attempt",
				zap.Int("attempt", s.Attempt),
				zap.Int("max_attempts", s.MaxAttempts),
				zap.Time("at", c.now().UTC()),
			)
		},
		OnRetry: func(s retry.State, delay time.Duration) {
			c.metrics.IncRetry("extract")
			log.Warn("transient fetch failure, retrying",
				zap.Int("attempt", s.Attempt),
				zap.Duration("delay", delay),
				zap.Time("at", c.now().UTC()),
				zap.Error(s.LastError),
			)
			c.audit.Emit(ctx, audit.Event{
				Action:  audit.ActionRetry,
				ClaimID: claimID,
				Result:  audit.ResultRetry,
				Reason:  string(s.LastClass),
				Attempt: s.Attempt,
				DelayMS: delay.Milliseconds(),
			})
		},
	}

	state, err := runner.Run(ctx, func(ctx context.Context, attempt int) error {
		if c.attemptTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
			defer cancel()
		}
		rec, err := session.Fetch(ctx, claimID)
		if err != nil {
			return c.fetchFailure(claimID, creds.UserID, err)
		}
		raw = rec
		return nil
	})
	if err != nil {
		switch {
		case state.LastClass == retry.ClassCancelled || ctx.Err() != nil:
			cause := ctx.Err()
			if cause == nil {
				cause = err
			}
			err = &apperr.Cancelled{Operation: "extract " + claimID, Cause: cause}
		case state.Exhausted:
			err = &apperr.NetworkFailureExhausted{
				ClaimID:  claimID,
				Attempts: state.Attempt,
				Elapsed:  c.now().Sub(start),
				Last:     err,
			}
		case apperr.KindOf(err) == apperr.KindInternal:
			err = fmt.Errorf("extract %s: %w", claimID, err)
		}
		return model.ClaimRecord{}, c.finish(ctx, log, claimID, start, err)
	}

	if verrs := validateRecord(claimID, raw); len(verrs) > 0 {
		return model.ClaimRecord{}, c.finish(ctx, log, claimID, start, &apperr.ValidationFailed{ClaimID: claimID, Errors: verrs})
	}

	rec, err := schema.DecodeClaim(raw)
	if err != nil {
		return model.ClaimRecord{}, c.finish(ctx, log, claimID, start, fmt.Errorf("extract %s: %w", claimID, err))
	}

	return rec, c.finish(ctx, log, claimID, start, nil)
}

// validateRecord checks raw against the claim schema and that the system
// returned the claim that was asked for.
func validateRecord(claimID string, raw map[string]any) []schema.ValidationError {
	verrs := schema.Validate(raw, schema.ClaimSchema())
	if len(verrs) > 0 {
		return verrs
	}
	if got := raw["claim_id"].(string); got != claimID {
		return []schema.ValidationError{{
			Field:    "claim_id",
			Issue:    schema.IssueOutOfRange,
			Expected: claimID,
			Actual:   got,
			ClaimID:  claimID,
		}}
	}
	return nil
}

// fetchFailure turns a source error into the error the retry runner sees.
func (c *Client) fetchFailure(claimID, userID string, err error) error {
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNoCredentials):
		return authFailure(userID, err)
	case errors.Is(err, ErrClaimNotFound):
		return &apperr.NotFound{Resource: "claim", ID: claimID}
	case errors.Is(err, ErrMalformedRecord):
		return &apperr.ValidationFailed{ClaimID: claimID, Errors: []schema.ValidationError{{
			Field:    "(record)",
			Issue:    schema.IssueTypeMismatch,
			Expected: "JSON object",
			Actual:   "malformed body",
			ClaimID:  claimID,
		}}}
	}
	return err
}

func authFailure(userID string, err error) error {
	reason := "authentication service unavailable"
	switch {
	case errors.Is(err, ErrNoCredentials):
		reason = "no credentials supplied"
	case errors.Is(err, ErrUnauthorized):
		reason = "credentials rejected"
	}
	return &apperr.AuthenticationFailed{UserID: userID, Reason: reason, Cause: err}
}

// finish logs, meters and audits the terminal outcome, and returns err.
func (c *Client) finish(ctx context.Context, log *zap.Logger, claimID string, start time.Time, err error) error {
	elapsed := c.now().Sub(start)

	ev := audit.Event{Action: audit.ActionExtract, ClaimID: claimID, Result: audit.ResultSuccess}
	result := "success"
	if err != nil {
		kind := apperr.KindOf(err)
		ev.Result = audit.ResultFailure
		ev.Reason = string(kind)
		result = string(kind)
		log.Warn("extraction failed", zap.String("kind", result), zap.Duration("elapsed", elapsed), zap.Error(err))
	} else {
		log.Info("claim extracted", zap.Duration("elapsed", elapsed))
	}

	c.metrics.ObserveExtraction(result, elapsed)
	c.audit.Emit(ctx, ev)
	return err
}
