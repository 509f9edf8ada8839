// Package audit emits structured access and attempt events. The agent only
// emits; storage belongs to whatever sink is configured.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/claimsagent/internal/logging"
	"github.com/ppiankov/claimsagent/internal/metrics"
)

// Action names the audited operation
type Action string

const (
	ActionExtract   Action = "claim.extract"
	ActionRetry     Action = "claim.extract.retry"
	ActionRisk      Action = "model.risk_classification"
	ActionSentiment Action = "model.sentiment_analysis"
	ActionAssess    Action = "claim.assess"
)

// Result is the outcome recorded by an event
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultRetry   Result = "retry"
)

// Event is one audit record. Either ClaimID or PatientID identifies the
// subject. Reason carries an error kind, never a raw error message.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Action    Action    `json:"action"`
	ClaimID   string    `json:"claim_id,omitempty"`
	PatientID string    `json:"patient_id,omitempty"`
	Result    Result    `json:"result"`
	Reason    string    `json:"reason,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	DelayMS   int64     `json:"delay_ms,omitempty"`
}

// Sink receives audit events.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
	Name() string
}

type userKey struct{}

// WithUserID attaches the acting user to ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID returns the acting user stored in ctx, if any.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userKey{}).(string)
	return v
}

// Emitter stamps events and hands them to a sink. Delivery failures are
// logged and counted but never fail the audited operation.
type Emitter struct {
	sink    Sink
	logger  *zap.Logger
	metrics *metrics.Metrics

	now   func() time.Time
	newID func() string
}

// NewEmitter creates an Emitter. A nil sink discards events.
func NewEmitter(sink Sink, logger *zap.Logger, m *metrics.Metrics) *Emitter {
	if sink == nil {
		sink = Nop{}
	}
	return &Emitter{
		sink:    sink,
		logger:  logging.OrNop(logger),
		metrics: m,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Emit stamps ev with an id, a UTC timestamp and the context user, then
// delivers it. Cancellation of ctx does not drop the event.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = e.newID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now().UTC()
	}
	if ev.UserID == "" {
		ev.UserID = UserID(ctx)
	}

	if err := e.sink.Emit(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Warn("audit emit failed",
			zap.String("sink", e.sink.Name()),
			zap.String("action", string(ev.Action)),
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
		e.metrics.IncAuditFailure(e.sink.Name())
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }
func (Nop) Name() string                      { return "none" }
