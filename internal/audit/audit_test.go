package audit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/ppiankov/claimsagent/internal/logging"
	"github.com/ppiankov/claimsagent/internal/model"
)

type failingSink struct{}

func (failingSink) Emit(context.Context, Event) error { return errors.New("sink down") }
func (failingSink) Name() string                      { return "failing" }

func TestEmitter_StampsEvents(t *testing.T) {
	rec := &Recorder{}
	e := NewEmitter(rec, nil, nil)
	e.now = func() time.Time { return time.Date(2024, 1, 15, 10, 0, 0, 0, time.FixedZone("EST", -5*3600)) }

	ctx := WithUserID(context.Background(), "dr-smith")
	e.Emit(ctx, Event{Action: ActionExtract, ClaimID: "CLM001", Result: ResultSuccess})

	events := rec.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "dr-smith", ev.UserID)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())
	assert.Equal(t, 15, ev.Timestamp.Hour())
}

func TestEmitter_SurvivesCancelledContext(t *testing.T) {
	rec := &Recorder{}
	e := NewEmitter(rec, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Emit(ctx, Event{Action: ActionExtract, Result: ResultFailure, Reason: "cancelled"})

	assert.Len(t, rec.Events(), 1)
}

func TestEmitter_SinkFailureIsLoggedNotReturned(t *testing.T) {
	logger, logs := logging.NewObserved(zapcore.WarnLevel)
	e := NewEmitter(failingSink{}, logger, nil)

	assert.NotPanics(t, func() {
		e.Emit(context.Background(), Event{Action: ActionRisk, Result: ResultSuccess})
	})
	assert.Equal(t, 1, logs.FilterMessage("audit emit failed").Len())
}

func TestEmitter_NilSafe(t *testing.T) {
	var e *Emitter
	assert.NotPanics(t, func() { e.Emit(context.Background(), Event{}) })
}

func TestLogSink(t *testing.T) {
	logger, logs := logging.NewObserved(zapcore.InfoLevel)
	sink := NewLogSink(logger)

	require.NoError(t, sink.Emit(context.Background(), Event{
		ID: "e1", Action: ActionRetry, ClaimID: "CLM001", Result: ResultRetry, Attempt: 2, DelayMS: 4000,
	}))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "CLM001", fields["claim_id"])
	assert.Equal(t, int64(2), fields["attempt"])
	assert.Equal(t, int64(4000), fields["delay_ms"])
	assert.NotContains(t, fields, "patient_id")
}

func TestMulti_JoinsErrors(t *testing.T) {
	rec := &Recorder{}
	err := Multi{rec, failingSink{}}.Emit(context.Background(), Event{Action: ActionExtract})
	assert.ErrorContains(t, err, "failing: sink down")
	assert.Len(t, rec.Events(), 1)
}

func TestRecorder_Filter(t *testing.T) {
	rec := &Recorder{}
	_ = rec.Emit(context.Background(), Event{Action: ActionRetry})
	_ = rec.Emit(context.Background(), Event{Action: ActionExtract})
	_ = rec.Emit(context.Background(), Event{Action: ActionRetry})

	assert.Len(t, rec.Filter(ActionRetry), 2)
	rec.Reset()
	assert.Empty(t, rec.Events())
}

func TestOpen(t *testing.T) {
	sink, closeFn, err := Open(model.AuditConfig{Sink: "none"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "none", sink.Name())
	assert.NoError(t, closeFn())

	_, _, err = Open(model.AuditConfig{Sink: "redis"}, nil)
	assert.ErrorContains(t, err, "redis_url")

	_, _, err = Open(model.AuditConfig{Sink: "kafka"}, nil)
	assert.Error(t, err)
}

// TestRedisSink_Integration needs a reachable Redis; set CLAIMSAGENT_REDIS_URL to run it.
func TestRedisSink_Integration(t *testing.T) {
	url := os.Getenv("CLAIMSAGENT_REDIS_URL")
	if url == "" {
		t.Skip("CLAIMSAGENT_REDIS_URL not set")
	}

	stream := "claimsagent:audit:test:" + time.Now().Format("150405.000000")
	sink, err := NewRedisSink(url, stream, 100)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Emit(context.Background(), Event{ID: "e1", Action: ActionExtract, Result: ResultSuccess}))

	n, err := sink.rdb.XLen(context.Background(), stream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_ = sink.rdb.Del(context.Background(), stream).Err()
}
