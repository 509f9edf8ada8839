package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ppiankov/claimsagent/internal/logging"
	"github.com/ppiankov/claimsagent/internal/model"
)

// LogSink writes events to a zap logger under the "audit" name.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logging.OrNop(logger).Named("audit")}
}

func (s *LogSink) Emit(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.Time("timestamp", ev.Timestamp),
		zap.String("user_id", ev.UserID),
		zap.String("action", string(ev.Action)),
		zap.String("result", string(ev.Result)),
	}
	if ev.ClaimID != "" {
		fields = append(fields, zap.String("claim_id", ev.ClaimID))
	}
	if ev.PatientID != "" {
		fields = append(fields, zap.String("patient_id", ev.PatientID))
	}
	if ev.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Reason))
	}
	if ev.Attempt > 0 {
		fields = append(fields, zap.Int("attempt", ev.Attempt))
	}
	if ev.DelayMS > 0 {
		fields = append(fields, zap.Int64("delay_ms", ev.DelayMS))
	}
	s.logger.Info("audit event", fields...)
	return nil
}

func (s *LogSink) Name() string { return "log" }

// RedisSink appends events to a Redis stream, trimmed approximately to MaxLen.
type RedisSink struct {
	rdb    redis.Cmdable
	closer func() error
	stream string
	maxLen int64
}

// NewRedisSink connects to url and verifies the connection.
func NewRedisSink(url, stream string, maxLen int64) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	sink := NewRedisSinkFromClient(rdb, stream, maxLen)
	sink.closer = rdb.Close
	return sink, nil
}

// NewRedisSinkFromClient wraps an existing client. The caller keeps ownership.
func NewRedisSinkFromClient(rdb redis.Cmdable, stream string, maxLen int64) *RedisSink {
	return &RedisSink{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Emit(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"action": string(ev.Action),
			"result": string(ev.Result),
			"event":  payload,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

func (s *RedisSink) Name() string { return "redis" }

// Close releases the connection when the sink owns it.
func (s *RedisSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Name() string { return "memory" }

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Filter returns the recorded events for action.
func (r *Recorder) Filter(action Action) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Multi fans an event out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Name() string { return "multi" }

// Open builds the sink named by cfg.Sink: "log", "redis", "log+redis" or "none".
// The returned close function is never nil.
func Open(cfg model.AuditConfig, logger *zap.Logger) (Sink, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.Sink {
	case "", "log":
		return NewLogSink(logger), noClose, nil
	case "none":
		return Nop{}, noClose, nil
	case "redis", "log+redis":
		if cfg.RedisURL == "" {
			return nil, noClose, fmt.Errorf("audit sink %q requires audit.redis_url", cfg.Sink)
		}
		rs, err := NewRedisSink(cfg.RedisURL, cfg.Stream, cfg.MaxLen)
		if err != nil {
			return nil, noClose, err
		}
		if cfg.Sink == "redis" {
			return rs, rs.Close, nil
		}
		return Multi{NewLogSink(logger), rs}, rs.Close, nil
	}
	return nil, noClose, fmt.Errorf("unknown audit sink %q (want log, redis, log+redis or none)", cfg.Sink)
}
