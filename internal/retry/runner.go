package retry

import (
	"context"
	"time"
)

// Runner drives a retry sequence for one operation.
// Sleep, Now and Classify are injectable so tests run without real delays.
type Runner struct {
	Policy Policy

	Sleep    func(ctx context.Context, d time.Duration) error
	Now      func() time.Time
	Classify func(error) Class

	// OnAttempt runs before each attempt with the state in PhaseAttempting.
	OnAttempt func(s State)

	// OnRetry runs after a transient failure, before the delay is awaited.
	OnRetry func(s State, delay time.Duration)
}

// NewRunner returns a Runner with real time and the default classifier.
func NewRunner(p Policy) *Runner {
	return &Runner{Policy: p}
}

// Run calls fn until it succeeds, fails terminally, exhausts the policy or
// ctx ends. The returned error is the last attempt error (or the context
// error when cancelled); the State says which of those happened.
func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context, attempt int) error) (*State, error) {
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	classify := r.Classify
	if classify == nil {
		classify = Classify
	}

	s := NewState(r.Policy)
	start := now()

	for {
		if err := ctx.Err(); err != nil {
			s.Abort(err)
			return s, err
		}

		_ = s.Begin()
		if r.OnAttempt != nil {
			r.OnAttempt(*s)
		}

		err := fn(ctx, s.Attempt)
		s.Elapsed = now().Sub(start)
		if err == nil {
			_ = s.Succeed()
			return s, nil
		}

		if ctx.Err() != nil {
			s.Abort(ctx.Err())
			return s, ctx.Err()
		}

		class := classify(err)
		_ = s.Fail(err, class)
		if class != ClassTransient {
			return s, err
		}

		if !ShouldRetry(*s) {
			_ = s.Exhaust()
			return s, err
		}

		delay := NextDelay(*s)
		if r.OnRetry != nil {
			r.OnRetry(*s, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			s.Abort(err)
			return s, err
		}
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
