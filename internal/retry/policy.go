// Package retry implements the transient-failure retry state machine shared
// by the extraction and inference clients.
//
// A sequence moves Pending -> Attempting -> Succeeded, or
// Attempting -> TransientFailure -> Attempting (retry), ending in
// TerminalFailure when the error is not retryable or the budget is spent.
package retry

import (
	"errors"
	"time"
)

// Phase is a state of a retry sequence
type Phase string

const (
	PhasePending          Phase = "pending"
	PhaseAttempting       Phase = "attempting"
	PhaseSucceeded        Phase = "succeeded"
	PhaseTransientFailure Phase = "transient_failure"
	PhaseTerminalFailure  Phase = "terminal_failure"
)

// Policy bounds a retry sequence.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxElapsed  time.Duration
}

// DefaultPolicy allows 3 attempts, 2s base delay and a 30s ceiling.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxElapsed:  30 * time.Second,
	}
}

// normalized fills zero values from DefaultPolicy.
func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = def.MaxElapsed
	}
	return p
}

// ErrInvalidTransition is returned when a State is driven out of order.
var ErrInvalidTransition = errors.New("invalid retry state transition")

// State is the call-scoped record of one retry sequence. It is never shared
// between calls.
type State struct {
	Attempt     int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxElapsed  time.Duration
	Elapsed     time.Duration
	LastError   error
	LastClass   Class
	Phase       Phase

	// Exhausted is set when the sequence ended on a transient failure
	// because the attempt or time budget ran out.
	Exhausted bool
}

// NewState starts a sequence in PhasePending.
func NewState(p Policy) *State {
	p = p.normalized()
	return &State{
		MaxAttempts: p.MaxAttempts,
		BaseDelay:   p.BaseDelay,
		MaxElapsed:  p.MaxElapsed,
		Phase:       PhasePending,
	}
}

// Begin starts the next attempt.
func (s *State) Begin() error {
	if s.Phase != PhasePending && s.Phase != PhaseTransientFailure {
		return ErrInvalidTransition
	}
	s.Attempt++
	s.Phase = PhaseAttempting
	return nil
}

// Succeed ends the sequence successfully.
func (s *State) Succeed() error {
	if s.Phase != PhaseAttempting {
		return ErrInvalidTransition
	}
	s.Phase = PhaseSucceeded
	s.LastError = nil
	s.LastClass = ""
	return nil
}

// Fail records the outcome of a failed attempt. Transient failures leave the
// sequence open for a retry; everything else is terminal.
func (s *State) Fail(err error, class Class) error {
	if s.Phase != PhaseAttempting {
		return ErrInvalidTransition
	}
	s.LastError = err
	s.LastClass = class
	if class == ClassTransient {
		s.Phase = PhaseTransientFailure
	} else {
		s.Phase = PhaseTerminalFailure
	}
	return nil
}

// Exhaust closes a sequence whose transient failure will not be retried.
func (s *State) Exhaust() error {
	if s.Phase != PhaseTransientFailure {
		return ErrInvalidTransition
	}
	s.Phase = PhaseTerminalFailure
	s.Exhausted = true
	return nil
}

// Abort closes the sequence from any non-terminal phase (cancellation).
func (s *State) Abort(err error) {
	if s.Phase == PhaseSucceeded || s.Phase == PhaseTerminalFailure {
		return
	}
	s.LastError = err
	s.LastClass = ClassCancelled
	s.Phase = PhaseTerminalFailure
}

// Done reports whether the sequence reached a terminal phase.
func (s *State) Done() bool {
	return s.Phase == PhaseSucceeded || s.Phase == PhaseTerminalFailure
}

// ShouldRetry reports whether another attempt is allowed: the last attempt
// failed transiently, attempts remain and the elapsed ceiling is not passed.
func ShouldRetry(s State) bool {
	if s.Phase != PhaseTransientFailure {
		return false
	}
	if s.Attempt >= s.MaxAttempts {
		return false
	}
	return s.Elapsed <= s.MaxElapsed
}

// maxShift keeps the doubling from overflowing time.Duration.
const maxShift = 30

// NextDelay returns the wait before the attempt following s.Attempt:
// zero before the first attempt, then BaseDelay doubled per failed attempt
// (2s, 4s, 8s with the default policy).
func NextDelay(s State) time.Duration {
	if s.Attempt <= 0 {
		return 0
	}
	shift := s.Attempt - 1
	if shift > maxShift {
		shift = maxShift
	}
	return s.BaseDelay * time.Duration(1<<shift)
}
