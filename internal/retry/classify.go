package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/ppiankov/claimsagent/internal/apperr"
)

// Class says how a failed attempt should be treated
type Class string

const (
	ClassTransient      Class = "transient"
	ClassAuthentication Class = "authentication"
	ClassValidation     Class = "validation"
	ClassTerminal       Class = "terminal"
	ClassCancelled      Class = "cancelled"
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable regardless of its underlying type.
// Sources use it for 5xx and 429 responses.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Classify maps an attempt error onto a Class. Typed errors are checked
// first; message matching is the fallback for transports that flatten
// their errors into strings.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}

	var te *transientError
	if errors.As(err, &te) {
		return ClassTransient
	}

	switch apperr.KindOf(err) {
	case apperr.KindAuthenticationFailed:
		return ClassAuthentication
	case apperr.KindValidationFailed, apperr.KindInvalidInput:
		return ClassValidation
	case apperr.KindUpstreamTimeout:
		return ClassTransient
	case apperr.KindCancelled:
		return ClassCancelled
	case apperr.KindUpstreamError, apperr.KindNotFound, apperr.KindNetworkFailureExhausted:
		return ClassTerminal
	}

	// A per-attempt deadline is a timeout, not a caller cancellation; the
	// runner checks the caller's context separately.
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ClassTransient
	}
	var operr *net.OpError
	if errors.As(err, &operr) {
		return ClassTransient
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"timeout", "timed out", "connection reset", "connection refused", "temporarily unavailable", "broken pipe"} {
		if strings.Contains(msg, needle) {
			return ClassTransient
		}
	}

	return ClassTerminal
}
