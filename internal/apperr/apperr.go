// Package apperr defines the terminal error taxonomy returned by the
// extraction and inference clients. Every error carries a Kind so callers
// (the HTTP API, the CLI, metrics) can branch without string matching.
// Messages name the claim, patient or field involved and never include
// credential material.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ppiankov/claimsagent/internal/schema"
)

// Kind is the machine-readable error class
type Kind string

const (
	KindValidationFailed        Kind = "validation_failed"
	KindAuthenticationFailed    Kind = "authentication_failed"
	KindNetworkFailureExhausted Kind = "network_failure_exhausted"
	KindInvalidInput            Kind = "invalid_input"
	KindUpstreamTimeout         Kind = "upstream_timeout"
	KindUpstreamError           Kind = "upstream_error"
	KindCancelled               Kind = "cancelled"
	KindNotFound                Kind = "not_found"
	KindInternal                Kind = "internal"
)

// Error is implemented by every error in this package.
type Error interface {
	error
	Kind() Kind
}

// ValidationFailed means a fetched claim did not conform to the claim schema.
type ValidationFailed struct {
	ClaimID string
	Errors  []schema.ValidationError
}

func (e *ValidationFailed) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("claim %s failed validation", e.ClaimID)
	}
	return fmt.Sprintf("claim %s failed validation with %d violation(s): %s", e.ClaimID, len(e.Errors), e.Errors[0])
}

func (e *ValidationFailed) Kind() Kind { return KindValidationFailed }

// AuthenticationFailed means the claims system rejected the caller.
// Cause is kept for errors.Is checks but is not rendered in Error.
type AuthenticationFailed struct {
	UserID string
	Reason string
	Cause  error
}

func (e *AuthenticationFailed) Error() string {
	user := e.UserID
	if user == "" {
		user = "anonymous"
	}
	if e.Reason == "" {
		return fmt.Sprintf("authentication failed for user %q", user)
	}
	return fmt.Sprintf("authentication failed for user %q: %s", user, e.Reason)
}

func (e *AuthenticationFailed) Kind() Kind    { return KindAuthenticationFailed }
func (e *AuthenticationFailed) Unwrap() error { return e.Cause }

// NetworkFailureExhausted means every allowed attempt failed transiently.
type NetworkFailureExhausted struct {
	ClaimID  string
	Attempts int
	Elapsed  time.Duration
	Last     error
}

func (e *NetworkFailureExhausted) Error() string {
	return fmt.Sprintf("claim %s: giving up after %d attempt(s) in %s: %v",
		e.ClaimID, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Last)
}

func (e *NetworkFailureExhausted) Kind() Kind    { return KindNetworkFailureExhausted }
func (e *NetworkFailureExhausted) Unwrap() error { return e.Last }

// InvalidInput means a model request failed local validation. No network
// call was made.
type InvalidInput struct {
	PatientID string
	Errors    []schema.ValidationError
}

func (e *InvalidInput) Error() string {
	subject := "request"
	if e.PatientID != "" {
		subject = "request for patient " + e.PatientID
	}
	if len(e.Errors) == 0 {
		return "invalid " + subject
	}
	return fmt.Sprintf("invalid %s: %s", subject, e.Errors[0])
}

func (e *InvalidInput) Kind() Kind { return KindInvalidInput }

// NewInvalidInput builds an InvalidInput for a single field.
func NewInvalidInput(field string, issue schema.Issue, expected, actual string) *InvalidInput {
	return &InvalidInput{Errors: []schema.ValidationError{{
		Field:    field,
		Issue:    issue,
		Expected: expected,
		Actual:   actual,
	}}}
}

// UpstreamTimeout means a model call did not complete in time or hit a
// transient upstream failure. It may be retried.
type UpstreamTimeout struct {
	Operation string
	Cause     error
}

func (e *UpstreamTimeout) Error() string {
	return fmt.Sprintf("%s: upstream timeout: %v", e.Operation, e.Cause)
}

func (e *UpstreamTimeout) Kind() Kind    { return KindUpstreamTimeout }
func (e *UpstreamTimeout) Unwrap() error { return e.Cause }

// UpstreamError is a non-transient model failure. It is never retried.
type UpstreamError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: upstream returned %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: upstream error: %s", e.Operation, e.Message)
}

func (e *UpstreamError) Kind() Kind { return KindUpstreamError }

// UpstreamStatus exposes the HTTP status for diagnostics.
func (e *UpstreamError) UpstreamStatus() int { return e.StatusCode }

// Cancelled means the caller's context ended before a result was produced.
type Cancelled struct {
	Operation string
	Cause     error
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("%s: cancelled: %v", e.Operation, e.Cause)
}

func (e *Cancelled) Kind() Kind    { return KindCancelled }
func (e *Cancelled) Unwrap() error { return e.Cause }

// NotFound means the claims system has no record with the requested id.
type NotFound struct {
	Resource string
	ID       string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFound) Kind() Kind { return KindNotFound }

// KindOf returns the Kind of the first error in err's chain that has one.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae Error
	if errors.As(err, &ae) {
		return ae.Kind()
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the status code used by the API.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidationFailed, KindInvalidInput:
		return http.StatusBadRequest
	case KindAuthenticationFailed:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindNetworkFailureExhausted:
		return http.StatusServiceUnavailable
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamError:
		return http.StatusBadGateway
	case KindCancelled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// Details returns the structured body that accompanies an error kind in API
// responses. Validation-style errors expose the first violation at the top
// level (field, expected, actual) and the full list under "errors".
func Details(err error) map[string]any {
	var (
		vf *ValidationFailed
		ii *InvalidInput
		ne *NetworkFailureExhausted
		ue *UpstreamError
		nf *NotFound
		af *AuthenticationFailed
	)

	switch {
	case errors.As(err, &vf):
		d := violationDetails(vf.Errors)
		d["claim_id"] = vf.ClaimID
		return d
	case errors.As(err, &ii):
		d := violationDetails(ii.Errors)
		if ii.PatientID != "" {
			d["patient_id"] = ii.PatientID
		}
		return d
	case errors.As(err, &ne):
		return map[string]any{
			"claim_id":   ne.ClaimID,
			"attempts":   ne.Attempts,
			"elapsed_ms": ne.Elapsed.Milliseconds(),
		}
	case errors.As(err, &ue):
		return map[string]any{"status_code": ue.StatusCode, "message": ue.Message}
	case errors.As(err, &nf):
		return map[string]any{"resource": nf.Resource, "id": nf.ID}
	case errors.As(err, &af):
		if af.Reason != "" {
			return map[string]any{"reason": af.Reason}
		}
	}
	return map[string]any{}
}

func violationDetails(errs []schema.ValidationError) map[string]any {
	d := map[string]any{"errors": errs}
	if len(errs) > 0 {
		d["field"] = errs[0].Field
		d["issue"] = errs[0].Issue
		d["expected"] = errs[0].Expected
		d["actual"] = errs[0].Actual
	}
	return d
}
