// Package extract retrieves claims from a claims system, validates them and
// retries transient transport failures.
package extract

import (
	"context"
	"errors"

	"github.com/ppiankov/claimsagent/internal/model"
)

// Source-level failures. Sources wrap these so the client can tell an
// authentication problem from a missing record or a malformed body.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNoCredentials   = errors.New("no credentials supplied")
	ErrClaimNotFound   = errors.New("claim not found")
	ErrMalformedRecord = errors.New("record is not a JSON object")
)

// ClaimsSource is the claims system as seen by the client.
type ClaimsSource interface {
	// Authenticate exchanges credentials for a session. It is called once
	// per extraction and its failures are never retried.
	Authenticate(ctx context.Context, creds model.Credentials) (Session, error)
}

// Session is an authenticated handle on the claims system.
type Session interface {
	// Fetch returns the raw record for claimID as decoded JSON. Numbers
	// should be json.Number so amount precision survives validation.
	Fetch(ctx context.Context, claimID string) (map[string]any, error)
}
