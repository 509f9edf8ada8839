package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ppiankov/claimsagent/internal/model"
)

// MemorySource is an in-process claims system. It serves fixture files for
// the CLI and doubles as the scripted fake in tests: failures can be queued
// per claim and call counts inspected afterwards.
type MemorySource struct {
	mu       sync.Mutex
	records  map[string]map[string]any
	tokens   map[string]string
	failures map[string][]error
	authErr  error
	latency  time.Duration

	authCalls  int
	fetchCalls map[string]int
}

// NewMemorySource creates an empty source. Until AcceptToken is called any
// non-empty token or client id/secret pair authenticates.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		records:    make(map[string]map[string]any),
		tokens:     make(map[string]string),
		failures:   make(map[string][]error),
		fetchCalls: make(map[string]int),
	}
}

// Put stores a raw record under claimID.
func (m *MemorySource) Put(claimID string, record map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[claimID] = record
}

// PutJSON stores a record given as JSON object text.
func (m *MemorySource) PutJSON(claimID, raw string) error {
	record, err := decodeRecord(bytes.NewBufferString(raw))
	if err != nil {
		return err
	}
	m.Put(claimID, record)
	return nil
}

// LoadFile reads fixtures from a JSON file holding either an array of claim
// objects or an object of claim id -> claim object.
func (m *MemorySource) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read fixtures: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("parse fixtures %s: %w", path, err)
	}

	n := 0
	switch t := v.(type) {
	case []any:
		for i, item := range t {
			record, ok := item.(map[string]any)
			if !ok {
				return n, fmt.Errorf("fixture %d is not an object", i)
			}
			id, ok := record["claim_id"].(string)
			if !ok || id == "" {
				return n, fmt.Errorf("fixture %d has no claim_id", i)
			}
			m.Put(id, record)
			n++
		}
	case map[string]any:
		for id, item := range t {
			record, ok := item.(map[string]any)
			if !ok {
				return n, fmt.Errorf("fixture %q is not an object", id)
			}
			m.Put(id, record)
			n++
		}
	default:
		return 0, fmt.Errorf("fixtures %s: want an array or object, got %T", path, v)
	}
	return n, nil
}

// AcceptToken registers a valid bearer token for userID. Once any token is
// registered, unknown tokens are rejected.
func (m *MemorySource) AcceptToken(token, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = userID
}

// FailAuth makes every Authenticate call return err.
func (m *MemorySource) FailAuth(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authErr = err
}

// FailNext queues errors returned by the next fetches of claimID, in order.
func (m *MemorySource) FailNext(claimID string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[claimID] = append(m.failures[claimID], errs...)
}

// SetLatency delays every fetch by d (respecting cancellation).
func (m *MemorySource) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// AuthCalls returns how many times Authenticate ran.
func (m *MemorySource) AuthCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authCalls
}

// FetchCalls returns how many fetches of claimID ran.
func (m *MemorySource) FetchCalls(claimID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls[claimID]
}

func (m *MemorySource) Authenticate(ctx context.Context, creds model.Credentials) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authCalls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.authErr != nil {
		return nil, m.authErr
	}

	switch {
	case creds.Token != "":
		if len(m.tokens) > 0 {
			if _, ok := m.tokens[creds.Token]; !ok {
				return nil, fmt.Errorf("%w: unknown token", ErrUnauthorized)
			}
		}
	case creds.ClientID != "" && creds.ClientSecret != "":
		if len(m.tokens) > 0 {
			return nil, fmt.Errorf("%w: client credentials not accepted", ErrUnauthorized)
		}
	default:
		return nil, ErrNoCredentials
	}
	return &memorySession{source: m}, nil
}

type memorySession struct {
	source *MemorySource
}

func (s *memorySession) Fetch(ctx context.Context, claimID string) (map[string]any, error) {
	m := s.source

	m.mu.Lock()
	m.fetchCalls[claimID]++
	latency := m.latency
	var scripted error
	if queue := m.failures[claimID]; len(queue) > 0 {
		scripted = queue[0]
		m.failures[claimID] = queue[1:]
	}
	record, found := m.records[claimID]
	m.mu.Unlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	if scripted != nil {
		return nil, scripted
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrClaimNotFound, claimID)
	}
	return copyRecord(record), nil
}

// copyRecord deep-copies so callers cannot mutate stored fixtures.
func copyRecord(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyRecord(t)
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = copyValue(item)
		}
		return items
	case []string:
		return append([]string(nil), t...)
	}
	return v
}
