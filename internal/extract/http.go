package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ppiankov/claimsagent/internal/model"
	"github.com/ppiankov/claimsagent/internal/retry"
	"github.com/ppiankov/claimsagent/internal/worker"
)

// HTTPSource talks to a claims system over HTTP:
// GET {base_url}/api/v1/claims/{claim_id} with a bearer token.
type HTTPSource struct {
	cfg        model.ClaimsConfig
	base       *url.URL
	httpClient *http.Client
	limiter    *worker.Limiter
}

// NewHTTPSource creates an HTTPSource. limiter may be nil.
func NewHTTPSource(cfg model.ClaimsConfig, limiter *worker.Limiter) (*HTTPSource, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse claims base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("claims base url must be http or https, got %q", cfg.BaseURL)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = proxyFunc(cfg)

	return &HTTPSource{
		cfg:  cfg,
		base: base,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		limiter: limiter,
	}, nil
}

// Authenticate builds a token source from creds. A bearer token is used as
// is; a client id and secret go through the OAuth2 client-credentials flow
// against cfg.TokenURL, and the token is fetched eagerly so a rejected
// secret fails here rather than on the first fetch.
func (s *HTTPSource) Authenticate(ctx context.Context, creds model.Credentials) (Session, error) {
	var ts oauth2.TokenSource

	switch {
	case creds.Token != "":
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.Token, TokenType: "Bearer"})

	case creds.ClientID != "" && creds.ClientSecret != "":
		if s.cfg.TokenURL == "" {
			return nil, fmt.Errorf("%w: client credentials need claims.token_url", ErrNoCredentials)
		}
		cc := clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     s.cfg.TokenURL,
			Scopes:       s.cfg.Scopes,
		}
		tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
		ts = cc.TokenSource(tokenCtx)
		if _, err := ts.Token(); err != nil {
			return nil, tokenError(err)
		}

	default:
		return nil, ErrNoCredentials
	}

	return &httpSession{
		source: s,
		client: &http.Client{
			Timeout:       s.httpClient.Timeout,
			CheckRedirect: s.httpClient.CheckRedirect,
			Transport: &oauth2.Transport{
				Source: oauth2.ReuseTokenSource(nil, ts),
				Base:   s.httpClient.Transport,
			},
		},
	}, nil
}

type httpSession struct {
	source *HTTPSource
	client *http.Client
}

func (h *httpSession) Fetch(ctx context.Context, claimID string) (map[string]any, error) {
	s := h.source
	target := s.base.JoinPath("api", "v1", "claims", claimID).String()

	if err := s.limiter.Wait(ctx, target); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return nil, tokenError(rerr)
		}
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrClaimNotFound, claimID)
	case isTransientStatus(resp.StatusCode):
		return nil, retry.Transient(fmt.Errorf("unexpected status: %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("read body: %w", err))
	}
	// an oversized record fails identically on every attempt
	if int64(len(body)) > s.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedRecord, s.cfg.MaxBodyBytes)
	}
	return decodeRecord(bytes.NewReader(body))
}

// decodeRecord decodes a single JSON object, keeping numbers as json.Number.
func decodeRecord(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	record, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrMalformedRecord, v)
	}
	return record, nil
}

func isTransientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

// tokenError maps a token endpoint failure. Rejections become
// ErrUnauthorized; anything else (endpoint down, timeouts) is returned as is.
// The token endpoint's response body is dropped since it may echo secrets.
func tokenError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		code := rerr.Response.StatusCode
		if code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden {
			return fmt.Errorf("%w: token endpoint returned %d", ErrUnauthorized, code)
		}
		return fmt.Errorf("token endpoint returned %d", code)
	}
	return fmt.Errorf("token: %w", err)
}

// proxyFunc uses the configured proxies, honouring no_proxy, and falls back
// to the environment when none are set.
func proxyFunc(cfg model.ClaimsConfig) func(*http.Request) (*url.URL, error) {
	if cfg.HTTPProxy == "" && cfg.HTTPSProxy == "" {
		return http.ProxyFromEnvironment
	}
	pc := &httpproxy.Config{
		HTTPProxy:  cfg.HTTPProxy,
		HTTPSProxy: cfg.HTTPSProxy,
		NoProxy:    cfg.NoProxy,
	}
	resolve := pc.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return resolve(req.URL)
	}
}
