package watttime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds the executor's reaction to token expiry. MaxAttempts
// counts total sends of one logical request, so MaxAttempts=3 means an initial
// attempt plus at most two re-authenticated retries. Delay is slept before
// each re-authentication.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy is applied when no policy is supplied at construction.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: time.Second}

// authMode selects how a request is authenticated.
type authMode int

const (
	authBearer authMode = iota
	authNone
)

// requestSpec fully describes one logical API call. The *http.Request is
// rebuilt from it on every attempt because the attached token can change
// between attempts.
type requestSpec struct {
	method string
	path   string
	query  url.Values
	body   any
	auth   authMode
}

// executor drives the retry state machine around the shared transport: issue,
// classify, and on token expiry delay + refresh + reissue until the budget is
// spent. Only auth expiry is retried — every other failure is terminal on
// first sight, so malformed requests and upstream outages are never masked by
// blind retries.
type executor struct {
	logger  *zap.Logger
	http    *http.Client
	baseURL string
	auth    *authenticator
	store   *tokenStore
	policy  RetryPolicy
}

// execute sends the request described by spec, decoding the JSON response into
// out (which may be nil when the body is irrelevant).
func (e *executor) execute(ctx context.Context, spec requestSpec, out any) error {
	for attempt := 1; ; attempt++ {
		tok, generation := e.store.current()

		req, err := e.buildRequest(ctx, spec, tok)
		if err != nil {
			return err
		}

		resp, err := e.http.Do(req)
		if err != nil {
			return &TransportError{Endpoint: spec.path, Err: err}
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close() //nolint:errcheck
		if err != nil {
			return &TransportError{Endpoint: spec.path, Err: err}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode %s response: %w", spec.path, err)
			}
			return nil
		}

		class, code, detail := classifyFailure(spec.path, resp.StatusCode, body)
		switch class {
		case classAuthExpired:
			if attempt >= e.policy.MaxAttempts {
				e.logger.Warn("watttime.retry_budget_exhausted",
					zap.String("endpoint", spec.path),
					zap.Int("attempts", attempt))
				return &RequestError{
					Endpoint:   spec.path,
					StatusCode: resp.StatusCode,
					Code:       CodeRetryBudgetExhausted,
					Detail:     detail,
					Attempts:   attempt,
				}
			}
			e.logger.Debug("watttime.token_expired",
				zap.String("endpoint", spec.path),
				zap.Int("attempt", attempt))
			// The delay comes before the refresh: a cancellation while we
			// wait must leave the stored token exactly as this attempt saw it.
			if err := sleep(ctx, e.policy.Delay); err != nil {
				return err
			}
			if _, err := e.auth.refresh(ctx, generation); err != nil {
				return err
			}
		case classInvalidCredentials:
			return &AuthenticationError{
				Phase:      phaseLogin,
				StatusCode: resp.StatusCode,
				Detail:     detail,
			}
		default:
			return &RequestError{
				Endpoint:   spec.path,
				StatusCode: resp.StatusCode,
				Code:       code,
				Detail:     detail,
				Attempts:   attempt,
			}
		}
	}
}

func (e *executor) buildRequest(ctx context.Context, spec requestSpec, tok accessToken) (*http.Request, error) {
	target := e.baseURL + "/" + spec.path
	if len(spec.query) > 0 {
		target += "?" + spec.query.Encode()
	}

	var reader io.Reader
	if spec.body != nil {
		encoded, err := json.Marshal(spec.body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, spec.method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if spec.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if spec.auth == authBearer && tok.value != "" {
		req.Header.Set("Authorization", "Bearer "+tok.value)
	}
	return req, nil
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
