package watttime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Credentials is the username/password pair exchanged for bearer tokens.
// The values live in memory for the life of the Client and are never logged.
type Credentials struct {
	Username string
	Password string
}

// accessToken is one issued bearer token. Replaced wholesale on refresh,
// never mutated in place.
type accessToken struct {
	value    string
	issuedAt time.Time
}

// tokenStore holds the current access token. Reads are concurrent; replacement
// is single-writer. The generation counter increments on every replacement so
// a refresher can tell whether the token its request failed with has already
// been superseded by someone else.
//
// The service does not advertise token lifetime, so no expiry is tracked here:
// expiry is discovered reactively from a failed request.
type tokenStore struct {
	mu         sync.RWMutex
	token      accessToken
	generation uint64
}

func (s *tokenStore) current() (accessToken, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.generation
}

func (s *tokenStore) replace(tok accessToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = tok
	s.generation++
}

// authenticator owns the credentials and the login handshake. The service has
// no refresh-token grant: refreshing is a full re-login with the same
// credentials, kept as a distinct entry point so the two failure paths report
// different context.
type authenticator struct {
	logger    *zap.Logger
	http      *http.Client
	baseURL   string
	creds     Credentials
	store     *tokenStore
	onRefresh func()

	refreshMu sync.Mutex
}

// login performs the credentials-for-token handshake: GET /login with HTTP
// Basic auth. A 401/403 here means the credentials themselves were rejected.
func (a *authenticator) login(ctx context.Context, phase string) (accessToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/"+endpointLogin, nil)
	if err != nil {
		return accessToken{}, err
	}
	req.SetBasicAuth(a.creds.Username, a.creds.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return accessToken{}, &TransportError{Endpoint: endpointLogin, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return accessToken{}, &TransportError{Endpoint: endpointLogin, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		class, code, detail := classifyFailure(endpointLogin, resp.StatusCode, body)
		if class == classInvalidCredentials {
			a.logger.Warn("watttime.credentials_rejected",
				zap.String("phase", phase),
				zap.Int("status", resp.StatusCode))
			return accessToken{}, &AuthenticationError{
				Phase:      phase,
				StatusCode: resp.StatusCode,
				Detail:     detail,
			}
		}
		return accessToken{}, &RequestError{
			Endpoint:   endpointLogin,
			StatusCode: resp.StatusCode,
			Code:       code,
			Detail:     detail,
			Attempts:   1,
		}
	}

	var payload loginResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return accessToken{}, fmt.Errorf("decode login response: %w", err)
	}
	if payload.Token == "" {
		return accessToken{}, fmt.Errorf("login response carried an empty token")
	}

	return accessToken{value: payload.Token, issuedAt: time.Now().UTC()}, nil
}

// authenticate runs the initial login and seeds the store.
func (a *authenticator) authenticate(ctx context.Context) error {
	tok, err := a.login(ctx, phaseLogin)
	if err != nil {
		return err
	}
	a.store.replace(tok)
	a.logger.Debug("watttime.token_issued")
	return nil
}

// refresh re-runs the login handshake unless a concurrent caller already did.
// Callers pass the store generation their failed request used; if the store
// has moved past it by the time the mutex is held, the in-progress refresh
// already finished and its token is returned without another login call.
// The store is only written after a fully successful handshake, so a failed
// or cancelled refresh leaves it untouched.
func (a *authenticator) refresh(ctx context.Context, seenGeneration uint64) (accessToken, error) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	if tok, gen := a.store.current(); gen != seenGeneration {
		a.logger.Debug("watttime.refresh_coalesced")
		return tok, nil
	}

	tok, err := a.login(ctx, phaseRefresh)
	if err != nil {
		return accessToken{}, err
	}
	a.store.replace(tok)
	a.logger.Info("watttime.token_refreshed")
	if a.onRefresh != nil {
		a.onRefresh()
	}
	return tok, nil
}
