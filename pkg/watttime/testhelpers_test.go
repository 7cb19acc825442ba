package watttime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// expiredTokenPage mimics the HTML page the fronting proxy serves once a
// bearer token has lapsed: a bare 403 with no JSON envelope.
const expiredTokenPage = `<html>
<head><title>403 Forbidden</title></head>
<body><center><h1>403 Forbidden</h1></center><hr><center>nginx</center></body>
</html>`

// realtimeBody is a canonical /index response.
const realtimeBody = `{"freq": "300", "ba": "CAISO_NORTH", "percent": "53", "moer": "850.743982", "point_time": "2019-01-29T14:55:00.00Z"}`

// fastPolicy keeps retry waits negligible in tests that don't measure them.
var fastPolicy = RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Millisecond}

// writeJSON encodes v as JSON into w.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic("test helper writeJSON: " + err.Error())
	}
}

// tokenIssuer plays the login endpoint: it hands out sequentially numbered
// tokens, counts login calls, and can revoke everything issued so far to
// simulate server-side token expiry.
type tokenIssuer struct {
	logins  atomic.Int32
	revoked atomic.Int32
}

func (ti *tokenIssuer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := r.BasicAuth(); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]string{"error": "No username or password supplied"})
		return
	}
	writeJSON(w, map[string]string{"token": ti.token(int(ti.logins.Add(1)))})
}

func (ti *tokenIssuer) token(n int) string { return fmt.Sprintf("token-%d", n) }

func (ti *tokenIssuer) loginCount() int { return int(ti.logins.Load()) }

// revokeCurrent expires every token issued so far; the next login issues a
// fresh, valid one.
func (ti *tokenIssuer) revokeCurrent() { ti.revoked.Store(ti.logins.Load()) }

// guard writes the proxy expiry page and reports false when r carries a
// missing, stale, or revoked bearer token.
func (ti *tokenIssuer) guard(w http.ResponseWriter, r *http.Request) bool {
	issued := int(ti.logins.Load())
	for n := int(ti.revoked.Load()) + 1; n <= issued; n++ {
		if r.Header.Get("Authorization") == "Bearer "+ti.token(n) {
			return true
		}
	}
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(expiredTokenPage))
	return false
}

// upstream stubs the whole API: /login goes to the issuer, every other path
// through the bearer guard to the data handler. Data attempts are counted and
// timestamped before the guard runs, so rejected attempts are included.
type upstream struct {
	http.Handler
	issuer   *tokenIssuer
	attempts atomic.Int32

	mu    sync.Mutex
	times []time.Time
}

func newUpstream(data http.HandlerFunc) *upstream {
	up := &upstream{issuer: &tokenIssuer{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/"+endpointLogin, up.issuer.handleLogin)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		up.attempts.Add(1)
		up.mu.Lock()
		up.times = append(up.times, time.Now())
		up.mu.Unlock()
		if !up.issuer.guard(w, r) {
			return
		}
		data(w, r)
	})
	up.Handler = mux
	return up
}

func (up *upstream) attemptCount() int { return int(up.attempts.Load()) }

func (up *upstream) attemptTimes() []time.Time {
	up.mu.Lock()
	defer up.mu.Unlock()
	return append([]time.Time(nil), up.times...)
}

// serveRealtime writes the canonical /index body.
func serveRealtime(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(realtimeBody))
}

// serveExpired writes the proxy expiry page regardless of the bearer carried.
func serveExpired(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(expiredTokenPage))
}

// newTestClient builds an unauthenticated Client against handler, wired with a
// fast retry policy. opts append to — and may override — the defaults.
func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	base := []Option{
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithRetryPolicy(fastPolicy),
	}
	return NewClient("user", "password", append(base, opts...)...)
}

// loginTestClient is newTestClient plus the initial handshake.
func loginTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	c := newTestClient(t, handler, opts...)
	require.NoError(t, c.auth.authenticate(context.Background()))
	return c
}
