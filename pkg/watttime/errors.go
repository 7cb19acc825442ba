package watttime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Classified error codes carried by RequestError. The body signatures they are
// derived from come straight from the service's documented error responses;
// the classification tests pin them.
const (
	CodeInvalidScope         = "invalid_scope"
	CodeUsernameTaken        = "username_taken"
	CodeCoordinatesNotFound  = "coordinates_not_found"
	CodeRetryBudgetExhausted = "retry_budget_exhausted"
	CodeAPIError             = "api_error"
)

// InvalidParameterError reports a malformed or contradictory parameter set.
// It is raised before any network activity and never retried.
type InvalidParameterError struct {
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return "watttime: invalid parameters: " + e.Reason
}

// AuthenticationError reports rejected credentials. Phase distinguishes the
// initial login handshake from a mid-session refresh, since the two surface to
// very different callers. Never retried: retrying unmodified rejected
// credentials cannot succeed.
type AuthenticationError struct {
	Phase      string
	StatusCode int
	Detail     string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("watttime: authentication rejected during %s (status %d): %s",
		e.Phase, e.StatusCode, e.Detail)
}

// RequestError reports a non-auth API failure, including a retry budget spent
// on persistent token expiry. It carries the upstream status and detail plus
// the number of sends the executor made for the logical request.
type RequestError struct {
	Endpoint   string
	StatusCode int
	Code       string
	Detail     string
	Attempts   int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("watttime: %s request failed after %d attempt(s): status %d (%s): %s",
		e.Endpoint, e.Attempts, e.StatusCode, e.Code, e.Detail)
}

// TransportError reports a network-level failure: connection refused, timeout,
// a broken response body. It is never reinterpreted as an authentication
// failure and never retried.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("watttime: %s request transport failure: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// responseClass is the executor's verdict on a non-2xx response.
type responseClass int

const (
	// classAuthExpired marks the one failure the executor self-heals:
	// a stale bearer token. Refresh and reissue.
	classAuthExpired responseClass = iota
	// classInvalidCredentials marks a 401/403 from the login endpoint itself.
	classInvalidCredentials
	// classTerminal marks everything else: surfaced immediately, no retry.
	classTerminal
)

// apiError is the JSON envelope the service uses for most failures. Expired
// tokens usually come back as an HTML page from the fronting proxy instead.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classifyFailure maps a non-2xx response onto a class plus the code/detail
// pair for the resulting error. The service overloads 401/403: scope
// restrictions arrive as JSON mentioning the API scope while an expired token
// does not, so the body decides, not the status alone.
func classifyFailure(endpoint string, status int, body []byte) (responseClass, string, string) {
	detail := errorDetail(body)
	lower := strings.ToLower(detail)

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		switch {
		case endpoint == endpointLogin:
			return classInvalidCredentials, "", detail
		case strings.Contains(lower, "scope"):
			return classTerminal, CodeInvalidScope, detail
		default:
			return classAuthExpired, "", detail
		}
	}

	switch {
	case strings.Contains(lower, "username is taken"):
		return classTerminal, CodeUsernameTaken, detail
	case strings.Contains(lower, "coordinates"):
		return classTerminal, CodeCoordinatesNotFound, detail
	default:
		return classTerminal, CodeAPIError, detail
	}
}

// errorDetail extracts a printable message from an error body, which may be
// the JSON envelope or a raw HTML/text page.
func errorDetail(body []byte) string {
	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error != "" {
			return envelope.Error
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	return detail
}
