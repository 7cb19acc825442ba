// Package watttime is a client for the WattTime grid emissions API. It
// exchanges username/password credentials for a short-lived bearer token and
// keeps that token fresh transparently: the service does not advertise token
// lifetime, so expiry is detected from failed requests and healed by
// re-authenticating and retrying within a bounded budget, safely under
// concurrent calls.
package watttime

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api2.watttime.org/v2"

const defaultHTTPTimeout = 30 * time.Second

const (
	endpointLogin         = "login"
	endpointRegister      = "register"
	endpointPasswordReset = "password"
	endpointGridRegion    = "ba-from-loc"
	endpointRealtime      = "index"
	endpointForecast      = "forecast"
	endpointHistorical    = "data"
)

const (
	phaseLogin   = "login"
	phaseRefresh = "refresh"
)

// Client is the façade over the API: one authenticator, one token store, one
// request executor, and the endpoint groups on top.
type Client struct {
	logger    *zap.Logger
	http      *http.Client
	baseURL   string
	policy    RetryPolicy
	onRefresh func()

	store *tokenStore
	auth  *authenticator
	exec  *executor

	// Emissions exposes the emissions-data endpoints.
	Emissions *EmissionsAPI
}

// Option customizes a Client at construction.
type Option func(*Client)

// WithHTTPClient injects the transport used for every request, the login
// handshake included. Connection pooling and TLS settings belong to it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithBaseURL points the client at a non-production API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRefreshObserver registers fn to run after every successful token
// refresh, so operators can count how often expiry healing kicks in.
func WithRefreshObserver(fn func()) Option {
	return func(c *Client) { c.onRefresh = fn }
}

// NewClient constructs an unauthenticated Client. Account registration works
// on it directly; everything else needs Login first.
func NewClient(username, password string, opts ...Option) *Client {
	c := &Client{
		logger:  zap.NewNop(),
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		baseURL: DefaultBaseURL,
		policy:  DefaultRetryPolicy,
		store:   &tokenStore{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.auth = &authenticator{
		logger:    c.logger,
		http:      c.http,
		baseURL:   c.baseURL,
		creds:     Credentials{Username: username, Password: password},
		store:     c.store,
		onRefresh: c.onRefresh,
	}
	c.exec = &executor{
		logger:  c.logger,
		http:    c.http,
		baseURL: c.baseURL,
		auth:    c.auth,
		store:   c.store,
		policy:  c.policy,
	}
	c.Emissions = &EmissionsAPI{exec: c.exec}
	return c
}

// Login constructs a Client and performs the initial credentials-for-token
// handshake. Rejected credentials surface as *AuthenticationError immediately;
// they are never retried.
func Login(ctx context.Context, username, password string, opts ...Option) (*Client, error) {
	c := NewClient(username, password, opts...)
	if err := c.auth.authenticate(ctx); err != nil {
		return nil, err
	}
	c.logger.Info("watttime.login_ok")
	return c, nil
}

// RegisterNewUsername creates a new account. No bearer token is attached, so
// it works on an unauthenticated client.
func (c *Client) RegisterNewUsername(ctx context.Context, username, password, email, organization string) error {
	var resp registerResponse
	if err := c.exec.execute(ctx, requestSpec{
		method: http.MethodPost,
		path:   endpointRegister,
		body: registerRequest{
			Username:     username,
			Password:     password,
			Email:        email,
			Organization: organization,
		},
		auth: authNone,
	}, &resp); err != nil {
		return err
	}
	c.logger.Info("watttime.user_registered", zap.String("user", resp.User))
	return nil
}

// RequestPasswordReset asks the service to email a reset link to the address
// on the account.
func (c *Client) RequestPasswordReset(ctx context.Context) error {
	var resp passwordResetResponse
	if err := c.exec.execute(ctx, requestSpec{
		method: http.MethodGet,
		path:   endpointPasswordReset,
		auth:   authBearer,
	}, &resp); err != nil {
		return err
	}
	c.logger.Info("watttime.password_reset_requested")
	return nil
}
