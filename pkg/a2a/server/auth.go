package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"strings"
)

// AuthConfig defines minimal auth requirements for the RPC routes.
// It validates presence of auth signals only; token verification is left to
// a custom Authenticator.
type AuthConfig struct {
	RequireBearer bool
	RequireMTLS   bool
}

// AuthContext holds request metadata for auth checks.
type AuthContext struct {
	Method string
	Header http.Header
	TLS    *tls.ConnectionState
	Remote string
}

// Authenticator validates a request and returns an error when unauthenticated.
type Authenticator interface {
	Authenticate(ctx context.Context, auth AuthContext) error
}

// RateLimiter decides whether a caller may issue another request. key is
// the bearer token when present, else the remote address.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

// NewAuthenticator builds an authenticator using a minimal presence check.
func NewAuthenticator(cfg AuthConfig) Authenticator {
	return &authenticator{cfg: cfg}
}

// RequestAuthContext extracts the auth signals of an HTTP request.
func RequestAuthContext(r *http.Request, method string) AuthContext {
	return AuthContext{
		Method: method,
		Header: r.Header,
		TLS:    r.TLS,
		Remote: r.RemoteAddr,
	}
}

type authenticator struct {
	cfg AuthConfig
}

func (a *authenticator) Authenticate(_ context.Context, auth AuthContext) error {
	if a.cfg.RequireBearer {
		if token := BearerToken(auth.Header); token == "" {
			return errors.New("missing bearer token")
		}
	}
	if a.cfg.RequireMTLS {
		if !hasMTLS(auth.TLS) {
			return errors.New("mutual TLS required")
		}
	}
	return nil
}

// BearerToken returns the token of an Authorization: Bearer header.
func BearerToken(h http.Header) string {
	if h == nil {
		return ""
	}
	value := h.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return ""
	}
	return strings.TrimSpace(value[len("bearer "):])
}

// RateLimitKey identifies the caller for rate limiting.
func RateLimitKey(auth AuthContext) string {
	if token := BearerToken(auth.Header); token != "" {
		return "token:" + token
	}
	host := auth.Remote
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return "addr:" + host
}

func hasMTLS(state *tls.ConnectionState) bool {
	if state == nil {
		return false
	}
	return len(state.VerifiedChains) > 0 || len(state.PeerCertificates) > 0
}
