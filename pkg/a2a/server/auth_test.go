package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticator_RequiresBearer(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{RequireBearer: true})
	r := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	if err := auth.Authenticate(context.Background(), RequestAuthContext(r, "tasks/list")); err == nil {
		t.Fatalf("expected missing bearer token error")
	}
}

func TestAuthenticator_BearerPresent(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{RequireBearer: true})
	r := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	r.Header.Set("Authorization", "Bearer token-123")
	if err := auth.Authenticate(context.Background(), RequestAuthContext(r, "tasks/list")); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestAuthenticator_RequiresMTLS(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{RequireMTLS: true})
	r := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	if err := auth.Authenticate(context.Background(), RequestAuthContext(r, "tasks/list")); err == nil {
		t.Fatalf("expected mutual TLS required error")
	}
}

func TestAuthenticator_MTLSWithPeer(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{RequireMTLS: true})
	r := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	r.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{{}}}
	if err := auth.Authenticate(context.Background(), RequestAuthContext(r, "tasks/list")); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestRateLimitKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	r.RemoteAddr = "10.0.0.7:5123"
	if got := RateLimitKey(RequestAuthContext(r, "")); got != "addr:10.0.0.7" {
		t.Fatalf("unexpected key %q", got)
	}
	r.Header.Set("Authorization", "Bearer abc")
	if got := RateLimitKey(RequestAuthContext(r, "")); got != "token:abc" {
		t.Fatalf("unexpected key %q", got)
	}
}
