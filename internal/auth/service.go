// Package auth authenticates the calling agent. Two credential shapes are
// accepted on the Authorization header: a static bearer token checked
// against a bcrypt hash, and OIDC ID tokens from a configured issuer.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized is returned when no accepted credential matches.
var ErrUnauthorized = errors.New("auth: invalid credentials")

// Service validates agent credentials.
type Service struct {
	tokenHash []byte
	verifier  *oidc.IDTokenVerifier
}

// NewService builds a Service from a bcrypt token hash and an optional
// OIDC issuer. Either may be empty, but not both.
func NewService(ctx context.Context, tokenHash, oidcIssuer, oidcClientID string) (*Service, error) {
	s := &Service{}
	if tokenHash != "" {
		s.tokenHash = []byte(tokenHash)
	}
	if oidcIssuer != "" {
		provider, err := oidc.NewProvider(ctx, oidcIssuer)
		if err != nil {
			return nil, err
		}
		cfg := &oidc.Config{ClientID: oidcClientID}
		if oidcClientID == "" {
			cfg.SkipClientIDCheck = true
		}
		s.verifier = provider.Verifier(cfg)
	}
	if s.tokenHash == nil && s.verifier == nil {
		return nil, errors.New("auth: no credential check configured")
	}
	return s, nil
}

// Principal identifies an authenticated caller.
type Principal struct {
	// Subject is the OIDC subject claim, or "token" for the static token.
	Subject string
	Method  string
}

// Authenticate checks a raw bearer credential, trying the static token
// first and falling back to OIDC verification.
func (s *Service) Authenticate(ctx context.Context, credential string) (*Principal, error) {
	if credential == "" {
		return nil, ErrUnauthorized
	}
	if s.tokenHash != nil {
		if err := bcrypt.CompareHashAndPassword(s.tokenHash, []byte(credential)); err == nil {
			return &Principal{Subject: "token", Method: "token"}, nil
		}
	}
	if s.verifier != nil {
		idToken, err := s.verifier.Verify(ctx, credential)
		if err == nil {
			return &Principal{Subject: idToken.Subject, Method: "oidc"}, nil
		}
	}
	return nil, ErrUnauthorized
}

// RequireAgent is middleware rejecting requests without a valid bearer
// credential and stashing the principal in the request context.
func (s *Service) RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential := bearerToken(r)
		if credential == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="DAVGate"`)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		principal, err := s.Authenticate(r.Context(), credential)
		if err != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
