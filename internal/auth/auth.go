// Package auth gates the admin surface of the subtitle API.
//
// Two credentials are accepted: a Bearer JWT signed HS256 with JWT_SECRET,
// or a pre-shared key in the API key header compared in constant time.
// When neither secret is configured the gate FAILS CLOSED with a 500 so a
// misconfigured deployment never exposes admin endpoints.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotConfigured is returned when neither a JWT secret nor an API key is set.
var ErrNotConfigured = errors.New("server authentication not configured")

// ErrInvalidCredentials is returned when a presented credential fails to verify.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Guard verifies admin credentials for HTTP requests.
type Guard struct {
	jwtSecret    string
	apiKey       string
	apiKeyHeader string
}

// NewGuard creates a Guard. Either secret may be empty; an empty pair makes
// every Verify call return ErrNotConfigured.
func NewGuard(jwtSecret, apiKey, apiKeyHeader string) *Guard {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	return &Guard{jwtSecret: jwtSecret, apiKey: apiKey, apiKeyHeader: apiKeyHeader}
}

// Configured reports whether at least one admin credential is set.
func (g *Guard) Configured() bool {
	return g.jwtSecret != "" || g.apiKey != ""
}

// Verify checks the request for an acceptable admin credential. Bearer JWTs
// are tried first, then the pre-shared key header.
func (g *Guard) Verify(r *http.Request) error {
	if !g.Configured() {
		return ErrNotConfigured
	}

	if token := bearerToken(r); token != "" && g.jwtSecret != "" {
		if err := g.validateJWT(token); err == nil {
			return nil
		}
		// A bad bearer token still falls through to the API key header;
		// clients sometimes send both.
	}

	if g.apiKey != "" && g.CheckAPIKey(r.Header.Get(g.apiKeyHeader)) {
		return nil
	}
	return ErrInvalidCredentials
}

// CheckAPIKey compares a presented key against the configured key in
// constant time. Returns false when no key is configured.
func (g *Guard) CheckAPIKey(presented string) bool {
	if g.apiKey == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(g.apiKey)) == 1
}

// APIKeyHeader returns the configured header name for pre-shared keys.
func (g *Guard) APIKeyHeader() string { return g.apiKeyHeader }

// validateJWT parses and verifies an HS256 token. Any other signing method
// is rejected to block algorithm-confusion tokens.
func (g *Guard) validateJWT(tokenStr string) error {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(g.jwtSecret), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return ErrInvalidCredentials
	}
	return nil
}

// RequireAdmin wraps a handler with admin credential enforcement.
func (g *Guard) RequireAdmin(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch err := g.Verify(r); {
		case err == nil:
			next.ServeHTTP(w, r)
		case errors.Is(err, ErrNotConfigured):
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "server authentication not configured")
		default:
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid credentials")
		}
	}
}

// RequireAPIKey protects public endpoints with the pre-shared key when one
// is configured. With no key configured the endpoints stay open.
func (g *Guard) RequireAPIKey(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.apiKey != "" && !g.CheckAPIKey(r.Header.Get(g.apiKeyHeader)) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	}
}

// bearerToken pulls the token from "Authorization: Bearer <token>".
// Returns empty string if the header is missing or malformed.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": msg,
	})
}
