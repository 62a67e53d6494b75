package httpserver

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/blackmichael/listing-lifecycle/internal/domain"
)

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// requireSecret checks the shared scheduler secret. It writes the error
// response and returns false when the request may not proceed.
func (s *Server) requireSecret(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.CronSecret == "" {
		s.logger.Error("shared secret is not configured", "path", r.URL.Path, "error", domain.ErrConfiguration)
		writeError(w, http.StatusInternalServerError, "configuration_error", "server secret is not configured")
		return false
	}

	token, ok := bearerToken(r)
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.CronSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing bearer token")
		return false
	}
	return true
}

// authenticateOwner verifies an HS256 bearer token and returns its subject,
// the requesting user's id.
func (s *Server) authenticateOwner(r *http.Request) (string, error) {
	if s.cfg.JWTSecret == "" {
		return "", fmt.Errorf("jwt secret is not configured: %w", domain.ErrConfiguration)
	}
	raw, ok := bearerToken(r)
	if !ok {
		return "", fmt.Errorf("missing bearer token: %w", domain.ErrUnauthorized)
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", errors.Join(err, domain.ErrUnauthorized))
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("token has no subject: %w", domain.ErrUnauthorized)
	}
	return claims.Subject, nil
}
