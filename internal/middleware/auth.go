// Package middleware provides the HTTP middleware chain: authentication,
// rate limiting, CORS, request logging and metrics.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/hexonomy/gridshare/internal/errors"
	"github.com/hexonomy/gridshare/internal/httputil"
	"github.com/hexonomy/gridshare/pkg/logger"
)

type contextKey string

// teamIDKey carries the authenticated team through the request context.
const teamIDKey contextKey = "team_id"

// Claims are the token claims issued by the platform's auth service. TeamID
// is the acting identity for every authorization check downstream.
type Claims struct {
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates bearer tokens and injects the team identity.
type AuthMiddleware struct {
	secret    []byte
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates an HMAC token validator. Requests to skipPaths
// pass through unauthenticated.
func NewAuthMiddleware(secret []byte, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &AuthMiddleware{secret: secret, log: log, skipPaths: skip}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			m.reject(w, r, apperrors.Unauthorized("missing Authorization header"))
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.reject(w, r, apperrors.Unauthorized("malformed Authorization header"))
			return
		}

		claims, err := m.validate(parts[1])
		if err != nil {
			m.reject(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithTeamID(r.Context(), claims.TeamID)))
	})
}

func (m *AuthMiddleware) validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.Unauthorized("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, apperrors.Unauthorized("invalid token: %v", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TeamID == "" {
		return nil, apperrors.Unauthorized("invalid token claims")
	}
	return claims, nil
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	m.log.WithError(err).
		WithField("path", r.URL.Path).
		WithField("method", r.Method).
		Warn("authentication failed")
	httputil.WriteError(w, err)
}

// WithTeamID stamps the acting team onto a context.
func WithTeamID(ctx context.Context, teamID string) context.Context {
	return context.WithValue(ctx, teamIDKey, teamID)
}

// TeamID extracts the authenticated team from the context, or "".
func TeamID(ctx context.Context) string {
	id, _ := ctx.Value(teamIDKey).(string)
	return id
}

// RequireTeam rejects requests that lack an authenticated team identity.
func RequireTeam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if TeamID(r.Context()) == "" {
			httputil.WriteError(w, apperrors.Unauthorized("team identity required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
