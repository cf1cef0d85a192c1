package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yashab-cyber/lewis-core/pkg/contracts"
)

type contextKey string

const requesterKey contextKey = "requester"

// Claims is the JWT payload the API accepts. Roles feed the
// authorization guard unmodified.
type Claims struct {
	jwt.RegisteredClaims
	Roles     []string `json:"roles"`
	SessionID string   `json:"session_id,omitempty"`
}

// JWTValidator validates HS256 bearer tokens.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator builds a validator; an empty secret yields nil, which
// makes the middleware reject everything.
func NewJWTValidator(secret string) *JWTValidator {
	if secret == "" {
		return nil
	}
	return &JWTValidator{secret: []byte(secret)}
}

// Validate parses and verifies a token string.
func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

var publicPaths = []string{
	"/health",
	"/readiness",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// AuthMiddleware authenticates requests and stashes the requester in the
// context. A nil validator fails closed: every non-public request is
// rejected.
func AuthMiddleware(validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteUnauthorized(w, "missing Authorization header")
				return
			}
			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" {
				WriteUnauthorized(w, "expected 'Bearer <token>'")
				return
			}
			if validator == nil {
				WriteUnauthorized(w, "authentication not configured")
				return
			}

			claims, err := validator.Validate(tokenStr)
			if err != nil {
				WriteUnauthorized(w, "invalid or expired token")
				return
			}
			if claims.Subject == "" {
				WriteUnauthorized(w, "token subject is required")
				return
			}

			requester := contracts.Requester{
				UserID:    claims.Subject,
				Roles:     claims.Roles,
				SessionID: claims.SessionID,
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requesterKey, requester)))
		})
	}
}

// RequesterFrom extracts the authenticated requester.
func RequesterFrom(ctx context.Context) (contracts.Requester, bool) {
	req, ok := ctx.Value(requesterKey).(contracts.Requester)
	return req, ok
}
