package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims restrict a token to a set of containers. An empty set grants
// access to every container.
type Claims struct {
	Containers []string `json:"containers,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Allows(container string) bool {
	if c == nil || len(c.Containers) == 0 {
		return true
	}
	return slices.Contains(c.Containers, container)
}

// Authenticator issues and validates HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

// NewAuthenticator returns nil when secret is empty, which disables auth.
func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl}
}

func (a *Authenticator) Issue(subject string, containers []string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Containers: containers,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	return token.SignedString(a.secret)
}

func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

type claimsKey struct{}

func withClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// claimsFrom returns nil when auth is disabled.
func claimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// Helper: extract token from the Authorization header, or from the query
// string for EventSource and WebSocket clients that cannot set headers.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

type AuthMiddleware struct {
	auth   *Authenticator
	logger *slog.Logger
}

func NewAuthMiddleware(auth *Authenticator, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{auth: auth, logger: logger}
}

// RequireToken protects API endpoints. When the route has a {container}
// wildcard the token must grant access to it.
func (m *AuthMiddleware) RequireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.auth == nil {
			next(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="easysave"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := m.auth.Validate(token)
		if err != nil {
			m.logger.Debug("rejected token", "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="easysave", error="invalid_token"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if container := r.PathValue("container"); container != "" && !claims.Allows(container) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next(w, r.WithContext(withClaims(r.Context(), claims)))
	}
}
