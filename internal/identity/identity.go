// Package identity adapts an already-issued bearer token into the opaque
// user identifier the engine consumes. The engine never authenticates users;
// login, registration, and token issuance belong to the identity service
// upstream. Signing exists here only so tooling and tests can mint tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey struct{}

// ErrNoIdentity is returned by UserIDFrom when the context carries no
// authenticated user.
var ErrNoIdentity = errors.New("identity: no user in context")

// Verifier validates bearer tokens and extracts the subject user ID.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for HS256 tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

type claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Sign mints a token for userID. Test and tooling use only.
func (v *Verifier) Sign(userID string, ttl time.Duration) (string, error) {
	c := claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

// Parse validates a token and returns the user ID it carries.
func (v *Verifier) Parse(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", errors.New("identity: invalid token")
	}
	if c.UserID != "" {
		return c.UserID, nil
	}
	return c.Subject, nil
}

// Middleware rejects requests without a valid bearer token and puts the user
// ID into the request context.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			userID, err := v.Parse(strings.TrimPrefix(header, "Bearer "))
			if err != nil || userID == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// HeaderMiddleware trusts an X-User-ID header. Development fallback when no
// JWT secret is configured; the engine only ever consumes the identifier.
func HeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// WithUserID returns a context carrying the authenticated user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserIDFrom extracts the authenticated user ID from the context.
func UserIDFrom(ctx context.Context) (string, error) {
	userID, _ := ctx.Value(contextKey{}).(string)
	if userID == "" {
		return "", ErrNoIdentity
	}
	return userID, nil
}
