// Package auth guards the operator API with HMAC-signed JWTs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors returned by the auth service.
var (
	ErrInvalidToken = errors.New("auth: invalid or expired operator token")
	ErrNoSecret     = errors.New("auth: no signing secret configured")
)

// OperatorClaims identifies the operator behind a request.
type OperatorClaims struct {
	Operator  string    `json:"operator"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service issues and validates operator tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
}

// NewService creates a new auth service. A non-positive ttl defaults to 24h.
func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{secret: []byte(secret), ttl: ttl}
}

// Enabled reports whether a signing secret is configured.
func (s *Service) Enabled() bool {
	return len(s.secret) > 0
}

// Issue creates a signed token for operator.
func (s *Service) Issue(operator string) (string, error) {
	if !s.Enabled() {
		return "", ErrNoSecret
	}
	if operator == "" {
		return "", errors.New("auth: empty operator name")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": operator,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Validate verifies a token and returns its claims.
func (s *Service) Validate(_ context.Context, tokenStr string) (*OperatorClaims, error) {
	if !s.Enabled() {
		return nil, ErrNoSecret
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	operator, _ := claims["sub"].(string)
	if operator == "" {
		return nil, ErrInvalidToken
	}
	iat, _ := claims.GetIssuedAt()
	exp, _ := claims.GetExpirationTime()
	if iat == nil || exp == nil {
		return nil, ErrInvalidToken
	}

	return &OperatorClaims{
		Operator:  operator,
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
	}, nil
}

// --- Middleware ---

type contextKey string

const claimsKey contextKey = "operatorClaims"

// Middleware returns a Chi middleware that requires a valid bearer token and
// injects OperatorClaims into the request context. Missing or invalid tokens
// result in a 401 response.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			unauthorized(w, "missing or invalid authorization header")
			return
		}
		claims, err := s.Validate(r.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":{"code":"UNAUTHORIZED","message":%q}}`, msg)
}

// ClaimsFromContext extracts OperatorClaims from the request context.
// Returns nil if no claims are present.
func ClaimsFromContext(ctx context.Context) *OperatorClaims {
	claims, _ := ctx.Value(claimsKey).(*OperatorClaims)
	return claims
}
