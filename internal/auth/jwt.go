// Package auth issues and verifies access tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/teamcal/internal/errs"
)

// Leeway tolerates clock skew between issuer and verifier.
const Leeway = 30 * time.Second

// Provider resolves request credentials to a principal.
type Provider interface {
	Authenticate(ctx context.Context, token string) (uuid.UUID, error)
}

// JWT issues and verifies HS256 tokens whose subject is the user ID.
type JWT struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewJWT constructs a JWT provider.
func NewJWT(key []byte, ttl time.Duration) *JWT {
	return &JWT{key: key, ttl: ttl, now: time.Now}
}

// Issue creates a signed token for userID.
func (j *JWT) Issue(userID uuid.UUID) (string, time.Time, error) {
	now := j.now()
	exp := now.Add(j.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Authenticate verifies token and returns its subject. Every failure is ErrUnauthorized.
func (j *JWT) Authenticate(_ context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, errs.ErrUnauthorized
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return j.key, nil
	}, jwt.WithLeeway(Leeway), jwt.WithTimeFunc(j.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return uuid.Nil, errs.ErrUnauthorized
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errs.ErrUnauthorized
	}
	return id, nil
}
