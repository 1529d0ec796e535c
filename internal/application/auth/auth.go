// Package auth provides the core's AuthBroker capability: resolving an
// opaque bearer token into a principal id. The core never sees credentials
// or user records — only the token string and the principal it resolves to.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Broker resolves an opaque token string to a principal id.
type Broker interface {
	Authenticate(ctx context.Context, token string) (principal string, err error)
	IssueToken(ctx context.Context, principal string) (string, error)
}

type claims struct {
	jwt.RegisteredClaims
}

// JWTBroker is the builtin AuthBroker implementation: principal ids are
// carried as the JWT subject, signed with a single shared secret.
type JWTBroker struct {
	secret     []byte
	expiration time.Duration
	cache      PrincipalCache
}

// PrincipalCache is an optional short-lived cache in front of token
// verification, so a hot websocket connection re-authenticating on every
// refresh doesn't re-run signature verification needlessly.
type PrincipalCache interface {
	Get(ctx context.Context, token string) (string, bool)
	Set(ctx context.Context, token, principal string, ttl time.Duration)
}

// NewJWTBroker constructs a Broker signing/verifying with secret, issuing
// tokens with the given lifetime. cache may be nil.
func NewJWTBroker(secret string, expiration time.Duration, cache PrincipalCache) *JWTBroker {
	return &JWTBroker{secret: []byte(secret), expiration: expiration, cache: cache}
}

func (b *JWTBroker) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	if b.cache != nil {
		if principal, ok := b.cache.Get(ctx, token); ok {
			return principal, nil
		}
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return b.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Subject == "" {
		return "", ErrInvalidToken
	}

	if b.cache != nil {
		ttl := time.Until(c.ExpiresAt.Time)
		if ttl > 0 {
			b.cache.Set(ctx, token, c.Subject, ttl)
		}
	}
	return c.Subject, nil
}

func (b *JWTBroker) IssueToken(ctx context.Context, principal string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.expiration)),
		},
	})
	return token.SignedString(b.secret)
}
