package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var (
	ErrOIDCDiscoveryFailed = errors.New("OIDC discovery failed")
	// ErrTokenNotIssuedHere is returned by OIDCBroker.IssueToken: with an
	// external identity provider, clients obtain tokens from the provider's
	// own flow, never from this server.
	ErrTokenNotIssuedHere = errors.New("tokens are issued by the identity provider")
)

// OIDCBroker is an AuthBroker backed by an external OpenID Connect
// provider: a bearer token is verified as an ID token against the
// provider's keyset, falling back to the UserInfo endpoint for opaque
// access tokens. The principal id is the provider's subject claim.
type OIDCBroker struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	cache    PrincipalCache
	cacheTTL time.Duration
}

// NewOIDCBroker performs OIDC discovery against issuerURL and builds a
// verifier for tokens addressed to clientID. cache may be nil.
func NewOIDCBroker(ctx context.Context, issuerURL, clientID string, cache PrincipalCache, cacheTTL time.Duration) (*OIDCBroker, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOIDCDiscoveryFailed, err)
	}
	return &OIDCBroker{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		cache:    cache,
		cacheTTL: cacheTTL,
	}, nil
}

func (b *OIDCBroker) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	if b.cache != nil {
		if principal, ok := b.cache.Get(ctx, token); ok {
			return principal, nil
		}
	}

	principal, ttl, err := b.resolve(ctx, token)
	if err != nil {
		return "", err
	}

	if b.cache != nil && ttl > 0 {
		b.cache.Set(ctx, token, principal, ttl)
	}
	return principal, nil
}

// resolve verifies token as an ID token; an opaque access token that fails
// local verification is resolved through the provider's UserInfo endpoint
// instead, the same two-step the teacher of this pattern uses.
func (b *OIDCBroker) resolve(ctx context.Context, token string) (string, time.Duration, error) {
	idToken, err := b.verifier.Verify(ctx, token)
	if err == nil {
		if idToken.Subject == "" {
			return "", 0, ErrInvalidToken
		}
		return idToken.Subject, time.Until(idToken.Expiry), nil
	}

	userInfo, uiErr := b.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	if uiErr != nil || userInfo.Subject == "" {
		return "", 0, ErrInvalidToken
	}
	return userInfo.Subject, b.cacheTTL, nil
}

func (b *OIDCBroker) IssueToken(ctx context.Context, principal string) (string, error) {
	return "", ErrTokenNotIssuedHere
}
