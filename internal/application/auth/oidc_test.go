package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOIDCServer serves the minimal discovery surface go-oidc needs, plus a
// UserInfo endpoint whose behavior tests can switch between accepting and
// rejecting the presented token.
func fakeOIDCServer(t *testing.T, acceptUserInfo *atomic.Bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"issuer": %q,
			"authorization_endpoint": %q,
			"token_endpoint": %q,
			"jwks_uri": %q,
			"userinfo_endpoint": %q
		}`, srv.URL, srv.URL+"/auth", srv.URL+"/token", srv.URL+"/keys", srv.URL+"/userinfo")
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"keys": []}`)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if !acceptUserInfo.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"sub": "user-123"}`)
	})
	return srv
}

func TestNewOIDCBroker_DiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewOIDCBroker(context.Background(), srv.URL, "cellmesh", nil, time.Minute)
	assert.ErrorIs(t, err, ErrOIDCDiscoveryFailed)
}

func TestOIDCBroker_OpaqueTokenResolvedViaUserInfo(t *testing.T) {
	var accept atomic.Bool
	accept.Store(true)
	srv := fakeOIDCServer(t, &accept)

	b, err := NewOIDCBroker(context.Background(), srv.URL, "cellmesh", nil, time.Minute)
	require.NoError(t, err)

	principal, err := b.Authenticate(context.Background(), "opaque-access-token")
	require.NoError(t, err)
	assert.Equal(t, "user-123", principal)
}

func TestOIDCBroker_RejectedTokenFails(t *testing.T) {
	var accept atomic.Bool
	srv := fakeOIDCServer(t, &accept)

	b, err := NewOIDCBroker(context.Background(), srv.URL, "cellmesh", nil, time.Minute)
	require.NoError(t, err)

	_, err = b.Authenticate(context.Background(), "rejected-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = b.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestOIDCBroker_CachesResolvedPrincipal(t *testing.T) {
	var accept atomic.Bool
	accept.Store(true)
	srv := fakeOIDCServer(t, &accept)

	cache := NewMemoryPrincipalCache()
	b, err := NewOIDCBroker(context.Background(), srv.URL, "cellmesh", cache, time.Minute)
	require.NoError(t, err)

	principal, err := b.Authenticate(context.Background(), "opaque-access-token")
	require.NoError(t, err)
	assert.Equal(t, "user-123", principal)

	// A second authenticate must be served from the cache even if the
	// provider now rejects the token.
	accept.Store(false)
	principal, err = b.Authenticate(context.Background(), "opaque-access-token")
	require.NoError(t, err)
	assert.Equal(t, "user-123", principal)
}

func TestOIDCBroker_IssueTokenUnsupported(t *testing.T) {
	var accept atomic.Bool
	srv := fakeOIDCServer(t, &accept)

	b, err := NewOIDCBroker(context.Background(), srv.URL, "cellmesh", nil, time.Minute)
	require.NoError(t, err)

	_, err = b.IssueToken(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrTokenNotIssuedHere)
}
