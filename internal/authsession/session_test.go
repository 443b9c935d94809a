package authsession

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"

	"registry-mcp/internal/config"
	"registry-mcp/internal/credstore"
	"registry-mcp/internal/logging"
	"registry-mcp/pkg/models"
)

// fakeAuthServer stands in for the authorization server's token and
// revocation endpoints.
type fakeAuthServer struct {
	*httptest.Server
	exchanges   atomic.Int32
	refreshes   atomic.Int32
	revocations atomic.Int32
	failRefresh bool
	failRevoke  bool
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()
	fake := &fakeAuthServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")

		switch r.Form.Get("grant_type") {
		case "authorization_code":
			fake.exchanges.Add(1)
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "exchanged-token",
				"token_type":    "Bearer",
				"refresh_token": "refresh-1",
				"expires_in":    3600,
			})
		case "refresh_token":
			fake.refreshes.Add(1)
			if fake.failRefresh {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "refreshed-token",
				"token_type":    "Bearer",
				"refresh_token": "refresh-2",
				"expires_in":    3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		fake.revocations.Add(1)
		if fake.failRevoke {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	fake.Server = httptest.NewServer(mux)
	t.Cleanup(fake.Close)
	return fake
}

func newTestSession(t *testing.T, fake *fakeAuthServer, timeout time.Duration) (*Session, *credstore.Store) {
	t.Helper()
	keyring.MockInit()

	cfg := &config.Config{}
	cfg.Auth.Issuer = fake.URL
	cfg.Auth.ClientID = "test-client"
	cfg.Auth.Scopes = []string{"openid", "offline_access"}
	cfg.Auth.CallbackPort = 0
	cfg.Auth.LoginTimeout = timeout

	store := credstore.New(credstore.WithService("registry-mcp-test"))
	session := New(cfg, store, logging.NewLogger(),
		WithEndpoints(oauth2.Endpoint{
			AuthURL:  fake.URL + "/authorize",
			TokenURL: fake.URL + "/token",
		}, fake.URL+"/revoke"),
	)
	return session, store
}

// redirectParams pulls state and redirect_uri out of the authorization URL.
func redirectParams(t *testing.T, authURL string) (state, redirectURI string) {
	t.Helper()
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	return q.Get("state"), q.Get("redirect_uri")
}

func TestLoginFlowStoresCredential(t *testing.T) {
	fake := newFakeAuthServer(t)
	session, store := newTestSession(t, fake, 5*time.Second)
	ctx := context.Background()

	authURL, err := session.BeginLogin(ctx, "session-a")
	require.NoError(t, err)
	state, redirectURI := redirectParams(t, authURL)

	go func() {
		time.Sleep(50 * time.Millisecond)
		http.Get(redirectURI + "?code=auth-code&state=" + url.QueryEscape(state))
	}()

	cred, err := session.AwaitCallback(ctx)
	require.NoError(t, err)
	assert.Equal(t, "exchanged-token", cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
	assert.True(t, cred.ExpiresAt.After(time.Now()))
	assert.Equal(t, int32(1), fake.exchanges.Load())

	stored, err := store.Get("session-a")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "exchanged-token", stored.AccessToken)
}

func TestStateMismatchLeavesStoreUntouched(t *testing.T) {
	fake := newFakeAuthServer(t)
	session, store := newTestSession(t, fake, 5*time.Second)
	ctx := context.Background()

	authURL, err := session.BeginLogin(ctx, "session-a")
	require.NoError(t, err)
	_, redirectURI := redirectParams(t, authURL)

	go func() {
		time.Sleep(50 * time.Millisecond)
		http.Get(redirectURI + "?code=auth-code&state=forged")
	}()

	_, err = session.AwaitCallback(ctx)
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Equal(t, int32(0), fake.exchanges.Load())

	stored, err := store.Get("session-a")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestUserDenied(t *testing.T) {
	fake := newFakeAuthServer(t)
	session, _ := newTestSession(t, fake, 5*time.Second)
	ctx := context.Background()

	authURL, err := session.BeginLogin(ctx, "session-a")
	require.NoError(t, err)
	_, redirectURI := redirectParams(t, authURL)

	go func() {
		time.Sleep(50 * time.Millisecond)
		http.Get(redirectURI + "?error=access_denied&error_description=user+said+no")
	}()

	_, err = session.AwaitCallback(ctx)
	assert.ErrorIs(t, err, ErrUserDenied)
}

func TestCallbackTimeout(t *testing.T) {
	fake := newFakeAuthServer(t)
	session, _ := newTestSession(t, fake, 150*time.Millisecond)
	ctx := context.Background()

	_, err := session.BeginLogin(ctx, "session-a")
	require.NoError(t, err)

	_, err = session.AwaitCallback(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSecondBeginLoginRejected(t *testing.T) {
	fake := newFakeAuthServer(t)
	session, _ := newTestSession(t, fake, 5*time.Second)
	ctx := context.Background()

	_, err := session.BeginLogin(ctx, "session-a")
	require.NoError(t, err)

	_, err = session.BeginLogin(ctx, "session-a")
	assert.ErrorIs(t, err, ErrLoginInProgress)

	// After cancelling, a new flow may start.
	session.CancelLogin()
	_, err = session.BeginLogin(ctx, "session-a")
	assert.NoError(t, err)
	session.CancelLogin()
}

func TestAwaitWithoutBegin(t *testing.T) {
	fake := newFakeAuthServer(t)
	session, _ := newTestSession(t, fake, 5*time.Second)

	_, err := session.AwaitCallback(context.Background())
	assert.ErrorIs(t, err, ErrNoLoginPending)
}

func TestEnsureFreshAbsentCredential(t *testing.T) {
	fake := newFakeAuthServer(t)
	session, _ := newTestSession(t, fake, 5*time.Second)

	_, err := session.EnsureFresh(context.Background(), "session-a")
	assert.ErrorIs(t, err, ErrReauthRequired)
}

func TestEnsureFreshReturnsValidCredential(t *testing.T) {
	fake := newFakeAuthServer(t)
	session, store := newTestSession(t, fake, 5*time.Second)

	require.NoError(t, store.Put("session-a", &models.Credential{
		AccessToken: "still-good",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	cred, err := session.EnsureFresh(context.Background(), "session-a")
	require.NoError(t, err)
	assert.Equal(t, "still-good", cred.AccessToken)
	assert.Equal(t, int32(0), fake.refreshes.Load())
}

func TestEnsureFreshRefreshesExpiredCredential(t *testing.T) {
	fake := newFakeAuthServer(t)
	session, store := newTestSession(t, fake, 5*time.Second)

	require.NoError(t, store.Put("session-a", &models.Credential{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Minute),
		Subject:      "user-1",
	}))

	cred, err := session.EnsureFresh(context.Background(), "session-a")
	require.NoError(t, err)
	assert.NotEqual(t, "stale", cred.AccessToken)
	assert.Equal(t, "refreshed-token", cred.AccessToken)
	assert.True(t, cred.ExpiresAt.After(time.Now()))
	assert.Equal(t, "user-1", cred.Subject)
	assert.Equal(t, int32(1), fake.refreshes.Load())

	stored, err := store.Get("session-a")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", stored.AccessToken)
}

func TestEnsureFreshFailedRefreshClearsCredential(t *testing.T) {
	fake := newFakeAuthServer(t)
	fake.failRefresh = true
	session, store := newTestSession(t, fake, 5*time.Second)

	require.NoError(t, store.Put("session-a", &models.Credential{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))

	_, err := session.EnsureFresh(context.Background(), "session-a")
	assert.ErrorIs(t, err, ErrReauthRequired)

	stored, err := store.Get("session-a")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestEnsureFreshExpiredWithoutRefreshToken(t *testing.T) {
	fake := newFakeAuthServer(t)
	session, store := newTestSession(t, fake, 5*time.Second)

	require.NoError(t, store.Put("session-a", &models.Credential{
		AccessToken: "stale",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}))

	_, err := session.EnsureFresh(context.Background(), "session-a")
	assert.ErrorIs(t, err, ErrReauthRequired)

	stored, err := store.Get("session-a")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestLogoutRevokesAndClears(t *testing.T) {
	fake := newFakeAuthServer(t)
	session, store := newTestSession(t, fake, 5*time.Second)

	require.NoError(t, store.Put("session-a", &models.Credential{
		AccessToken:  "live",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	require.NoError(t, session.Logout(context.Background(), "session-a"))
	assert.Equal(t, int32(2), fake.revocations.Load())

	stored, err := store.Get("session-a")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestLogoutClearsEvenWhenRevocationFails(t *testing.T) {
	fake := newFakeAuthServer(t)
	fake.failRevoke = true
	session, store := newTestSession(t, fake, 5*time.Second)

	require.NoError(t, store.Put("session-a", &models.Credential{
		AccessToken: "live",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	require.NoError(t, session.Logout(context.Background(), "session-a"))

	stored, err := store.Get("session-a")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestStatusAndCancelNotBlockedByDiscovery(t *testing.T) {
	keyring.MockInit()

	release := make(chan struct{})
	var issuerURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 issuerURL,
			"authorization_endpoint": issuerURL + "/authorize",
			"token_endpoint":         issuerURL + "/token",
			"jwks_uri":               issuerURL + "/keys",
		})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	issuerURL = ts.URL

	cfg := &config.Config{}
	cfg.Auth.Issuer = ts.URL
	cfg.Auth.ClientID = "test-client"
	cfg.Auth.Scopes = []string{"openid"}
	cfg.Auth.LoginTimeout = time.Second

	store := credstore.New(credstore.WithService("registry-mcp-test"))
	session := New(cfg, store, logging.NewLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = session.BeginLogin(context.Background(), "conv")
	}()

	// Let BeginLogin reach the blocked discovery request.
	time.Sleep(50 * time.Millisecond)

	statusCh := make(chan Status, 1)
	go func() { statusCh <- session.CurrentStatus("conv") }()
	select {
	case st := <-statusCh:
		assert.Equal(t, StateIdle, st.State)
	case <-time.After(2 * time.Second):
		t.Fatal("CurrentStatus blocked behind discovery")
	}

	close(release)
	<-done
	session.CancelLogin()
}
