// Package authsession drives the browser-redirect login flow and the
// lifecycle of the resulting bearer credential: begin, await, refresh,
// revoke. At most one login flow is pending per Session at a time.
package authsession

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	oidc "github.com/coreos/go-oidc"
	"golang.org/x/oauth2"

	"registry-mcp/internal/config"
	"registry-mcp/internal/credstore"
	"registry-mcp/internal/logging"
	"registry-mcp/pkg/models"
)

// LoginState describes where a login flow currently sits.
type LoginState string

const (
	StateIdle          LoginState = "IDLE"
	StateListening     LoginState = "LISTENING"
	StateExchanging    LoginState = "EXCHANGING"
	StateAuthenticated LoginState = "AUTHENTICATED"
	StateDenied        LoginState = "DENIED"
	StateTimedOut      LoginState = "TIMED_OUT"
	StateError         LoginState = "ERROR"
)

// Status is a snapshot of the session for reporting to the user.
type Status struct {
	State         LoginState `json:"state"`
	Authenticated bool       `json:"authenticated"`
	Subject       string     `json:"subject,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at,omitempty"`
}

// Session manages interactive logins against one authorization server and
// keeps the resulting credentials in the secret store.
type Session struct {
	issuer       string
	clientID     string
	scopes       []string
	callbackPort int
	loginTimeout time.Duration

	store      *credstore.Store
	log        *logging.Logger
	httpClient *http.Client

	// Discovered (or injected) endpoints, guarded by discoveryMu so that
	// discovery never runs under the session lock.
	discoveryMu        sync.Mutex
	endpoint           *oauth2.Endpoint
	revocationEndpoint string
	idVerifier         *oidc.IDTokenVerifier
	discovered         bool

	mu      sync.Mutex
	state   LoginState
	pending *pendingLogin
}

type pendingLogin struct {
	key      string
	state    string
	verifier string
	listener *CallbackListener
	oauthCfg *oauth2.Config
	cancel   context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithHTTPClient overrides the HTTP client used for discovery, token
// exchange and revocation.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.httpClient = c }
}

// WithEndpoints injects authorization-server endpoints directly, bypassing
// OIDC discovery.
func WithEndpoints(ep oauth2.Endpoint, revocationURL string) Option {
	return func(s *Session) {
		s.endpoint = &ep
		s.revocationEndpoint = revocationURL
		s.discovered = true
	}
}

// WithIDTokenVerifier injects the verifier used to check ID tokens from the
// code exchange.
func WithIDTokenVerifier(v *oidc.IDTokenVerifier) Option {
	return func(s *Session) { s.idVerifier = v }
}

// New creates a Session from configuration.
func New(cfg *config.Config, store *credstore.Store, log *logging.Logger, opts ...Option) *Session {
	s := &Session{
		issuer:       cfg.Auth.Issuer,
		clientID:     cfg.Auth.ClientID,
		scopes:       cfg.Auth.Scopes,
		callbackPort: cfg.Auth.CallbackPort,
		loginTimeout: cfg.Auth.LoginTimeout,
		store:        store,
		log:          log,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ensureEndpoints performs OIDC discovery once and caches the result. It
// takes only discoveryMu, so session state stays reachable while the
// discovery round trip is in flight.
func (s *Session) ensureEndpoints(ctx context.Context) error {
	s.discoveryMu.Lock()
	defer s.discoveryMu.Unlock()
	if s.discovered {
		return nil
	}
	ctx = oidc.ClientContext(ctx, s.httpClient)
	provider, err := oidc.NewProvider(ctx, s.issuer)
	if err != nil {
		return fmt.Errorf("discover issuer %s: %w", s.issuer, err)
	}

	ep := provider.Endpoint()
	s.endpoint = &ep
	if s.idVerifier == nil {
		s.idVerifier = provider.Verifier(&oidc.Config{ClientID: s.clientID})
	}

	// revocation_endpoint is not part of the core discovery document the
	// oidc package models, so pull it from the raw claims.
	var extra struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if err := provider.Claims(&extra); err == nil {
		s.revocationEndpoint = extra.RevocationEndpoint
	}

	s.discovered = true
	return nil
}

func (s *Session) oauthConfig(redirectURL string) *oauth2.Config {
	s.discoveryMu.Lock()
	ep := *s.endpoint
	s.discoveryMu.Unlock()
	return &oauth2.Config{
		ClientID:    s.clientID,
		Endpoint:    ep,
		RedirectURL: redirectURL,
		Scopes:      s.scopes,
	}
}

// generateState produces the anti-forgery state parameter.
func generateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// BeginLogin starts a login flow for the session key: binds the local
// callback listener, generates state and PKCE material, and returns the
// authorization URL. It also tries to open the system browser; a launch
// failure only means the caller must present the URL manually. A second
// BeginLogin while one is pending is rejected.
func (s *Session) BeginLogin(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return "", ErrLoginInProgress
	}
	s.mu.Unlock()

	// Discovery is a network round trip; status and cancel calls must not
	// block behind it.
	if err := s.ensureEndpoints(ctx); err != nil {
		return "", err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	listener := NewCallbackListener(s.callbackPort)
	redirectURL, err := listener.Start(listenCtx)
	if err != nil {
		cancel()
		return "", err
	}

	state, err := generateState()
	if err != nil {
		cancel()
		listener.Stop()
		return "", err
	}
	verifier := oauth2.GenerateVerifier()

	oauthCfg := s.oauthConfig(redirectURL)
	authURL := oauthCfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	s.mu.Lock()
	if s.pending != nil {
		// Another login won the race while discovery ran.
		s.mu.Unlock()
		cancel()
		listener.Stop()
		return "", ErrLoginInProgress
	}
	s.pending = &pendingLogin{
		key:      key,
		state:    state,
		verifier: verifier,
		listener: listener,
		oauthCfg: oauthCfg,
		cancel:   cancel,
	}
	s.state = StateListening
	s.mu.Unlock()

	if err := OpenBrowser(authURL); err != nil {
		s.log.Warn("could not launch browser, present the URL to the user", "error", err)
	}
	s.log.Info("login started", "key", key, "callback", redirectURL)

	return authURL, nil
}

// AwaitCallback blocks until the redirect arrives for the pending login,
// verifies state, exchanges the code, and persists the credential. Whatever
// the outcome, the listener is torn down and the pending flow is cleared.
func (s *Session) AwaitCallback(ctx context.Context) (*models.Credential, error) {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending == nil {
		return nil, ErrNoLoginPending
	}
	defer s.finishLogin(pending)

	waitCtx, cancel := context.WithTimeout(ctx, s.loginTimeout)
	defer cancel()

	result, err := pending.listener.Wait(waitCtx)
	if err != nil {
		if err == ErrTimeout {
			s.setState(StateTimedOut)
			return nil, ErrTimeout
		}
		s.setState(StateError)
		return nil, err
	}

	if result.IsError() {
		if result.Error == "access_denied" {
			s.setState(StateDenied)
			return nil, ErrUserDenied
		}
		s.setState(StateError)
		return nil, fmt.Errorf("authorization failed: %s (%s)", result.Error, result.ErrorDescription)
	}

	// A mismatched state means the redirect was not ours. The stored
	// credential, if any, stays exactly as it was.
	if result.State != pending.state {
		s.setState(StateError)
		return nil, ErrStateMismatch
	}

	s.setState(StateExchanging)
	exchCtx := context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := pending.oauthCfg.Exchange(exchCtx, result.Code, oauth2.VerifierOption(pending.verifier))
	if err != nil {
		s.setState(StateError)
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	cred := s.credentialFromToken(ctx, token)
	if err := s.store.Put(pending.key, cred); err != nil {
		s.setState(StateError)
		return nil, err
	}

	s.setState(StateAuthenticated)
	s.log.Info("login complete", "key", pending.key, "subject", cred.Subject, "expires_at", cred.ExpiresAt)
	return cred, nil
}

// finishLogin tears down the pending flow regardless of outcome.
func (s *Session) finishLogin(pending *pendingLogin) {
	pending.cancel()
	pending.listener.Stop()
	s.mu.Lock()
	if s.pending == pending {
		s.pending = nil
	}
	s.mu.Unlock()
}

func (s *Session) setState(state LoginState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// credentialFromToken converts an exchanged token into a stored credential,
// filling the subject from the ID token when one can be verified.
func (s *Session) credentialFromToken(ctx context.Context, token *oauth2.Token) *models.Credential {
	cred := &models.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
		Issuer:       s.issuer,
	}

	s.discoveryMu.Lock()
	verifier := s.idVerifier
	s.discoveryMu.Unlock()

	rawID, ok := token.Extra("id_token").(string)
	if !ok || verifier == nil {
		return cred
	}
	idToken, err := verifier.Verify(ctx, rawID)
	if err != nil {
		s.log.Warn("id token verification failed", "error", err)
		return cred
	}
	cred.Subject = idToken.Subject
	return cred
}

// CancelLogin aborts a pending login flow, if any.
func (s *Session) CancelLogin() {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending == nil {
		return
	}
	s.finishLogin(pending)
	s.setState(StateIdle)
}

// EnsureFresh returns a credential guaranteed to be valid past the expiry
// skew, refreshing it first when needed. A missing credential, a credential
// with no refresh token, or a failed refresh all surface as
// ErrReauthRequired; a stale credential is never returned.
func (s *Session) EnsureFresh(ctx context.Context, key string) (*models.Credential, error) {
	cred, err := s.store.Get(key)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrReauthRequired
	}
	if !cred.ExpiresWithin(models.DefaultExpirySkew) {
		return cred, nil
	}

	if cred.RefreshToken == "" {
		_ = s.store.Clear(key)
		return nil, fmt.Errorf("%w: credential expired and not refreshable", ErrReauthRequired)
	}

	refreshed, err := s.refresh(ctx, cred)
	if err != nil {
		s.log.Warn("credential refresh failed", "key", key, "error", err)
		_ = s.store.Clear(key)
		return nil, fmt.Errorf("%w: %v", ErrReauthRequired, err)
	}

	if err := s.store.Put(key, refreshed); err != nil {
		return nil, err
	}
	s.log.Debug("credential refreshed", "key", key, "expires_at", refreshed.ExpiresAt)
	return refreshed, nil
}

// refresh exchanges the refresh token for a new credential.
func (s *Session) refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	if err := s.ensureEndpoints(ctx); err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	cfg := s.oauthConfig("")
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, err
	}

	next := &models.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
		Subject:      cred.Subject,
		Issuer:       cred.Issuer,
	}
	// Some servers do not rotate the refresh token; keep the old one then.
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}
	return next, nil
}

// Logout revokes the credential at the authorization server on a best-effort
// basis and removes it from the store unconditionally. It also aborts any
// pending login flow.
func (s *Session) Logout(ctx context.Context, key string) error {
	s.CancelLogin()

	cred, err := s.store.Get(key)
	if err == nil && cred != nil {
		s.revoke(ctx, cred)
	}

	if err := s.store.Clear(key); err != nil {
		return err
	}
	s.setState(StateIdle)
	s.log.Info("logged out", "key", key)
	return nil
}

// revoke tells the authorization server to invalidate the credential.
// Failures are logged and swallowed: the local credential is removed either
// way, and the token will age out server-side.
func (s *Session) revoke(ctx context.Context, cred *models.Credential) {
	if err := s.ensureEndpoints(ctx); err != nil {
		s.log.Warn("revocation skipped, discovery failed", "error", err)
		return
	}
	if s.revocationEndpoint == "" {
		return
	}

	revokeOne := func(token, hint string) {
		form := url.Values{
			"token":           {token},
			"token_type_hint": {hint},
			"client_id":       {s.clientID},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.revocationEndpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := s.httpClient.Do(req)
		if err != nil {
			s.log.Warn("token revocation failed", "hint", hint, "error", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			s.log.Warn("token revocation rejected", "hint", hint, "status", resp.StatusCode)
		}
	}

	if cred.RefreshToken != "" {
		revokeOne(cred.RefreshToken, "refresh_token")
	}
	revokeOne(cred.AccessToken, "access_token")
}

// CurrentStatus reports where the session stands for the given key.
func (s *Session) CurrentStatus(key string) Status {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	st := Status{State: state}
	cred, err := s.store.Get(key)
	if err != nil || cred == nil {
		return st
	}
	st.Authenticated = !cred.Expired()
	st.Subject = cred.Subject
	st.ExpiresAt = cred.ExpiresAt
	return st
}
