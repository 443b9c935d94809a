// Package credstore persists bearer credentials in the platform secret
// facility (OS keyring), keyed by session. Credentials never touch plain
// files; the only file this package knows about is the legacy token cache
// left behind by older device-flow logins, which Clear removes.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zalando/go-keyring"

	"registry-mcp/pkg/models"
)

// ErrStoreUnavailable indicates the platform secret facility could not be
// reached. Callers must treat this as "not authenticated", never as
// "authenticated with no credential".
var ErrStoreUnavailable = errors.New("secret store unavailable")

// DefaultService is the keyring service name credentials are filed under.
const DefaultService = "registry-mcp"

// Store reads and writes one credential per session key. Put and Clear for
// the same key are serialized so a fresh login and a logout cannot race into
// a lost update.
type Store struct {
	service string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// legacyDir holds per-session token cache files written by older
	// releases; Clear sweeps them.
	legacyDir string
}

// Option configures a Store.
type Option func(*Store)

// WithService overrides the keyring service name.
func WithService(service string) Option {
	return func(s *Store) { s.service = service }
}

// WithLegacyCacheDir overrides where residual token cache files are looked
// for during Clear.
func WithLegacyCacheDir(dir string) Option {
	return func(s *Store) { s.legacyDir = dir }
}

// New creates a credential store.
func New(opts ...Option) *Store {
	s := &Store{
		service: DefaultService,
		locks:   make(map[string]*sync.Mutex),
	}
	if home, err := os.UserHomeDir(); err == nil {
		s.legacyDir = filepath.Join(home, ".config", "registry-mcp", "tokens")
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// keyLock returns the mutex guarding a single session key.
func (s *Store) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Put stores the credential for the session key, replacing any previous one.
func (s *Store) Put(key string, cred *models.Credential) error {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := keyring.Set(s.service, key, string(payload)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get retrieves the credential for the session key. A missing credential is
// reported as (nil, nil); only a facility failure produces an error.
func (s *Store) Get(key string) (*models.Credential, error) {
	payload, err := keyring.Get(s.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var cred models.Credential
	if err := json.Unmarshal([]byte(payload), &cred); err != nil {
		// An unreadable entry is as good as no entry; drop it.
		_ = keyring.Delete(s.service, key)
		return nil, nil
	}
	return &cred, nil
}

// Clear removes the credential for the session key and any residual legacy
// token cache file. Clearing an absent credential is not an error.
func (s *Store) Clear(key string) error {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	err := keyring.Delete(s.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if s.legacyDir != "" {
		// Best effort; a stale cache file must not block logout.
		_ = os.Remove(filepath.Join(s.legacyDir, key+".json"))
	}
	return nil
}
