// Package auth owns the OAuth credential lifecycle for one platform account:
// loading a persisted credential, serving fresh access tokens, refreshing via
// a provider-specific exchange, and persisting every refresh through the
// token store.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scorewatch/scorewatch/telemetry"
)

// ErrNotAuthorized is returned when a session has no usable credential and no
// bootstrap collaborator is available. The session stays unusable until a
// credential arrives through SetCredential or a bootstrapper.
var ErrNotAuthorized = errors.New("auth: no credential for session")

// Credential is one platform's access/refresh token pair. It is stored as an
// opaque JSON blob under the session's key.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
}

// expired reports whether the access token is past (or within leeway of) expiry.
// A zero ExpiresAt means the provider gave no expiry; treat the token as live.
func (c Credential) expired(leeway time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(c.ExpiresAt) <= leeway
}

// Store is the durable key -> JSON blob mapping credentials persist through.
type Store interface {
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (value string, ok bool, err error)
}

// RefreshFunc exchanges a refresh token for a new credential.
type RefreshFunc func(ctx context.Context, refreshToken string) (Credential, error)

// Bootstrapper acquires an initial credential when none is persisted, e.g.
// an interactive authorization-code flow running elsewhere in the process.
type Bootstrapper interface {
	Authorize(ctx context.Context) (Credential, error)
}

// Session holds one platform credential and keeps it fresh. At most one
// refresh exchange is in flight at a time; concurrent callers needing a fresh
// token block on the same exchange rather than spending the refresh token
// twice (providers invalidate a refresh token on first use).
type Session struct {
	provider  string
	accountID string
	store     Store
	refresh   RefreshFunc
	bootstrap Bootstrapper
	leeway    time.Duration

	// onRefresh observes every credential change, e.g. to hand the new
	// token to a long-lived IRC connection.
	onRefresh func(Credential)

	mu     sync.RWMutex
	cred   Credential
	loaded bool
}

// Option configures a Session.
type Option func(*Session)

// WithBootstrapper supplies the initial-authorization collaborator.
func WithBootstrapper(b Bootstrapper) Option {
	return func(s *Session) { s.bootstrap = b }
}

// WithLeeway overrides how long before expiry a token counts as stale.
func WithLeeway(d time.Duration) Option {
	return func(s *Session) { s.leeway = d }
}

// WithRefreshHook registers a callback invoked (outside the session lock is
// not guaranteed; keep it cheap) after every credential change.
func WithRefreshHook(fn func(Credential)) Option {
	return func(s *Session) { s.onRefresh = fn }
}

// NewSession creates a session for one (provider, accountID) pair. The
// session is unusable until Bootstrap or SetCredential succeeds.
func NewSession(provider, accountID string, store Store, refresh RefreshFunc, opts ...Option) *Session {
	s := &Session{
		provider:  provider,
		accountID: accountID,
		store:     store,
		refresh:   refresh,
		leeway:    60 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Provider returns the platform name the session serves.
func (s *Session) Provider() string { return s.provider }

// Key is the token store key: one row per (platform, accountId).
func (s *Session) Key() string { return s.provider + ":" + s.accountID }

// Authorized reports whether the session currently holds a credential.
func (s *Session) Authorized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Bootstrap loads the persisted credential, falling back to the bootstrap
// collaborator when none exists. Without either it returns ErrNotAuthorized.
func (s *Session) Bootstrap(ctx context.Context) error {
	blob, ok, err := s.store.Get(ctx, s.Key())
	if err != nil {
		return fmt.Errorf("load credential %s: %w", s.Key(), err)
	}
	if ok {
		var cred Credential
		if err := json.Unmarshal([]byte(blob), &cred); err != nil {
			return fmt.Errorf("parse credential %s: %w", s.Key(), err)
		}
		s.install(cred)
		slog.Info("session bootstrapped from store", slog.String("provider", s.provider))
		return nil
	}
	if s.bootstrap == nil {
		return ErrNotAuthorized
	}
	cred, err := s.bootstrap.Authorize(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap %s: %w", s.provider, err)
	}
	if err := s.persist(ctx, cred); err != nil {
		return err
	}
	s.install(cred)
	slog.Info("session bootstrapped via authorization flow", slog.String("provider", s.provider))
	return nil
}

// SetCredential installs and persists a credential handed in from outside,
// e.g. the HTTP authorization-code callback.
func (s *Session) SetCredential(ctx context.Context, cred Credential) error {
	if err := s.persist(ctx, cred); err != nil {
		return err
	}
	s.install(cred)
	return nil
}

// Token returns a currently valid access token, refreshing first when the
// held token is stale. Refresh failure surfaces the error and keeps the stale
// credential for the next attempt.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	if !s.loaded {
		s.mu.RUnlock()
		return "", ErrNotAuthorized
	}
	if !s.cred.expired(s.leeway) {
		tok := s.cred.AccessToken
		s.mu.RUnlock()
		return tok, nil
	}
	s.mu.RUnlock()

	cred, err := s.Refresh(ctx)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// Refresh performs the refresh-token exchange and persists the result. A
// caller arriving while another refresh is in flight blocks on the session
// lock and then observes that refresh's result instead of starting its own.
func (s *Session) Refresh(ctx context.Context) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return Credential{}, ErrNotAuthorized
	}
	// A concurrent caller may have completed the exchange while we waited.
	if !s.cred.expired(s.leeway) {
		return s.cred, nil
	}
	return s.refreshLocked(ctx)
}

// refreshLocked runs the exchange; s.mu must be held.
func (s *Session) refreshLocked(ctx context.Context) (Credential, error) {
	cred, err := s.refresh(ctx, s.cred.RefreshToken)
	telemetry.CountTokenRefresh(s.provider, err)
	if err != nil {
		slog.Warn("token refresh failed", slog.String("provider", s.provider), slog.Any("err", err))
		return Credential{}, fmt.Errorf("refresh %s: %w", s.provider, err)
	}
	// Some providers rotate the refresh token only sometimes.
	if cred.RefreshToken == "" {
		cred.RefreshToken = s.cred.RefreshToken
	}
	if cred.Scope == "" {
		cred.Scope = s.cred.Scope
	}
	if err := s.persist(ctx, cred); err != nil {
		slog.Warn("token persist failed", slog.String("provider", s.provider), slog.Any("err", err))
		return Credential{}, err
	}
	s.cred = cred
	if s.onRefresh != nil {
		s.onRefresh(cred)
	}
	slog.Info("token refreshed", slog.String("provider", s.provider))
	return cred, nil
}

func (s *Session) persist(ctx context.Context, cred Credential) error {
	blob, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := s.store.Put(ctx, s.Key(), string(blob)); err != nil {
		return fmt.Errorf("persist credential %s: %w", s.Key(), err)
	}
	return nil
}

func (s *Session) install(cred Credential) {
	s.mu.Lock()
	s.cred = cred
	s.loaded = true
	s.mu.Unlock()
	if s.onRefresh != nil {
		s.onRefresh(cred)
	}
}
