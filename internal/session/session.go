// Package session owns the authenticated user state: the bearer token, the
// profile, and the login/register/logout/refresh operations. A 401 from any
// backend call funnels into ForceLogout through the API client's
// OnUnauthorized hook, so forced logout is one policy rather than a
// per-call decision.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/go-pulsedash/pulsedash/internal/api"
	"github.com/go-pulsedash/pulsedash/internal/metrics"
	"github.com/go-pulsedash/pulsedash/internal/models"
)

// Store holds the current session. All mutation happens under the mutex;
// the token is read by every API call via the TokenSource interface.
type Store struct {
	mu      sync.RWMutex
	client  *api.Client
	session models.Session
	loading bool

	metrics        metrics.Recorder
	onForcedLogout func()
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithForcedLogoutHook registers a callback invoked after a forced logout
// has cleared the session (the redirect-to-login analog).
func WithForcedLogoutHook(fn func()) Option {
	return func(s *Store) {
		s.onForcedLogout = fn
	}
}

// New creates a session store bound to the API client. The store registers
// itself as the client's token source and 401 hook.
func New(client *api.Client, opts ...Option) *Store {
	s := &Store{
		client:  client,
		metrics: metrics.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}

	client.SetTokenSource(s)
	client.SetOnUnauthorized(s.ForceLogout)
	return s
}

// Token implements api.TokenSource.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Token
}

// Current returns a copy of the session state.
func (s *Store) Current() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Loading reports whether a login or profile fetch is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type profileResponse struct {
	User models.User `json:"user"`
}

// Login authenticates with email and password, stores the issued token and
// loads the profile.
func (s *Store) Login(ctx context.Context, email, password string) error {
	s.setLoading(true)
	defer s.setLoading(false)

	var resp tokenResponse
	err := s.client.Post(ctx, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}

	s.setToken(resp.AccessToken)
	return s.loadProfile(ctx)
}

// Register creates an account, stores the issued token and loads the
// profile.
func (s *Store) Register(ctx context.Context, req models.RegisterRequest) error {
	s.setLoading(true)
	defer s.setLoading(false)

	var resp tokenResponse
	if err := s.client.Post(ctx, "/api/auth/register", req, &resp); err != nil {
		return err
	}

	s.setToken(resp.AccessToken)
	return s.loadProfile(ctx)
}

// Logout notifies the backend best-effort and always clears local state,
// even when the backend call fails.
func (s *Store) Logout(ctx context.Context) {
	if s.Token() != "" {
		if err := s.client.Post(ctx, "/api/auth/logout", nil, nil); err != nil {
			log.Printf("[session] logout notification failed: %v", err)
		}
	}
	s.clear()
}

// RefreshToken exchanges the current token for a fresh one. The new token
// is stored before returning, so requests issued afterwards use it.
func (s *Store) RefreshToken(ctx context.Context) error {
	var resp tokenResponse
	if err := s.client.Post(ctx, "/api/auth/refresh", nil, &resp); err != nil {
		return err
	}

	s.setToken(resp.AccessToken)
	return nil
}

// FetchProfile loads the user profile for the current token.
func (s *Store) FetchProfile(ctx context.Context) error {
	s.setLoading(true)
	defer s.setLoading(false)
	return s.loadProfile(ctx)
}

// UpdateProfile saves profile changes and reloads the authoritative copy.
func (s *Store) UpdateProfile(ctx context.Context, update models.ProfileUpdate) error {
	if err := s.client.Put(ctx, "/api/auth/profile", update, nil); err != nil {
		return err
	}
	return s.loadProfile(ctx)
}

func (s *Store) loadProfile(ctx context.Context) error {
	var resp profileResponse
	if err := s.client.Get(ctx, "/api/auth/profile", nil, &resp); err != nil {
		return err
	}

	s.mu.Lock()
	user := resp.User
	s.session.User = &user
	s.mu.Unlock()
	return nil
}

// SetToken installs a pre-issued token (non-interactive startup).
func (s *Store) SetToken(token string) {
	s.setToken(token)
}

// ForceLogout clears the session unconditionally. Wired as the API
// client's 401 hook; also safe to call directly.
func (s *Store) ForceLogout() {
	if s.Token() == "" {
		return
	}
	log.Printf("[session] backend returned 401, clearing session")
	s.metrics.RecordForcedLogout()
	s.clear()
	if s.onForcedLogout != nil {
		s.onForcedLogout()
	}
}

func (s *Store) clear() {
	s.mu.Lock()
	s.session = models.Session{}
	s.mu.Unlock()
}

func (s *Store) setToken(token string) {
	s.mu.Lock()
	s.session.Token = token
	s.session.TokenExpiry = tokenExpiry(token)
	s.mu.Unlock()
}

func (s *Store) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

// tokenExpiry reads the exp claim without verifying the signature; the
// backend owns issuance and the agent holds no verification key. A token
// without a readable exp claim gets a zero expiry (never considered
// expired locally).
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
