package handshake

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-pulsedash/pulsedash/internal/api"
	"github.com/go-pulsedash/pulsedash/internal/metrics"
	"github.com/go-pulsedash/pulsedash/internal/models"
)

// Opener launches the provider consent page. The production implementation
// opens the system browser; a failure means the user never saw the page.
type Opener interface {
	Open(url string) error
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(url string) error

// Open implements Opener.
func (f OpenerFunc) Open(url string) error { return f(url) }

// Reconciler refreshes the connection list after a completed handshake.
type Reconciler interface {
	FetchConnections(ctx context.Context) ([]models.Connection, error)
}

// StateListener observes handshake phase transitions.
type StateListener func(provider string, state State)

// Coordinator drives connect handshakes end to end. It enforces one
// handshake per provider at a time; concurrent handshakes for different
// providers are independent.
type Coordinator struct {
	client    *api.Client
	bridge    *Bridge
	opener    Opener
	reconcile Reconciler
	metrics   metrics.Recorder
	onState   StateListener

	mu       sync.Mutex
	inflight map[string]struct{}
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) CoordinatorOption {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithStateListener registers a transition observer.
func WithStateListener(fn StateListener) CoordinatorOption {
	return func(c *Coordinator) {
		c.onState = fn
	}
}

// NewCoordinator wires the handshake driver.
func NewCoordinator(client *api.Client, bridge *Bridge, opener Opener, reconcile Reconciler, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		client:    client,
		bridge:    bridge,
		opener:    opener,
		reconcile: reconcile,
		metrics:   metrics.NewNoopMetrics(),
		inflight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type authURLResponse struct {
	AuthURL string `json:"auth_url"`
	URL     string `json:"url"`
}

func (r authURLResponse) location() string {
	if r.AuthURL != "" {
		return r.AuthURL
	}
	return r.URL
}

// Connect runs one handshake for the provider and returns the resulting
// connection once the backend knows about it. Cancel the context to abort
// a handshake stuck waiting for the browser redirect.
//
// The returned connection is nil when the handshake succeeded but the
// refreshed connection list contains no account for the provider family;
// the backend owns reconciliation and the list is still authoritative.
func (c *Coordinator) Connect(ctx context.Context, provider string) (*models.Connection, error) {
	c.mu.Lock()
	if _, busy := c.inflight[provider]; busy {
		c.mu.Unlock()
		return nil, ErrHandshakeInFlight
	}
	c.inflight[provider] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, provider)
		c.mu.Unlock()
	}()

	start := time.Now()
	conn, err := c.run(ctx, provider)
	if err != nil {
		c.metrics.RecordHandshake(provider, "error", time.Since(start))
		return nil, err
	}
	c.metrics.RecordHandshake(provider, "success", time.Since(start))
	return conn, nil
}

func (c *Coordinator) run(ctx context.Context, provider string) (*models.Connection, error) {
	c.setState(provider, StateURLRequested)
	var resp authURLResponse
	err := c.client.Post(ctx, "/api/social-media/auth/url", map[string]string{
		"provider": provider,
		"platform": models.ProviderFamily(provider),
	}, &resp)
	if err != nil {
		return nil, c.fail(provider, ReasonURLFetchError, err)
	}
	authURL := resp.location()
	if authURL == "" {
		return nil, c.fail(provider, ReasonURLFetchError, nil)
	}

	// Subscribe before opening the browser so a fast redirect cannot race
	// past the waiter.
	msgs, cancel := c.bridge.Subscribe(provider)
	defer cancel()

	c.setState(provider, StatePopupOpen)
	if err := c.opener.Open(authURL); err != nil {
		return nil, c.fail(provider, ReasonPopupBlocked, err)
	}

	c.setState(provider, StateAwaitingCode)
	select {
	case <-ctx.Done():
		return nil, c.fail(provider, ReasonTimeout, ctx.Err())
	case msg := <-msgs:
		if msg.Type == MessageFailure {
			return nil, c.fail(provider, msg.Reason, nil)
		}
	}

	c.setState(provider, StateReconciling)
	conns, err := c.reconcile.FetchConnections(ctx)
	if err != nil {
		c.setState(provider, StateFailed)
		return nil, err
	}

	c.setState(provider, StateDone)
	for i := range conns {
		if conns[i].Provider == provider {
			return &conns[i], nil
		}
	}
	// Some providers report the linked account under a sibling name
	// (e.g. facebook vs facebook_page), so fall back to the family.
	family := models.ProviderFamily(provider)
	for i := range conns {
		if conns[i].Family() == family {
			return &conns[i], nil
		}
	}
	return nil, nil
}

func (c *Coordinator) fail(provider, reason string, err error) error {
	c.setState(provider, StateFailed)
	return &Error{Provider: provider, Reason: reason, Err: err}
}

func (c *Coordinator) setState(provider string, state State) {
	log.Printf("[handshake] %s -> %s", provider, state)
	if c.onState != nil {
		c.onState(provider, state)
	}
}
