package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-pulsedash/pulsedash/internal/api"
	"github.com/go-pulsedash/pulsedash/internal/models"
)

const testOrigin = "http://localhost:8091"

type fakeReconciler struct {
	conns []models.Connection
	err   error
	calls int
}

func (f *fakeReconciler) FetchConnections(ctx context.Context) ([]models.Connection, error) {
	f.calls++
	return f.conns, f.err
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) listen(provider string, s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) saw(s State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.states {
		if got == s {
			return true
		}
	}
	return false
}

func authURLServer(t *testing.T, authURL string) *api.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/social-media/auth/url", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body["provider"])
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"data":   map[string]string{"auth_url": authURL},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := api.New(srv.URL)
	require.NoError(t, err)
	return client
}

func TestConnectSuccess(t *testing.T) {
	bridge := NewBridge([]string{testOrigin}, nil)
	reconciler := &fakeReconciler{conns: []models.Connection{
		{ID: "c9", Provider: "facebook_page", Username: "pulse"},
	}}

	opener := OpenerFunc(func(url string) error {
		assert.Equal(t, "https://provider.example/consent", url)
		// The redirect arrives while Connect is waiting.
		go bridge.Post(Message{Type: MessageSuccess, Origin: testOrigin, Provider: "facebook_page"})
		return nil
	})

	rec := &stateRecorder{}
	coord := NewCoordinator(
		authURLServer(t, "https://provider.example/consent"),
		bridge, opener, reconciler,
		WithStateListener(rec.listen),
	)

	conn, err := coord.Connect(context.Background(), "facebook_page")
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, "c9", conn.ID)
	assert.Equal(t, 1, reconciler.calls)
	assert.True(t, rec.saw(StateDone))
}

func TestConnectPrefersExactProvider(t *testing.T) {
	bridge := NewBridge([]string{testOrigin}, nil)
	// A previously linked facebook account shares the family with the
	// facebook_page being connected; the new link must win.
	reconciler := &fakeReconciler{conns: []models.Connection{
		{ID: "c1", Provider: "facebook", Username: "old-profile"},
		{ID: "c2", Provider: "facebook_page", Username: "pulse"},
	}}

	opener := OpenerFunc(func(string) error {
		go bridge.Post(Message{Type: MessageSuccess, Origin: testOrigin, Provider: "facebook_page"})
		return nil
	})

	coord := NewCoordinator(authURLServer(t, "https://provider.example/consent"),
		bridge, opener, reconciler)

	conn, err := coord.Connect(context.Background(), "facebook_page")
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, "c2", conn.ID)
	assert.Equal(t, "facebook_page", conn.Provider)
}

func TestConnectURLFetchError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/social-media/auth/url", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":"error","message":"unknown provider"}`, http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client, err := api.New(srv.URL)
	require.NoError(t, err)

	opened := false
	coord := NewCoordinator(client, NewBridge([]string{testOrigin}, nil),
		OpenerFunc(func(string) error { opened = true; return nil }),
		&fakeReconciler{})

	_, err = coord.Connect(context.Background(), "youtube")
	var hsErr *Error
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, ReasonURLFetchError, hsErr.Reason)
	assert.False(t, opened)
}

func TestConnectPopupBlocked(t *testing.T) {
	rec := &stateRecorder{}
	coord := NewCoordinator(
		authURLServer(t, "https://provider.example/consent"),
		NewBridge([]string{testOrigin}, nil),
		OpenerFunc(func(string) error { return errors.New("no display") }),
		&fakeReconciler{},
		WithStateListener(rec.listen),
	)

	_, err := coord.Connect(context.Background(), "youtube")
	var hsErr *Error
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, ReasonPopupBlocked, hsErr.Reason)
	// A blocked browser launch never reaches the waiting phase.
	assert.False(t, rec.saw(StateAwaitingCode))
}

func TestConnectFailureMessage(t *testing.T) {
	bridge := NewBridge([]string{testOrigin}, nil)
	opener := OpenerFunc(func(string) error {
		go bridge.Post(Message{
			Type: MessageFailure, Origin: testOrigin,
			Provider: "youtube", Reason: ReasonAuthDenied,
		})
		return nil
	})

	reconciler := &fakeReconciler{}
	coord := NewCoordinator(authURLServer(t, "https://provider.example/consent"),
		bridge, opener, reconciler)

	_, err := coord.Connect(context.Background(), "youtube")
	var hsErr *Error
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, ReasonAuthDenied, hsErr.Reason)
	assert.Equal(t, 0, reconciler.calls)
}

func TestConnectContextCancelled(t *testing.T) {
	coord := NewCoordinator(
		authURLServer(t, "https://provider.example/consent"),
		NewBridge([]string{testOrigin}, nil),
		OpenerFunc(func(string) error { return nil }),
		&fakeReconciler{},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := coord.Connect(ctx, "youtube")
	var hsErr *Error
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, ReasonTimeout, hsErr.Reason)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnectOnePerProvider(t *testing.T) {
	bridge := NewBridge([]string{testOrigin}, nil)
	started := make(chan struct{})
	var once sync.Once

	coord := NewCoordinator(
		authURLServer(t, "https://provider.example/consent"),
		bridge,
		OpenerFunc(func(string) error { once.Do(func() { close(started) }); return nil }),
		&fakeReconciler{},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := coord.Connect(ctx, "youtube")
		errc <- err
	}()

	<-started
	_, err := coord.Connect(context.Background(), "youtube")
	assert.ErrorIs(t, err, ErrHandshakeInFlight)

	// A different provider is not blocked by the in-flight youtube
	// handshake; it fails on its own terms instead.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = coord.Connect(ctx2, "instagram")
	assert.NotErrorIs(t, err, ErrHandshakeInFlight)

	cancel()
	<-errc

	// The slot frees up once the first handshake ends.
	ctx3, cancel3 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel3()
	_, err = coord.Connect(ctx3, "youtube")
	assert.NotErrorIs(t, err, ErrHandshakeInFlight)
}
