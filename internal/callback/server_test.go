package callback

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-pulsedash/pulsedash/internal/api"
	"github.com/go-pulsedash/pulsedash/internal/config"
	"github.com/go-pulsedash/pulsedash/internal/handshake"
)

const testOrigin = "http://localhost:8091"

func newTestServer(t *testing.T, backend http.Handler) (*Server, *handshake.Bridge, <-chan handshake.Message) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	client, err := api.New(srv.URL)
	require.NoError(t, err)

	bridge := handshake.NewBridge([]string{testOrigin}, nil)

	cfg := &config.Config{
		CallbackAddr:      ":0",
		CallbackBaseURL:   testOrigin,
		SuccessCloseDelay: 2 * time.Second,
		ErrorCloseDelay:   3 * time.Second,
	}

	s, err := New(cfg, client, bridge, nil)
	require.NoError(t, err)

	// Register a waiter the way the coordinator does.
	msgs, cancel := bridge.Subscribe("youtube")
	t.Cleanup(cancel)
	return s, bridge, msgs
}

func get(s *Server, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestCallbackSuccess(t *testing.T) {
	var exchanged bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/social-media/auth/callback", func(w http.ResponseWriter, r *http.Request) {
		exchanged = true
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "youtube", body["provider"])
		assert.Equal(t, "4/code", body["code"])
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})

	s, _, msgs := newTestServer(t, mux)
	w := get(s, "/oauth/callback?state=youtube:n1&code=4%2Fcode")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, exchanged)
	assert.Contains(t, w.Body.String(), "connected")
	assert.Contains(t, w.Body.String(), "window.close()},2000")

	select {
	case msg := <-msgs:
		assert.Equal(t, handshake.MessageSuccess, msg.Type)
		assert.Equal(t, "youtube", msg.Provider)
	case <-time.After(time.Second):
		t.Fatal("expected a success message on the bridge")
	}
}

func TestCallbackProviderDenied(t *testing.T) {
	var exchanged bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/social-media/auth/callback", func(w http.ResponseWriter, r *http.Request) {
		exchanged = true
	})

	s, _, msgs := newTestServer(t, mux)
	w := get(s, "/oauth/callback?state=youtube:n1&error=access_denied")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, exchanged)
	assert.Contains(t, w.Body.String(), "denied")
	assert.Contains(t, w.Body.String(), "window.close()},3000")

	select {
	case msg := <-msgs:
		assert.Equal(t, handshake.MessageFailure, msg.Type)
		assert.Equal(t, handshake.ReasonAuthDenied, msg.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected a failure message on the bridge")
	}
}

func TestCallbackMissingCodeSkipsExchange(t *testing.T) {
	var exchanged bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/social-media/auth/callback", func(w http.ResponseWriter, r *http.Request) {
		exchanged = true
	})

	s, _, msgs := newTestServer(t, mux)
	w := get(s, "/oauth/callback?state=youtube:n1")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, exchanged)
	// The page stays open; no auto-close script is emitted.
	assert.NotContains(t, w.Body.String(), "window.close")

	select {
	case msg := <-msgs:
		assert.Equal(t, handshake.ReasonMissingParameters, msg.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected a failure message on the bridge")
	}
}

func TestCallbackExchangeFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/social-media/auth/callback", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":"error","message":"invalid code"}`, http.StatusBadRequest)
	})

	s, _, msgs := newTestServer(t, mux)
	w := get(s, "/oauth/callback?state=youtube:n1&code=bad")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "could not be linked")
	assert.NotContains(t, w.Body.String(), "window.close")

	select {
	case msg := <-msgs:
		assert.Equal(t, handshake.ReasonExchangeFailure, msg.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected a failure message on the bridge")
	}
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t, http.NewServeMux())
	w := get(s, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
