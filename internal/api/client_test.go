package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := New(serverURL)
	require.NoError(t, err)
	return c
}

func TestGetDecodesEnvelopeData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/social-media/providers", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","data":{"providers":[{"provider":"youtube"}]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	var out struct {
		Providers []struct {
			Provider string `json:"provider"`
		} `json:"providers"`
	}
	err := c.Get(context.Background(), "/api/social-media/providers", nil, &out)
	require.NoError(t, err)
	require.Len(t, out.Providers, 1)
	assert.Equal(t, "youtube", out.Providers[0].Provider)
}

func TestBearerTokenAttached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.SetTokenSource(staticToken("tok-123"))

	require.NoError(t, c.Get(context.Background(), "/api/auth/profile", nil, nil))
}

func TestEmptyTokenOmitsHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.SetTokenSource(staticToken(""))

	require.NoError(t, c.Post(context.Background(), "/api/auth/login", map[string]string{
		"email": "a@b.c",
	}, nil))
}

func TestUnauthorizedInvokesHookForAnyEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"token expired"}`))
	}))
	defer srv.Close()

	paths := []string{
		"/api/auth/profile",
		"/api/social-media/connections",
		"/api/widget/social-stats",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			c := newTestClient(t, srv.URL)
			hookCalled := false
			c.SetOnUnauthorized(func() { hookCalled = true })

			err := c.Get(context.Background(), path, nil, nil)
			require.Error(t, err)
			assert.True(t, hookCalled, "401 must trigger the unauthorized hook")
			assert.True(t, IsUnauthorized(err))
			assert.Equal(t, "token expired", ErrorMessage(err))
		})
	}
}

func TestErrorMessageFallsBackWhenBodyUnusable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	err := c.Get(context.Background(), "/api/widget/social-stats", nil, nil)
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, genericMessage, ErrorMessage(err))
}

func TestQueryParametersEncoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("force_refresh"))
		assert.Equal(t, "conn-7", r.URL.Query().Get("connection_id"))
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	q := url.Values{}
	q.Set("force_refresh", "1")
	q.Set("connection_id", "conn-7")
	require.NoError(t, c.Get(context.Background(), "/api/widget/social-stats", q, nil))
}

func TestBareBodyWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"login_url":"https://provider.example/authorize"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	var out struct {
		LoginURL string `json:"login_url"`
	}
	err := c.Post(context.Background(), "/api/social-media/auth/url", map[string]string{
		"provider": "youtube",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "https://provider.example/authorize", out.LoginURL)
}

func TestContextCancellationAborts(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := newTestClient(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Get(ctx, "/api/social-media/connections", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMetricEndpointNormalization(t *testing.T) {
	assert.Equal(
		t,
		"/api/widget/preferences/:id/toggle",
		metricEndpoint("/api/widget/preferences/conn-93/toggle"),
	)
	assert.Equal(
		t,
		"/api/widget/preferences",
		metricEndpoint("/api/widget/preferences"),
	)
	assert.Equal(
		t,
		"/api/social-media/:platform/data",
		metricEndpoint("/api/social-media/youtube/data"),
	)
}
