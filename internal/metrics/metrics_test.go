package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestInitDisabledReturnsNoop(t *testing.T) {
	m := Init(false)

	_, isNoop := m.(*NoopMetrics)
	assert.True(t, isNoop, "disabled metrics should be the noop recorder")

	// Noop methods must be safe to call.
	m.RecordHandshake("youtube", "success", time.Second)
	m.RecordBridgeMessage(true)
	m.RecordWidgetRefresh("youtube", "error")
	m.RecordSnapshotCache(false)
	m.RecordAPIRequest("GET", "/api/widget/social-stats", 200, time.Millisecond)
	m.RecordForcedLogout()
}

func TestInitEnabledIsSingleton(t *testing.T) {
	a := Init(true)
	b := Init(true)

	assert.Same(t, a, b, "prometheus recorder must be registered once")

	m, ok := a.(*Metrics)
	assert.True(t, ok)

	// Recording must not panic with real collectors.
	m.RecordHandshake("facebook", "success", 3*time.Second)
	m.RecordHandshake("facebook", "popup-blocked", 0)
	m.RecordWidgetRefresh("facebook", "success")
	m.RecordSnapshotCache(true)
	m.RecordAPIRequest("POST", "/api/social-media/auth/callback", 502, 10*time.Millisecond)
	m.RecordForcedLogout()
	m.RecordBridgeMessage(false)
}

func TestHTTPMetricsMiddlewareNoopPassThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(HTTPMetricsMiddleware(NewNoopMetrics()))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/metrics", AuthMiddleware("secret"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{name: "missing header", authHeader: "", wantStatus: http.StatusUnauthorized},
		{name: "not bearer", authHeader: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", authHeader: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "valid token", authHeader: "Bearer secret", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
