// Package callback runs the loopback HTTP server that receives the OAuth
// redirect from the provider. It parses the redirect, performs the code
// exchange against the backend and notifies the handshake coordinator
// through the bridge. The pages it serves are what the user sees in the
// browser window that the consent flow opened.
package callback

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/go-pulsedash/pulsedash/internal/api"
	"github.com/go-pulsedash/pulsedash/internal/config"
	"github.com/go-pulsedash/pulsedash/internal/handshake"
	"github.com/go-pulsedash/pulsedash/internal/metrics"
	"github.com/go-pulsedash/pulsedash/internal/middleware"
	"github.com/go-pulsedash/pulsedash/internal/templates"
)

// Server is the loopback callback endpoint.
type Server struct {
	cfg     *config.Config
	client  *api.Client
	bridge  *handshake.Bridge
	metrics metrics.Recorder
	engine  *gin.Engine
}

// New builds the callback server and its routes.
func New(cfg *config.Config, client *api.Client, bridge *handshake.Bridge, rec metrics.Recorder) (*Server, error) {
	if rec == nil {
		rec = metrics.NewNoopMetrics()
	}

	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		client:  client,
		bridge:  bridge,
		metrics: rec,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(metrics.HTTPMetricsMiddleware(rec))

	if cfg.EnableRateLimit {
		limiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: cfg.CallbackRateLimit,
			CleanupInterval:   cfg.RateLimitCleanupInterval,
			StoreType:         middleware.RateLimitStoreType(cfg.RateLimitStore),
			RedisAddr:         cfg.RedisAddr,
			RedisPassword:     cfg.RedisPassword,
			RedisDB:           cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		engine.Use(limiter)
	}

	engine.GET("/oauth/callback", s.handleCallback)
	engine.GET("/healthz", s.handleHealthz)

	if cfg.MetricsEnabled {
		handler := gin.WrapH(promhttp.Handler())
		if cfg.MetricsToken != "" {
			engine.GET("/metrics", metrics.AuthMiddleware(cfg.MetricsToken), handler)
		} else {
			engine.GET("/metrics", handler)
		}
	}

	s.engine = engine
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.CallbackAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("[callback] listening on %s", s.cfg.CallbackAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("callback server shutdown: %w", err)
		}
		return <-errc
	}
}

type exchangeRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

// handleCallback processes the provider redirect. The window the user is
// looking at only auto-closes on terminal outcomes; pages for incomplete
// redirects stay open so the message can be read.
func (s *Server) handleCallback(c *gin.Context) {
	cb := handshake.ParseCallback(c.Request.URL.Query())

	if cb.ErrorCode != "" {
		log.Printf("[callback] provider denied %s: %s", cb.Provider, cb.ErrorCode)
		s.notifyFailure(cb.Provider, handshake.ReasonAuthDenied)
		s.renderError(c, cb.Provider,
			"The authorization request was denied.", s.cfg.ErrorCloseDelay)
		return
	}

	if !cb.Complete() {
		log.Printf("[callback] incomplete redirect (provider=%q, code present=%t)",
			cb.Provider, cb.Code != "")
		s.notifyFailure(cb.Provider, handshake.ReasonMissingParameters)
		s.renderError(c, cb.Provider,
			"The redirect is missing required parameters. Close this window and retry the connection.", 0)
		return
	}

	log.Printf("[handshake] %s -> %s", cb.Provider, handshake.StateExchanging)
	if err := s.client.Post(c.Request.Context(), "/api/social-media/auth/callback", exchangeRequest{
		Provider: cb.Provider,
		Code:     cb.Code,
	}, nil); err != nil {
		log.Printf("[callback] code exchange for %s failed: %v", cb.Provider, err)
		s.notifyFailure(cb.Provider, handshake.ReasonExchangeFailure)
		s.renderError(c, cb.Provider,
			"The account could not be linked. Close this window and retry the connection.", 0)
		return
	}

	s.bridge.Post(handshake.Message{
		Type:     handshake.MessageSuccess,
		Origin:   s.cfg.CallbackBaseURL,
		Provider: cb.Provider,
	})

	templates.RenderTempl(c, http.StatusOK, templates.SuccessPage(templates.SuccessPageProps{
		Provider:   cb.Provider,
		CloseDelay: s.cfg.SuccessCloseDelay,
	}))
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// notifyFailure forwards a terminal failure to whoever is waiting on the
// handshake. A redirect without a provider has nobody to notify.
func (s *Server) notifyFailure(provider, reason string) {
	if provider == "" {
		return
	}
	s.bridge.Post(handshake.Message{
		Type:     handshake.MessageFailure,
		Origin:   s.cfg.CallbackBaseURL,
		Provider: provider,
		Reason:   reason,
	})
}

func (s *Server) renderError(c *gin.Context, provider, message string, closeDelay time.Duration) {
	templates.RenderTempl(c, http.StatusOK, templates.ErrorPage(templates.ErrorPageProps{
		Provider:   provider,
		Message:    message,
		CloseDelay: closeDelay,
	}))
}
