package handshake

import (
	"log"
	"sync"

	"github.com/go-pulsedash/pulsedash/internal/metrics"
)

// Message types the bridge accepts. Anything else is dropped.
const (
	MessageSuccess = "oauth-success"
	MessageFailure = "oauth-error"
)

// Message is the completion notification posted by the callback server
// when a provider redirect has been handled.
type Message struct {
	Type     string `json:"type"`
	Origin   string `json:"origin"`
	Provider string `json:"provider"`
	Reason   string `json:"reason,omitempty"`
}

// Bridge delivers callback completion messages to the coordinator waiting
// on them. Messages from origins outside the allow list are dropped
// without error, as are malformed messages; a hostile or confused sender
// learns nothing from the bridge.
type Bridge struct {
	mu      sync.Mutex
	origins map[string]struct{}
	waiters map[string]chan Message
	metrics metrics.Recorder
}

// NewBridge creates a bridge accepting messages only from the given
// origins.
func NewBridge(allowedOrigins []string, rec metrics.Recorder) *Bridge {
	if rec == nil {
		rec = metrics.NewNoopMetrics()
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Bridge{
		origins: origins,
		waiters: make(map[string]chan Message),
		metrics: rec,
	}
}

// Post delivers a message to the waiter registered for its provider.
// Unknown origins, unknown types, empty providers, and providers nobody
// is waiting on are all silently dropped.
func (b *Bridge) Post(msg Message) {
	if !b.accept(msg) {
		b.metrics.RecordBridgeMessage(false)
		return
	}

	b.mu.Lock()
	ch, ok := b.waiters[msg.Provider]
	b.mu.Unlock()
	if !ok {
		b.metrics.RecordBridgeMessage(false)
		log.Printf("[bridge] no waiter for provider %q, dropping message", msg.Provider)
		return
	}

	b.metrics.RecordBridgeMessage(true)
	select {
	case ch <- msg:
	default:
		// The waiter buffer holds one message; a second delivery for the
		// same handshake is a duplicate and gets dropped.
	}
}

func (b *Bridge) accept(msg Message) bool {
	if msg.Type != MessageSuccess && msg.Type != MessageFailure {
		return false
	}
	if msg.Provider == "" {
		return false
	}
	if _, ok := b.origins[msg.Origin]; !ok {
		log.Printf("[bridge] dropping message from unlisted origin %q", msg.Origin)
		return false
	}
	return true
}

// Subscribe registers a waiter for one provider. The returned cancel
// func must be called when the handshake ends.
func (b *Bridge) Subscribe(provider string) (<-chan Message, func()) {
	ch := make(chan Message, 1)
	b.mu.Lock()
	b.waiters[provider] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if b.waiters[provider] == ch {
			delete(b.waiters, provider)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
