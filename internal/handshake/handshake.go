// Package handshake coordinates the OAuth connect flow: requesting an
// authorization URL from the backend, opening the provider consent page in
// a browser, receiving the redirect on the loopback callback server and
// reconciling the connection list afterwards. Exactly one handshake per
// provider may be in flight at a time.
package handshake

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// State identifies a phase of the connect flow. Transitions are linear;
// any phase can jump to StateFailed. The exchanging phase belongs to the
// callback server, which trades the code for a connection before it
// notifies the coordinator.
type State string

const (
	StateIdle         State = "idle"
	StateURLRequested State = "url_requested"
	StatePopupOpen    State = "popup_open"
	StateAwaitingCode State = "awaiting_code"
	StateExchanging   State = "exchanging"
	StateReconciling  State = "reconciling"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Failure reasons. Each maps to the phase the handshake died in.
const (
	ReasonURLFetchError     = "url-fetch-error"
	ReasonPopupBlocked      = "popup-blocked"
	ReasonAuthDenied        = "authorization-denied"
	ReasonMissingParameters = "missing-parameters"
	ReasonExchangeFailure   = "exchange-failure"
	ReasonTimeout           = "timeout"
)

// ErrHandshakeInFlight is returned when Connect is called for a provider
// that already has an unfinished handshake.
var ErrHandshakeInFlight = errors.New("handshake: already in flight for provider")

// Error is a failed handshake with the phase-specific reason attached.
type Error struct {
	Provider string
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake %s failed (%s): %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("handshake %s failed (%s)", e.Provider, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Callback is the parsed redirect from the provider. Provider and Nonce
// come from the state parameter; exactly one of Code or ErrorCode is set
// on a well-formed redirect.
type Callback struct {
	Provider  string
	Nonce     string
	Code      string
	ErrorCode string
}

// Complete reports whether the callback carries everything needed for a
// code exchange.
func (c Callback) Complete() bool {
	return c.Provider != "" && c.Code != ""
}

// ParseCallback extracts the handshake parameters from the redirect query.
// The state parameter is "<provider>:<nonce>"; splitting happens on the
// first colon only, so nonces may themselves contain colons. A state
// without a colon yields the whole value as provider and an empty nonce.
func ParseCallback(query url.Values) Callback {
	cb := Callback{
		Code:      query.Get("code"),
		ErrorCode: query.Get("error"),
	}

	state := query.Get("state")
	if state == "" {
		return cb
	}
	if i := strings.IndexByte(state, ':'); i >= 0 {
		cb.Provider = state[:i]
		cb.Nonce = state[i+1:]
	} else {
		cb.Provider = state
	}
	return cb
}
