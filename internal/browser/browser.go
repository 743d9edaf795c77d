// Package browser opens URLs in the operator's default browser.
package browser

import (
	"fmt"

	"github.com/pkg/browser"
)

// Opener launches the system browser. It satisfies the handshake opener
// contract; a launch failure surfaces as a blocked popup.
type Opener struct{}

// New returns the system browser opener.
func New() *Opener {
	return &Opener{}
}

// Open opens the URL in the default browser.
func (*Opener) Open(url string) error {
	if err := browser.OpenURL(url); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
