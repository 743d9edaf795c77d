package templates

import "time"

// SuccessPageProps contains properties for the callback success page
type SuccessPageProps struct {
	Provider    string
	DisplayName string
	// CloseDelay is how long the page stays visible before closing itself.
	CloseDelay time.Duration
}

// ErrorPageProps contains properties for the callback error page
type ErrorPageProps struct {
	Provider string
	Message  string
	// CloseDelay of zero keeps the page open so the message stays readable.
	CloseDelay time.Duration
}
