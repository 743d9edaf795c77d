package models

import "time"

// Connection is one linked external social-media account. The backend keys
// connections by (provider, provider_id); the numeric id is the handle used
// by the widget endpoints.
type Connection struct {
	ID             string    `json:"id"`
	Provider       string    `json:"provider"`
	ProviderName   string    `json:"provider_name"`
	ProviderUserID string    `json:"provider_id"`
	Username       string    `json:"username"`
	PictureURL     string    `json:"picture_url,omitempty"`
	ConnectedAt    time.Time `json:"connected_at,omitempty"`
	TokenExpired   bool      `json:"token_expired"`
}

// Family returns the provider family of the connection.
func (c Connection) Family() string {
	return ProviderFamily(c.Provider)
}
