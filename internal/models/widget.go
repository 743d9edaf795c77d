package models

import "time"

// DefaultRefreshInterval is the fallback refresh interval in minutes when a
// connection has no stored preference.
const DefaultRefreshInterval = 15

// RefreshIntervalOptions are the selectable refresh intervals in minutes.
var RefreshIntervalOptions = []int{5, 15, 30, 60, 120, 360, 720, 1440}

// ValidRefreshInterval reports whether minutes is one of the selectable
// refresh intervals.
func ValidRefreshInterval(minutes int) bool {
	for _, opt := range RefreshIntervalOptions {
		if minutes == opt {
			return true
		}
	}
	return false
}

// WidgetPreference is the stored per-connection widget configuration.
// Absence of a preference means defaults apply: enabled, ordered last,
// labeled by username, refreshed every DefaultRefreshInterval minutes.
type WidgetPreference struct {
	ConnectionID    string `json:"connection_id"`
	IsEnabled       bool   `json:"is_enabled"`
	DisplayOrder    int    `json:"display_order"`
	CustomLabel     string `json:"custom_label,omitempty"`
	RefreshInterval int    `json:"refresh_interval"` // minutes
}

// DefaultPreference builds the implicit preference for a connection that has
// none stored.
func DefaultPreference(conn Connection, order int) WidgetPreference {
	return WidgetPreference{
		ConnectionID:    conn.ID,
		IsEnabled:       true,
		DisplayOrder:    order,
		CustomLabel:     conn.Username,
		RefreshInterval: DefaultRefreshInterval,
	}
}

// Metric is one formatted statistic inside a widget snapshot.
type Metric struct {
	Name           string  `json:"name"`
	FormattedValue string  `json:"formatted_value"`
	Trend          string  `json:"trend,omitempty"` // "up", "down", "stable"
	ChangePercent  float64 `json:"change_percent,omitempty"`
	Icon           string  `json:"icon,omitempty"`
}

// WidgetSnapshot is the cached metrics payload for one connection. It is
// ephemeral: fetched per refresh cycle and never written back.
type WidgetSnapshot struct {
	ConnectionID string    `json:"connection_id"`
	Label        string    `json:"label,omitempty"`
	Metrics      []Metric  `json:"metrics"`
	LastUpdated  time.Time `json:"last_updated"`
}

// FailedConnection reports a connection the backend could not refresh inside
// an otherwise successful bulk response (token expired, revoked, ...).
type FailedConnection struct {
	ConnectionID string `json:"connection_id"`
	Reason       string `json:"reason"`
}

// SocialStats is the full payload of the widget stats endpoint.
type SocialStats struct {
	Connections       []WidgetSnapshot   `json:"connections"`
	FailedConnections []FailedConnection `json:"failed_connections,omitempty"`
}

// HistoricalPoint is one sample of a historical analytics series.
type HistoricalPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// HistoricalSeries is the payload of the historical analytics endpoint.
type HistoricalSeries struct {
	ConnectionID string            `json:"connection_id"`
	Metric       string            `json:"metric"`
	Interval     string            `json:"interval"`
	Points       []HistoricalPoint `json:"points"`
}
