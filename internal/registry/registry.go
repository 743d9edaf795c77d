// Package registry tracks the user's linked social-media connections, the
// provider catalog and the widget preferences that shape the dashboard. It
// is the single owner of that state: every mutation goes through the
// backend first, then the local copy is refreshed from the authoritative
// response.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"github.com/go-pulsedash/pulsedash/internal/api"
	"github.com/go-pulsedash/pulsedash/internal/models"
)

// ErrNotConfirmed is returned when the confirmer declines a disconnect.
// The backend is not contacted in that case.
var ErrNotConfirmed = errors.New("registry: disconnect not confirmed")

// ErrConnectionNotFound is returned when an operation names a connection
// the registry does not know.
var ErrConnectionNotFound = errors.New("registry: connection not found")

// RefreshError marks a connection the backend reported as unrefreshable
// inside an otherwise successful stats response.
type RefreshError struct {
	ConnectionID string
	Reason       string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("connection %s failed: %s", e.ConnectionID, e.Reason)
}

// Confirmer gates destructive operations. Implementations ask the operator
// (terminal prompt) or auto-approve (--yes flag).
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to the Confirmer interface.
type ConfirmFunc func(prompt string) bool

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// Widget pairs a connection with its effective preference.
type Widget struct {
	Connection models.Connection
	Preference models.WidgetPreference
}

// Registry holds the provider catalog, the linked connections and the
// widget preferences. Reads return copies; the internal slices are never
// shared with callers.
type Registry struct {
	mu          sync.RWMutex
	client      *api.Client
	confirmer   Confirmer
	providers   []models.Provider
	connections []models.Connection
	prefs       map[string]models.WidgetPreference
}

// New creates an empty registry. A nil confirmer rejects every disconnect.
func New(client *api.Client, confirmer Confirmer) *Registry {
	return &Registry{
		client:    client,
		confirmer: confirmer,
		prefs:     make(map[string]models.WidgetPreference),
	}
}

// FetchProviders loads the provider catalog.
func (r *Registry) FetchProviders(ctx context.Context) ([]models.Provider, error) {
	var resp struct {
		Providers []models.Provider `json:"providers"`
	}
	if err := r.client.Get(ctx, "/api/social-media/providers", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch providers: %w", err)
	}

	r.mu.Lock()
	r.providers = resp.Providers
	r.mu.Unlock()
	return append([]models.Provider(nil), resp.Providers...), nil
}

// FetchConnections reloads the linked connections from the backend.
func (r *Registry) FetchConnections(ctx context.Context) ([]models.Connection, error) {
	var resp struct {
		Connections []models.Connection `json:"connections"`
	}
	if err := r.client.Get(ctx, "/api/social-media/connections", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch connections: %w", err)
	}

	r.mu.Lock()
	r.connections = resp.Connections
	r.mu.Unlock()
	return append([]models.Connection(nil), resp.Connections...), nil
}

// FetchWidgetPreferences reloads the stored widget preferences.
func (r *Registry) FetchWidgetPreferences(ctx context.Context) error {
	var resp struct {
		Preferences []models.WidgetPreference `json:"preferences"`
	}
	if err := r.client.Get(ctx, "/api/widget/preferences", nil, &resp); err != nil {
		return fmt.Errorf("fetch widget preferences: %w", err)
	}

	prefs := make(map[string]models.WidgetPreference, len(resp.Preferences))
	for _, p := range resp.Preferences {
		prefs[p.ConnectionID] = p
	}

	r.mu.Lock()
	r.prefs = prefs
	r.mu.Unlock()
	return nil
}

// Providers returns the cached provider catalog.
func (r *Registry) Providers() []models.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Provider(nil), r.providers...)
}

// Connections returns the cached connections.
func (r *Registry) Connections() []models.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Connection(nil), r.connections...)
}

// Connection looks up a cached connection by id.
func (r *Registry) Connection(id string) (models.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.connections {
		if c.ID == id {
			return c, true
		}
	}
	return models.Connection{}, false
}

// Preference returns the effective preference for a connection: the stored
// one, or the implicit default when none exists.
func (r *Registry) Preference(conn models.Connection, order int) models.WidgetPreference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.prefs[conn.ID]; ok {
		return p
	}
	return models.DefaultPreference(conn, order)
}

// Widgets merges connections and preferences into the dashboard widget
// list. Preferences for connections that no longer exist are dropped; the
// result is ordered by display order, ties broken by connection id.
func (r *Registry) Widgets() []Widget {
	r.mu.RLock()
	defer r.mu.RUnlock()

	widgets := make([]Widget, 0, len(r.connections))
	for i, conn := range r.connections {
		pref, ok := r.prefs[conn.ID]
		if !ok {
			pref = models.DefaultPreference(conn, i)
		}
		widgets = append(widgets, Widget{Connection: conn, Preference: pref})
	}

	sort.SliceStable(widgets, func(i, j int) bool {
		a, b := widgets[i].Preference, widgets[j].Preference
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return widgets[i].Connection.ID < widgets[j].Connection.ID
	})
	return widgets
}

// EnabledWidgets filters Widgets down to the ones the scheduler should
// refresh.
func (r *Registry) EnabledWidgets() []Widget {
	all := r.Widgets()
	enabled := all[:0]
	for _, w := range all {
		if w.Preference.IsEnabled {
			enabled = append(enabled, w)
		}
	}
	return enabled
}

type disconnectRequest struct {
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_id"`
}

// Disconnect removes a linked connection after confirmation. The backend
// keys disconnects by (provider, provider_id), not by the connection id.
// Declining the confirmation returns ErrNotConfirmed without touching the
// backend.
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	conn, ok := r.Connection(id)
	if !ok {
		return ErrConnectionNotFound
	}

	prompt := fmt.Sprintf("Disconnect %s account %q?", conn.ProviderName, conn.Username)
	if r.confirmer == nil || !r.confirmer.Confirm(prompt) {
		return ErrNotConfirmed
	}

	err := r.client.Post(ctx, "/api/social-media/auth/disconnect", disconnectRequest{
		Provider:       conn.Provider,
		ProviderUserID: conn.ProviderUserID,
	}, nil)
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", id, err)
	}

	_, err = r.FetchConnections(ctx)
	return err
}

type preferencePayload struct {
	Connections []models.WidgetPreference `json:"connections"`
}

// SavePreferences persists the full preference set in one call, then
// reloads the authoritative copy.
func (r *Registry) SavePreferences(ctx context.Context, prefs []models.WidgetPreference) error {
	for _, p := range prefs {
		if !models.ValidRefreshInterval(p.RefreshInterval) {
			return fmt.Errorf("invalid refresh interval %d for connection %s",
				p.RefreshInterval, p.ConnectionID)
		}
	}

	if err := r.client.Post(ctx, "/api/widget/preferences", preferencePayload{Connections: prefs}, nil); err != nil {
		return fmt.Errorf("save widget preferences: %w", err)
	}
	return r.FetchWidgetPreferences(ctx)
}

// TogglePreference flips the enabled flag of one widget on the backend,
// then reloads the preference set.
func (r *Registry) TogglePreference(ctx context.Context, connectionID string) error {
	path := "/api/widget/preferences/" + connectionID + "/toggle"
	if err := r.client.Post(ctx, path, nil, nil); err != nil {
		return fmt.Errorf("toggle widget %s: %w", connectionID, err)
	}
	return r.FetchWidgetPreferences(ctx)
}

// FetchSnapshot retrieves the current stats for one connection. The force
// flag asks the backend to bypass its own cache; scheduled refreshes never
// set it, manual retries do. A connection reported in the failure list
// yields a RefreshError.
func (r *Registry) FetchSnapshot(ctx context.Context, connectionID string, force bool) (*models.WidgetSnapshot, error) {
	query := url.Values{"connection_id": {connectionID}}
	if force {
		query.Set("force_refresh", "1")
	}

	var stats models.SocialStats
	if err := r.client.Get(ctx, "/api/widget/social-stats", query, &stats); err != nil {
		return nil, fmt.Errorf("fetch stats for %s: %w", connectionID, err)
	}

	for i := range stats.Connections {
		if stats.Connections[i].ConnectionID == connectionID {
			return &stats.Connections[i], nil
		}
	}
	for _, failed := range stats.FailedConnections {
		if failed.ConnectionID == connectionID {
			return nil, &RefreshError{ConnectionID: connectionID, Reason: failed.Reason}
		}
	}
	return nil, fmt.Errorf("stats for %s: %w", connectionID, ErrConnectionNotFound)
}

// FetchAllStats retrieves the stats for every connection in one call.
func (r *Registry) FetchAllStats(ctx context.Context, force bool) (*models.SocialStats, error) {
	var query url.Values
	if force {
		query = url.Values{"force_refresh": {"1"}}
	}

	var stats models.SocialStats
	if err := r.client.Get(ctx, "/api/widget/social-stats", query, &stats); err != nil {
		return nil, fmt.Errorf("fetch stats: %w", err)
	}
	return &stats, nil
}

// FetchHistorical retrieves a historical analytics series for one
// connection and metric. The days value selects the date range (7, 30,
// 90); zero lets the backend apply its default.
func (r *Registry) FetchHistorical(ctx context.Context, connectionID, metric string, days int, interval string) (*models.HistoricalSeries, error) {
	query := url.Values{
		"connection_id": {connectionID},
		"metric":        {metric},
	}
	if days > 0 {
		query.Set("days", strconv.Itoa(days))
	}
	if interval != "" {
		query.Set("interval", interval)
	}

	var series models.HistoricalSeries
	if err := r.client.Get(ctx, "/api/analytics/historical", query, &series); err != nil {
		return nil, fmt.Errorf("fetch historical %s/%s: %w", connectionID, metric, err)
	}
	return &series, nil
}

// FetchPlatformData retrieves the provider-specific raw payload for one
// connection (channel details, page insights and the like).
func (r *Registry) FetchPlatformData(ctx context.Context, platform, connectionID string, out any) error {
	query := url.Values{"connection_id": {connectionID}}
	path := "/api/social-media/" + platform + "/data"
	if err := r.client.Get(ctx, path, query, out); err != nil {
		return fmt.Errorf("fetch %s data for %s: %w", platform, connectionID, err)
	}
	return nil
}
