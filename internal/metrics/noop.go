package metrics

import "time"

// NoopMetrics is a no-operation Recorder used when metrics are disabled.
type NoopMetrics struct{}

// Ensure NoopMetrics implements Recorder interface at compile time
var _ Recorder = (*NoopMetrics)(nil)

// NewNoopMetrics creates a new no-operation metrics recorder
func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

func (n *NoopMetrics) RecordHandshake(provider, result string, duration time.Duration) {}
func (n *NoopMetrics) RecordBridgeMessage(accepted bool)                               {}
func (n *NoopMetrics) RecordWidgetRefresh(provider, result string)                     {}
func (n *NoopMetrics) RecordSnapshotCache(hit bool)                                    {}
func (n *NoopMetrics) RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
}
func (n *NoopMetrics) RecordForcedLogout() {}
