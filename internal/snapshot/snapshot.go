// Package snapshot holds the point-in-time metrics reading carried by each
// stream frame, and its decoder.
package snapshot

import (
	"time"
)

// UpstreamStatus is one upstream resolver's health at snapshot time.
// LatencyMs is only meaningful when Healthy is true.
type UpstreamStatus struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Healthy   bool    `json:"healthy"`
	LatencyMs float64 `json:"latencyMs"`
}

// MetricSnapshot is one decoded frame. Snapshots are treated as immutable:
// a newer snapshot replaces an older one, it never updates it in place.
type MetricSnapshot struct {
	Timestamp        time.Time        `json:"timestamp"`
	QPS              float64          `json:"qps"`
	AvgLatencyMs     float64          `json:"avgLatencyMs"`
	CacheHitRate     float64          `json:"cacheHitRate"`
	TotalQueries     uint64           `json:"totalQueries"`
	HealthyUpstreams int              `json:"healthyUpstreams"`
	TotalUpstreams   int              `json:"totalUpstreams"`
	Upstreams        []UpstreamStatus `json:"upstreamStatus"`
}

// Clone returns a deep copy, so the receiver of the copy cannot reach the
// original's upstream slice.
func (s MetricSnapshot) Clone() MetricSnapshot {
	if s.Upstreams != nil {
		ups := make([]UpstreamStatus, len(s.Upstreams))
		copy(ups, s.Upstreams)
		s.Upstreams = ups
	}
	return s
}

// IsZero reports whether s is the empty snapshot.
func (s MetricSnapshot) IsZero() bool {
	return s.Timestamp.IsZero() && s.TotalQueries == 0 && len(s.Upstreams) == 0
}
