package snapshot

import (
	"bytes"
	"math"
	"time"

	"codeberg.org/mutker/fluxdash/internal/errors"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Numeric timestamps below this are taken as Unix seconds, otherwise milliseconds.
const secondsCutoff = 1e11

// wireUpstream accepts both the camelCase keys of the stream and the
// snake_case keys the backend status API uses.
type wireUpstream struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	Healthy        bool     `json:"healthy"`
	LatencyMs      *float64 `json:"latencyMs"`
	LatencyMsSnake *float64 `json:"latency_ms"`
	AvgResponseMs  *float64 `json:"avg_response_time_ms"`
}

type wireSnapshot struct {
	Timestamp jsoniter.RawMessage `json:"timestamp"`
	QPS       *float64            `json:"qps"`

	AvgLatencyMs      *float64 `json:"avgLatencyMs"`
	AvgLatencyMsSnake *float64 `json:"avg_latency_ms"`

	CacheHitRate      *float64 `json:"cacheHitRate"`
	CacheHitRateSnake *float64 `json:"cache_hit_rate"`

	TotalQueries      *uint64 `json:"totalQueries"`
	TotalQueriesSnake *uint64 `json:"total_queries"`

	HealthyUpstreams      *int `json:"healthyUpstreams"`
	HealthyUpstreamsSnake *int `json:"healthy_upstreams"`

	TotalUpstreams      *int `json:"totalUpstreams"`
	TotalUpstreamsSnake *int `json:"total_upstreams"`

	Upstreams      []wireUpstream `json:"upstreamStatus"`
	UpstreamsSnake []wireUpstream `json:"upstream_status"`
}

// Decode parses one frame payload into a validated MetricSnapshot.
// receivedAt is used when the frame carries no timestamp.
func Decode(frame []byte, receivedAt time.Time) (MetricSnapshot, error) {
	errFactory := errors.New()

	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 || frame[0] != '{' {
		return MetricSnapshot{}, errFactory.WithMessage(ErrDecode, "frame is not a JSON object")
	}

	var w wireSnapshot
	if err := json.Unmarshal(frame, &w); err != nil {
		return MetricSnapshot{}, errFactory.Wrap(ErrDecode, err)
	}
	if w.QPS == nil {
		return MetricSnapshot{}, errFactory.WithMessage(ErrDecode, "frame has no qps field")
	}

	ts, err := parseTimestamp(w.Timestamp, receivedAt)
	if err != nil {
		return MetricSnapshot{}, errFactory.Wrap(ErrDecode, err)
	}

	s := MetricSnapshot{
		Timestamp:    ts,
		QPS:          *w.QPS,
		AvgLatencyMs: pick(w.AvgLatencyMs, w.AvgLatencyMsSnake, 0),
		CacheHitRate: pick(w.CacheHitRate, w.CacheHitRateSnake, 0),
		TotalQueries: pick(w.TotalQueries, w.TotalQueriesSnake, 0),
	}

	wups := w.Upstreams
	if wups == nil {
		wups = w.UpstreamsSnake
	}
	healthy := 0
	if len(wups) > 0 {
		s.Upstreams = make([]UpstreamStatus, 0, len(wups))
		for _, u := range wups {
			up := UpstreamStatus{ID: u.ID, Name: u.Name, Healthy: u.Healthy}
			if u.Healthy {
				up.LatencyMs = pick(u.LatencyMs, u.LatencyMsSnake, pick(u.AvgResponseMs, nil, 0))
				healthy++
			}
			s.Upstreams = append(s.Upstreams, up)
		}
	}

	// Counts fall back to the upstream list when the frame omits them.
	s.HealthyUpstreams = pick(w.HealthyUpstreams, w.HealthyUpstreamsSnake, healthy)
	s.TotalUpstreams = pick(w.TotalUpstreams, w.TotalUpstreamsSnake, len(wups))

	if err := Validate(s); err != nil {
		return MetricSnapshot{}, err
	}

	return s, nil
}

// Validate checks the value ranges a snapshot must satisfy.
func Validate(s MetricSnapshot) error {
	errFactory := errors.New()

	invalid := func(field string, value any) error {
		return errFactory.WithData(ErrInvalid, struct {
			Field string
			Value any
		}{field, value})
	}

	if !finite(s.QPS) || s.QPS < 0 {
		return invalid("qps", s.QPS)
	}
	if !finite(s.AvgLatencyMs) || s.AvgLatencyMs < 0 {
		return invalid("avgLatencyMs", s.AvgLatencyMs)
	}
	if !finite(s.CacheHitRate) || s.CacheHitRate < 0 || s.CacheHitRate > 1 {
		return invalid("cacheHitRate", s.CacheHitRate)
	}
	if s.HealthyUpstreams < 0 {
		return invalid("healthyUpstreams", s.HealthyUpstreams)
	}
	if s.TotalUpstreams < 0 {
		return invalid("totalUpstreams", s.TotalUpstreams)
	}
	if s.HealthyUpstreams > s.TotalUpstreams {
		return invalid("healthyUpstreams", s.HealthyUpstreams)
	}
	for _, u := range s.Upstreams {
		if u.Healthy && (!finite(u.LatencyMs) || u.LatencyMs < 0) {
			return invalid("upstreamStatus.latencyMs", u.LatencyMs)
		}
	}

	return nil
}

func parseTimestamp(raw jsoniter.RawMessage, fallback time.Time) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fallback, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		return time.Parse(time.RFC3339Nano, s)
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, err
	}
	if n < secondsCutoff {
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*1e9)), nil
	}
	return time.UnixMilli(int64(n)), nil
}

func pick[T any](primary, alias *T, fallback T) T {
	if primary != nil {
		return *primary
	}
	if alias != nil {
		return *alias
	}
	return fallback
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
