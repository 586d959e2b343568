package api

import (
	"bytes"
	"context"
	"net/url"
	"strconv"

	"codeberg.org/mutker/fluxdash/internal/errors"
	jsoniter "github.com/json-iterator/go"
)

// Entry is one leaderboard row. Order is whatever the server returned.
type Entry struct {
	Name  string `json:"name"`
	Count uint64 `json:"count"`
}

// Health mirrors the backend health check.
type Health struct {
	Status    string `json:"status"`
	Database  bool   `json:"database"`
	Cache     bool   `json:"cache"`
	Upstreams bool   `json:"upstreams"`
}

func (h Health) Healthy() bool {
	return h.Status == "healthy"
}

// SystemStatus is the subset of the backend status report the dashboard shows.
type SystemStatus struct {
	Status        string      `json:"status"`
	UptimeSeconds uint64      `json:"uptime_seconds"`
	Strategy      string      `json:"strategy"`
	Cache         CacheStatus `json:"cache"`
	Query         QueryStatus `json:"query"`
}

type CacheStatus struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

type QueryStatus struct {
	TotalQueries uint64 `json:"total_queries"`
	QueriesToday uint64 `json:"queries_today"`
}

func (c *Client) TopDomains(ctx context.Context, limit int) ([]Entry, error) {
	return c.leaderboard(ctx, c.cfg.DomainsPath, limit)
}

func (c *Client) TopClients(ctx context.Context, limit int) ([]Entry, error) {
	return c.leaderboard(ctx, c.cfg.ClientsPath, limit)
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.Get(ctx, c.cfg.HealthPath, nil, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

func (c *Client) SystemStatus(ctx context.Context) (SystemStatus, error) {
	var raw jsoniter.RawMessage
	if err := c.Get(ctx, c.cfg.StatusPath, nil, &raw); err != nil {
		return SystemStatus{}, err
	}

	var s SystemStatus
	if err := json.Unmarshal(unwrapData(raw), &s); err != nil {
		return SystemStatus{}, errors.New().Wrap(ErrDecode, err)
	}
	return s, nil
}

func (c *Client) leaderboard(ctx context.Context, path string, limit int) ([]Entry, error) {
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": {strconv.Itoa(limit)}}
	}

	var raw jsoniter.RawMessage
	if err := c.Get(ctx, path, q, &raw); err != nil {
		return nil, err
	}

	entries := []Entry{}
	if err := json.Unmarshal(unwrapData(raw), &entries); err != nil {
		return nil, errors.New().Wrap(ErrDecode, err)
	}

	return entries, nil
}

// unwrapData accepts either a bare payload or one enveloped as {"data": ...}.
func unwrapData(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}

	var env struct {
		Data jsoniter.RawMessage `json:"data"`
	}
	if json.Unmarshal(trimmed, &env) != nil || len(env.Data) == 0 {
		return trimmed
	}
	return env.Data
}
