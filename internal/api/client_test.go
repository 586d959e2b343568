package api_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeberg.org/mutker/fluxdash/internal/api"
	"codeberg.org/mutker/fluxdash/internal/errors"
	"codeberg.org/mutker/fluxdash/internal/logger"
	"codeberg.org/mutker/fluxdash/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, h http.Handler, tokens session.TokenProvider) *api.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := api.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Timeout = 2 * time.Second

	c, err := api.NewClient(cfg, tokens, logger.Nop())
	require.NoError(t, err)
	return c
}

func TestTopDomainsBareArray(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stats/top-domains", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		io.WriteString(w, `[{"name":"b.com","count":9},{"name":"a.com","count":5}]`)
	}), session.Static("tok"))

	got, err := c.TopDomains(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []api.Entry{{Name: "b.com", Count: 9}, {Name: "a.com", Count: 5}}, got)
}

func TestTopClientsEnvelope(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stats/top-clients", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("limit"))
		assert.Empty(t, r.Header.Get("Authorization"))
		io.WriteString(w, `{"data":[{"name":"10.0.0.2","count":42}]}`)
	}), nil)

	got, err := c.TopClients(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []api.Entry{{Name: "10.0.0.2", Count: 42}}, got)
}

func TestEmptyLeaderboardIsNotNil(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `[]`)
	}), nil)

	got, err := c.TopDomains(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestHealth(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status/health", r.URL.Path)
		io.WriteString(w, `{"status":"degraded","database":false,"cache":true,"upstreams":true}`)
	}), nil)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.Health{Status: "degraded", Cache: true, Upstreams: true}, h)
	assert.False(t, h.Healthy())
}

func TestSystemStatus(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status", r.URL.Path)
		io.WriteString(w, `{"status":"running","uptime_seconds":3700,"strategy":"round_robin",
			"cache":{"entries":12,"hits":9,"misses":3,"hit_rate":0.75,"default_ttl":300,"max_entries":1000},
			"query":{"total_queries":500,"cache_hits":9,"queries_today":40},
			"upstreams":{"total":1,"healthy":1,"servers":[]}}`)
	}), nil)

	s, err := c.SystemStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.SystemStatus{
		Status:        "running",
		UptimeSeconds: 3700,
		Strategy:      "round_robin",
		Cache:         api.CacheStatus{Entries: 12, MaxEntries: 1000, Hits: 9, Misses: 3, HitRate: 0.75},
		Query:         api.QueryStatus{TotalQueries: 500, QueriesToday: 40},
	}, s)
}

func TestStatusErrorCarriesServerMessage(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"code":"INTERNAL_ERROR","message":"Failed to get query stats"}`)
	}), nil)

	_, err := c.TopDomains(context.Background(), 10)
	require.Error(t, err)
	assert.Equal(t, api.ErrUnexpectedStatus, errors.CodeOf(err))
	assert.Equal(t, "Failed to get query stats", api.Message(err))
	assert.Equal(t, http.StatusInternalServerError, api.Status(err))
}

func TestStatusErrorFallbacks(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plain":
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, "upstream down")
		case "/error-field":
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"bad limit"}`)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}), nil)

	err := c.Get(context.Background(), "/plain", nil, nil)
	assert.Equal(t, "Bad Gateway", api.Message(err))

	err = c.Get(context.Background(), "/error-field", nil, nil)
	assert.Equal(t, "bad limit", api.Message(err))

	err = c.Get(context.Background(), "/auth", nil, nil)
	assert.Equal(t, api.ErrUnauthorized, errors.CodeOf(err))
	assert.True(t, errors.HasCode(err, api.ErrUnexpectedStatus))
	assert.Equal(t, http.StatusUnauthorized, api.Status(err))
}

func TestWriteMethods(t *testing.T) {
	type item struct {
		Name string `json:"name"`
	}

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut:
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"name":"x"}`, string(body))
			w.Write(body)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}), session.Static("tok"))

	var out item
	require.NoError(t, c.Post(context.Background(), "/api/items", item{Name: "x"}, &out))
	assert.Equal(t, "x", out.Name)

	out = item{}
	require.NoError(t, c.Put(context.Background(), "api/items/1", item{Name: "x"}, &out))
	assert.Equal(t, "x", out.Name)

	require.NoError(t, c.Delete(context.Background(), "/api/items/1", nil))
}

func TestDecodeAndCancelErrors(t *testing.T) {
	release := make(chan struct{})
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		io.WriteString(w, `{"nope"`)
	}), nil)
	defer close(release)

	_, err := c.TopDomains(context.Background(), 1)
	assert.Equal(t, api.ErrDecode, errors.CodeOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	err = c.Get(ctx, "/slow", nil, nil)
	assert.Equal(t, api.ErrCanceled, errors.CodeOf(err))
}

func TestNewClientValidates(t *testing.T) {
	cfg := api.DefaultConfig()
	cfg.BaseURL = "ftp://host"
	_, err := api.NewClient(cfg, nil, nil)
	assert.Equal(t, api.ErrInvalidURL, errors.CodeOf(err))

	cfg = api.DefaultConfig()
	cfg.Timeout = 0
	_, err = api.NewClient(cfg, nil, nil)
	assert.Equal(t, errors.ErrInvalidInterval, errors.CodeOf(err))
}
