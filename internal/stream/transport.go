package stream

import (
	"net/http"
	"net/url"

	"codeberg.org/mutker/fluxdash/internal/errors"
)

var schemeSwap = map[string]map[string]string{
	"sse":       {"ws": "http", "wss": "https"},
	"websocket": {"http": "ws", "https": "wss"},
}

// NewTransport picks SSE or WebSocket from cfg.Transport, or from the URL
// scheme when the transport is "auto", and rewrites the scheme to match.
func NewTransport(cfg Config) (Transport, error) {
	errFactory := errors.New()

	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, errFactory.WithData(ErrInvalidURL, cfg.URL)
	}

	kind := cfg.Transport
	if kind == "" || kind == "auto" {
		kind = "sse"
		if u.Scheme == "ws" || u.Scheme == "wss" {
			kind = "websocket"
		}
	}

	swap, ok := schemeSwap[kind]
	if !ok {
		return nil, errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value string
		}{"transport", cfg.Transport})
	}
	if s, ok := swap[u.Scheme]; ok {
		u.Scheme = s
	}

	if kind == "websocket" {
		return newWebSocketTransport(u, cfg), nil
	}
	return newSSETransport(u, cfg, &http.Client{}), nil
}

// withToken returns endpoint with the token set as a query parameter.
func withToken(endpoint *url.URL, param, token string) string {
	u := *endpoint
	q := u.Query()
	q.Set(param, token)
	u.RawQuery = q.Encode()
	return u.String()
}

func isAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
