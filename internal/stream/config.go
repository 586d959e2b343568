package stream

import (
	"net/url"
	"time"

	"codeberg.org/mutker/fluxdash/internal/errors"
)

const (
	defaultStreamURL     = "http://localhost:8080/api/metrics/stream"
	defaultTokenParam    = "token"
	defaultMaxFrameBytes = 1 << 20
	defaultIdleTimeout   = 60 * time.Second
	defaultReconnect     = 5 * time.Second
	defaultMaxReconnect  = 60 * time.Second
)

type Config struct {
	URL           string
	Transport     string // auto, sse or websocket
	TokenParam    string
	MaxFrameBytes int
	IdleTimeout   time.Duration
	Reconnect     ReconnectConfig
}

type ReconnectConfig struct {
	Strategy           string // fixed or backoff
	Delay              time.Duration
	MaxDelay           time.Duration
	Jitter             float64
	StopOnUnauthorized bool
}

func DefaultConfig() Config {
	return Config{
		URL:           defaultStreamURL,
		Transport:     "auto",
		TokenParam:    defaultTokenParam,
		MaxFrameBytes: defaultMaxFrameBytes,
		IdleTimeout:   defaultIdleTimeout,
		Reconnect: ReconnectConfig{
			Strategy: "fixed",
			Delay:    defaultReconnect,
			MaxDelay: defaultMaxReconnect,
		},
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" {
		return errFactory.WithData(ErrInvalidURL, c.URL)
	}
	switch c.Transport {
	case "", "auto", "sse", "websocket":
	default:
		return errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value string
		}{"transport", c.Transport})
	}
	if c.TokenParam == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "token parameter name is empty")
	}

	return c.Reconnect.Validate()
}

func (c ReconnectConfig) Validate() error {
	errFactory := errors.New()

	if c.Delay <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Delay)
	}
	switch c.Strategy {
	case "", "fixed":
	case "backoff":
		if c.MaxDelay < c.Delay {
			return errFactory.WithData(errors.ErrInvalidInterval, c.MaxDelay)
		}
	default:
		return errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value string
		}{"reconnect.strategy", c.Strategy})
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value float64
		}{"reconnect.jitter", c.Jitter})
	}

	return nil
}
