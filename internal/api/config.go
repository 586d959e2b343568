package api

import (
	"net/url"
	"time"

	"codeberg.org/mutker/fluxdash/internal/errors"
)

const (
	defaultBaseURL      = "http://localhost:8080"
	defaultTimeout      = 10 * time.Second
	defaultDomainsPath  = "/api/stats/top-domains"
	defaultClientsPath  = "/api/stats/top-clients"
	defaultHealthPath   = "/api/status/health"
	defaultStatusPath   = "/api/status"
	defaultMaxBodyBytes = 4 << 20
)

type Config struct {
	BaseURL      string
	Timeout      time.Duration
	DomainsPath  string
	ClientsPath  string
	HealthPath   string
	StatusPath   string
	MaxBodyBytes int64
}

func DefaultConfig() Config {
	return Config{
		BaseURL:      defaultBaseURL,
		Timeout:      defaultTimeout,
		DomainsPath:  defaultDomainsPath,
		ClientsPath:  defaultClientsPath,
		HealthPath:   defaultHealthPath,
		StatusPath:   defaultStatusPath,
		MaxBodyBytes: defaultMaxBodyBytes,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errFactory.WithData(ErrInvalidURL, c.BaseURL)
	}
	if c.Timeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Timeout)
	}

	return nil
}
