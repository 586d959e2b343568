package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/fluxdash/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix  = "FLUXDASH"
	DefaultLogLevel   = LogLevelInfo
	DefaultBaseURL    = "http://localhost:8080"
	DefaultStreamPath = "/api/metrics/stream"
	configName        = "fluxdash"
)

type Config struct {
	LogLevel    LogLevel          `mapstructure:"log_level"`
	Server      ServerConfig      `mapstructure:"server"`
	Stream      StreamConfig      `mapstructure:"stream"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	Health      HealthConfig      `mapstructure:"health"`
	History     HistoryConfig     `mapstructure:"history"`
	Report      ReportConfig      `mapstructure:"report"`

	// ConfigFile is the file the values were read from, empty when none was found.
	ConfigFile string `mapstructure:"-"`
}

type ServerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StreamConfig struct {
	URL           string          `mapstructure:"url"`
	Transport     string          `mapstructure:"transport"`
	TokenParam    string          `mapstructure:"token_param"`
	MaxPoints     int             `mapstructure:"max_points"`
	MaxFrameBytes int             `mapstructure:"max_frame_bytes"`
	IdleTimeout   time.Duration   `mapstructure:"idle_timeout"`
	Reconnect     ReconnectConfig `mapstructure:"reconnect"`
}

type ReconnectConfig struct {
	Strategy           string        `mapstructure:"strategy"`
	Delay              time.Duration `mapstructure:"delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	Jitter             float64       `mapstructure:"jitter"`
	StopOnUnauthorized bool          `mapstructure:"stop_on_unauthorized"`
}

type AuthConfig struct {
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token_file"`
	TokenEnv  string `mapstructure:"token_env"`
}

type LeaderboardConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Limit       int           `mapstructure:"limit"`
	DomainsPath string        `mapstructure:"domains_path"`
	ClientsPath string        `mapstructure:"clients_path"`
}

type HealthConfig struct {
	// Interval of zero disables health polling.
	Interval   time.Duration `mapstructure:"interval"`
	Path       string        `mapstructure:"path"`
	StatusPath string        `mapstructure:"status_path"`
}

type HistoryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Backend      string        `mapstructure:"backend"`
	DBPath       string        `mapstructure:"db_path"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	QueueSize    int           `mapstructure:"queue_size"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	RedisKey     string        `mapstructure:"redis_key"`
	RedisTTL     time.Duration `mapstructure:"redis_ttl"`
	RedisMaxLen  int           `mapstructure:"redis_max_len"`
}

type ReportConfig struct {
	// Interval of zero disables the periodic status line.
	Interval time.Duration `mapstructure:"interval"`
	PIDFile  string        `mapstructure:"pid_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", string(DefaultLogLevel))

	v.SetDefault("server.base_url", DefaultBaseURL)
	v.SetDefault("server.timeout", 10*time.Second)

	v.SetDefault("stream.url", "")
	v.SetDefault("stream.transport", "auto")
	v.SetDefault("stream.token_param", "token")
	v.SetDefault("stream.max_points", 60)
	v.SetDefault("stream.max_frame_bytes", 1<<20)
	v.SetDefault("stream.idle_timeout", 60*time.Second)
	v.SetDefault("stream.reconnect.strategy", "fixed")
	v.SetDefault("stream.reconnect.delay", 5*time.Second)
	v.SetDefault("stream.reconnect.max_delay", 60*time.Second)
	v.SetDefault("stream.reconnect.jitter", 0.2)
	v.SetDefault("stream.reconnect.stop_on_unauthorized", false)

	v.SetDefault("auth.token", "")
	v.SetDefault("auth.token_file", "")
	v.SetDefault("auth.token_env", "FLUXDASH_TOKEN")

	v.SetDefault("leaderboard.interval", 10*time.Second)
	v.SetDefault("leaderboard.limit", 10)
	v.SetDefault("leaderboard.domains_path", "/api/stats/top-domains")
	v.SetDefault("leaderboard.clients_path", "/api/stats/top-clients")

	v.SetDefault("health.interval", 30*time.Second)
	v.SetDefault("health.path", "/api/status/health")
	v.SetDefault("health.status_path", "/api/status")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.backend", "sqlite")
	v.SetDefault("history.db_path", "/var/lib/fluxdash/history.db")
	v.SetDefault("history.batch_size", 30)
	v.SetDefault("history.batch_timeout", 30*time.Second)
	v.SetDefault("history.queue_size", 256)
	v.SetDefault("history.redis_addr", "localhost:6379")
	v.SetDefault("history.redis_key", "fluxdash:snapshots")
	v.SetDefault("history.redis_ttl", 10*time.Minute)
	v.SetDefault("history.redis_max_len", 3600)

	v.SetDefault("report.interval", 10*time.Second)
	v.SetDefault("report.pid_file", "")
}

// flag name -> config key
var flagKeys = map[string]string{
	"log-level":       "log_level",
	"server":          "server.base_url",
	"stream-url":      "stream.url",
	"transport":       "stream.transport",
	"token":           "auth.token",
	"token-file":      "auth.token_file",
	"max-points":      "stream.max_points",
	"reconnect-delay": "stream.reconnect.delay",
	"history":         "history.enabled",
	"history-db":      "history.db_path",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	fs.String("config", "", "Path to configuration file")
	fs.String("log-level", "", "Log level (debug, info, warning, error)")
	fs.String("server", "", "Base URL of the DNS proxy API")
	fs.String("stream-url", "", "Metrics stream URL (http(s) for SSE, ws(s) for WebSocket)")
	fs.String("transport", "", "Stream transport: auto, sse or websocket")
	fs.String("token", "", "Credential token")
	fs.String("token-file", "", "File holding the credential token, re-read on every connect")
	fs.Int("max-points", 0, "Number of points kept in the live chart")
	fs.Duration("reconnect-delay", 0, "Delay before reconnecting a dropped stream")
	fs.Bool("history", false, "Record snapshots to the history backend")
	fs.String("history-db", "", "Path to the sqlite history database")
	return fs
}

// Load reads configuration from defaults, the config file, the environment and
// the given command line arguments, in increasing order of precedence.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{
		envPrefix:   DefaultEnvPrefix,
		searchPaths: []string{"/etc", "$HOME/.config"},
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, fs, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet, o options) error {
	errFactory := errors.New()

	path := o.configPath
	if path == "" {
		path, _ = fs.GetString("config")
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	v.SetConfigType("toml")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	for _, p := range o.searchPaths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

// StreamURL returns the configured stream URL, or the default stream path
// under the server base URL when none is set.
func (c *Config) StreamURL() string {
	if c.Stream.URL != "" {
		return c.Stream.URL
	}
	return strings.TrimRight(c.Server.BaseURL, "/") + DefaultStreamPath
}

type fieldError struct {
	field  string
	value  interface{}
	reason string
}

func (e *fieldError) Error() string {
	return fmt.Sprintf("%s=%v: %s", e.field, e.value, e.reason)
}

func (e *fieldError) Field() string      { return e.field }
func (e *fieldError) Value() interface{} { return e.value }
func (e *fieldError) Reason() string     { return e.reason }

func invalid(code errors.ErrorCode, field string, value interface{}, reason string) error {
	return errors.New().Wrap(code, &fieldError{field: field, value: value, reason: reason})
}

// Validate checks every section and returns the first problem found
func (c *Config) Validate() error {
	if !c.LogLevel.IsValid() {
		return invalid(errors.ErrInvalidLogLevel, "log_level", c.LogLevel, "must be debug, info, warning or error")
	}

	if err := validateURL("server.base_url", c.Server.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.Server.Timeout <= 0 {
		return invalid(errors.ErrInvalidInterval, "server.timeout", c.Server.Timeout, "must be positive")
	}

	if err := validateURL("stream.url", c.StreamURL(), "http", "https", "ws", "wss"); err != nil {
		return err
	}
	switch c.Stream.Transport {
	case "auto", "sse", "websocket":
	default:
		return invalid(errors.ErrInvalidConfig, "stream.transport", c.Stream.Transport, "must be auto, sse or websocket")
	}
	if c.Stream.TokenParam == "" {
		return invalid(errors.ErrInvalidConfig, "stream.token_param", c.Stream.TokenParam, "must not be empty")
	}
	if c.Stream.MaxPoints <= 0 {
		return invalid(errors.ErrInvalidConfig, "stream.max_points", c.Stream.MaxPoints, "must be positive")
	}
	if c.Stream.MaxFrameBytes <= 0 {
		return invalid(errors.ErrInvalidConfig, "stream.max_frame_bytes", c.Stream.MaxFrameBytes, "must be positive")
	}

	r := c.Stream.Reconnect
	switch r.Strategy {
	case "fixed", "backoff":
	default:
		return invalid(errors.ErrInvalidConfig, "stream.reconnect.strategy", r.Strategy, "must be fixed or backoff")
	}
	if r.Delay <= 0 {
		return invalid(errors.ErrInvalidInterval, "stream.reconnect.delay", r.Delay, "must be positive")
	}
	if r.Strategy == "backoff" && r.MaxDelay < r.Delay {
		return invalid(errors.ErrInvalidInterval, "stream.reconnect.max_delay", r.MaxDelay, "must not be below delay")
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		return invalid(errors.ErrInvalidConfig, "stream.reconnect.jitter", r.Jitter, "must be within [0,1]")
	}

	if c.Leaderboard.Interval <= 0 {
		return invalid(errors.ErrInvalidInterval, "leaderboard.interval", c.Leaderboard.Interval, "must be positive")
	}
	if c.Leaderboard.Limit <= 0 {
		return invalid(errors.ErrInvalidConfig, "leaderboard.limit", c.Leaderboard.Limit, "must be positive")
	}
	if c.Health.Interval < 0 {
		return invalid(errors.ErrInvalidInterval, "health.interval", c.Health.Interval, "must not be negative")
	}
	if c.Report.Interval < 0 {
		return invalid(errors.ErrInvalidInterval, "report.interval", c.Report.Interval, "must not be negative")
	}

	if c.History.Enabled {
		switch c.History.Backend {
		case "sqlite", "redis":
		default:
			return invalid(errors.ErrInvalidConfig, "history.backend", c.History.Backend, "must be sqlite or redis")
		}
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return invalid(errors.ErrInvalidURL, field, raw, "must be an absolute URL")
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return invalid(errors.ErrInvalidURL, field, raw, "unsupported scheme "+u.Scheme)
}
