// Package config loads the daemon configuration. Sources are layered, later
// ones winning: built-in defaults, a TOML file, MINICHAT_ environment
// variables and explicit overrides (set command line flags).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix = "MINICHAT_"

	StoreBolt  = "bolt"
	StoreMySQL = "mysql"
)

// DefaultPaths are tried in order when no config file is given.
var DefaultPaths = []string{"./minichat.toml", "$HOME/.minichat.toml"}

type User struct {
	ID    string `koanf:"id"`
	Token string `koanf:"token"`
}

type API struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
	RPS     float64       `koanf:"rps"`
	Burst   int           `koanf:"burst"`
}

type WS struct {
	URL string `koanf:"url"`
}

// Kafka configures the optional push feed. The feed is off without brokers.
type Kafka struct {
	Brokers       []string      `koanf:"brokers"`
	EventTopic    string        `koanf:"event_topic"`
	CommandTopic  string        `koanf:"command_topic"`
	GroupID       string        `koanf:"group_id"`
	ValueMaxBytes int           `koanf:"value_max_bytes"`
	MaxAge        time.Duration `koanf:"max_age"`
}

type Store struct {
	Driver   string `koanf:"driver"`
	Path     string `koanf:"path"`
	MySQLDSN string `koanf:"mysql_dsn"`
}

type Engine struct {
	MaxSurfaces    int           `koanf:"max_surfaces"`
	TypingDebounce time.Duration `koanf:"typing_debounce"`
	TypingTTL      time.Duration `koanf:"typing_ttl"`
	PollInterval   time.Duration `koanf:"poll_interval"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type Daemon struct {
	Addr           string `koanf:"addr"`
	PidFile        string `koanf:"pid_file"`
	PprofDir       string `koanf:"pprof_dir"`
	DisableMetrics bool   `koanf:"disable_metrics"`
}

type Config struct {
	User   User   `koanf:"user"`
	API    API    `koanf:"api"`
	WS     WS     `koanf:"ws"`
	Kafka  Kafka  `koanf:"kafka"`
	Store  Store  `koanf:"store"`
	Engine Engine `koanf:"engine"`
	Daemon Daemon `koanf:"daemon"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"api.url":     "http://127.0.0.1:8000",
		"api.timeout": 10 * time.Second,
		"api.rps":     10.0,
		"api.burst":   20,

		"ws.url": "ws://127.0.0.1:8000/ws",

		"kafka.event_topic":     "minichat-events",
		"kafka.group_id":        "minichat",
		"kafka.value_max_bytes": 64 << 10,
		"kafka.max_age":         time.Hour,

		"store.driver": StoreBolt,
		"store.path":   "minichat.db",

		"engine.max_surfaces":    3,
		"engine.typing_debounce": 300 * time.Millisecond,
		"engine.typing_ttl":      3 * time.Second,
		"engine.poll_interval":   10 * time.Second,
		"engine.request_timeout": 10 * time.Second,

		"daemon.addr":      "127.0.0.1:9100",
		"daemon.pid_file":  "minichat.pid",
		"daemon.pprof_dir": "pprof",
	}
}

// EnvKey maps MINICHAT_ENGINE__POLL_INTERVAL to engine.poll_interval: a double
// underscore separates sections.
func EnvKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func envValue(key, value string) (string, interface{}) {
	key = EnvKey(key)
	if key == "kafka.brokers" {
		return key, SplitList(value)
	}
	return key, value
}

// SplitList splits a comma separated list, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Load layers the configuration sources. An empty path tries DefaultPaths and
// skips the file layer when none exists. overrides uses dotted keys, e.g.
// "user.id".
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	if path == "" {
		for _, p := range DefaultPaths {
			p = os.ExpandEnv(p)
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("config: overrides: %w", err)
		}
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &c, nil
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	if c.User.ID == "" {
		return errors.New("user.id is required")
	}
	if c.User.Token == "" {
		return errors.New("user.token is required")
	}
	if err := checkURL(c.API.URL, "http", "https"); err != nil {
		return fmt.Errorf("api.url: %w", err)
	}
	if err := checkURL(c.WS.URL, "ws", "wss"); err != nil {
		return fmt.Errorf("ws.url: %w", err)
	}
	if c.API.RPS <= 0 || c.API.Burst <= 0 {
		return errors.New("api.rps and api.burst must be positive")
	}

	switch c.Store.Driver {
	case StoreBolt:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the bolt store")
		}
	case StoreMySQL:
		if c.Store.MySQLDSN == "" {
			return errors.New("store.mysql_dsn is required for the mysql store")
		}
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}

	if len(c.Kafka.Brokers) > 0 {
		if c.Kafka.EventTopic == "" || c.Kafka.GroupID == "" {
			return errors.New("kafka.event_topic and kafka.group_id are required with kafka.brokers")
		}
	}

	if c.Engine.MaxSurfaces < 1 {
		return errors.New("engine.max_surfaces must be at least 1")
	}
	if c.Engine.PollInterval < 0 {
		return errors.New("engine.poll_interval must not be negative")
	}

	if c.Daemon.PidFile == "" {
		return errors.New("daemon.pid_file is required")
	}
	if c.Daemon.PprofDir == "" {
		return errors.New("daemon.pprof_dir is required")
	}
	return nil
}

func checkURL(s string, schemes ...string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			if u.Host == "" {
				return fmt.Errorf("missing host in %q", s)
			}
			return nil
		}
	}
	return fmt.Errorf("scheme of %q must be one of %v", s, schemes)
}
