// Package config loads console settings.
//
// Sources, later wins: built-in defaults, an optional YAML file, then
// environment variables with the ZIPPY_ prefix. The first underscore after
// the prefix separates the section: ZIPPY_PROVIDER_ANON_KEY is provider.anon_key.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "ZIPPY_"

const (
	ProviderGoTrue = "gotrue"
	ProviderMemory = "memory"

	SessionMemory = "memory"
	SessionBadger = "badger"
	SessionRedis  = "redis"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	HTTP     HTTP     `koanf:"http"`
	GRPC     GRPC     `koanf:"grpc"`
	PG       PG       `koanf:"pg"`
	Provider Provider `koanf:"provider"`
	Console  Console  `koanf:"console"`
	Session  Session  `koanf:"session"`
	Rate     Rate     `koanf:"rate"`
}

type HTTP struct {
	Addr            string        `koanf:"addr"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type GRPC struct {
	Addr string `koanf:"addr"`
}

type PG struct {
	DSN string `koanf:"dsn"`
}

// Provider selects the identity provider. Secret signs tokens of the memory provider.
type Provider struct {
	Kind       string        `koanf:"kind"`
	URL        string        `koanf:"url"`
	AnonKey    string        `koanf:"anon_key"`
	ServiceKey string        `koanf:"service_key"`
	Timeout    time.Duration `koanf:"timeout"`
	Secret     string        `koanf:"secret"`
}

type Console struct {
	Origin        string        `koanf:"origin"`
	ResetPath     string        `koanf:"reset_path"`
	AdminRoles    []string      `koanf:"admin_roles"`
	RedirectDelay time.Duration `koanf:"redirect_delay"`
	AutoSignIn    bool          `koanf:"auto_sign_in"`
}

type Session struct {
	Backend     string `koanf:"backend"`
	Dir         string `koanf:"dir"`
	RedisAddr   string `koanf:"redis_addr"`
	RedisPrefix string `koanf:"redis_prefix"`
}

type Rate struct {
	Burst     int     `koanf:"burst"`
	PerSecond float64 `koanf:"per_second"`
}

// Defaults returns the built-in settings.
func Defaults() map[string]any {
	return map[string]any{
		"http": map[string]any{
			"addr":             ":8080",
			"max_body_bytes":   int64(1 << 20),
			"shutdown_timeout": "10s",
		},
		"grpc": map[string]any{"addr": ":9090"},
		"provider": map[string]any{
			"kind":    ProviderMemory,
			"timeout": "10s",
			"secret":  "zippytrip-dev-secret",
		},
		"console": map[string]any{
			"origin":         "http://localhost:5173",
			"reset_path":     "/reset-password",
			"admin_roles":    []string{"Administrator"},
			"redirect_delay": "3s",
			"auto_sign_in":   false,
		},
		"session": map[string]any{
			"backend":      SessionMemory,
			"dir":          defaultSessionDir(),
			"redis_prefix": "zippy:session",
		},
		"rate": map[string]any{
			"burst":      20,
			"per_second": 10.0,
		},
	}
}

func defaultSessionDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".zippytrip"
	}
	return filepath.Join(home, ".zippytrip")
}

// Load reads defaults, the file at path when non-empty, and the environment.
func Load(path string) (Config, error) {
	return load(path, EnvPrefix)
}

func load(path, prefix string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(mapProvider(Defaults()), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(prefix, ".", envKey(prefix)), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

// envKey maps ZIPPY_CONSOLE_ADMIN_ROLES to console.admin_roles.
func envKey(prefix string) func(string) string {
	return func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, prefix))
		section, rest, ok := strings.Cut(s, "_")
		if !ok {
			return s
		}
		return section + "." + rest
	}
}

func (c *Config) normalize() {
	c.Provider.Kind = strings.ToLower(strings.TrimSpace(c.Provider.Kind))
	c.Provider.URL = strings.TrimRight(strings.TrimSpace(c.Provider.URL), "/")
	c.Session.Backend = strings.ToLower(strings.TrimSpace(c.Session.Backend))
	c.Console.Origin = strings.TrimRight(strings.TrimSpace(c.Console.Origin), "/")
	roles := c.Console.AdminRoles[:0]
	for _, r := range c.Console.AdminRoles {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	c.Console.AdminRoles = roles
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Provider.Kind {
	case ProviderMemory:
		if c.Provider.Secret == "" {
			errs = append(errs, errors.New("provider.secret is required for the memory provider"))
		}
	case ProviderGoTrue:
		if c.Provider.URL == "" {
			errs = append(errs, errors.New("provider.url is required for the gotrue provider"))
		}
		if c.Provider.AnonKey == "" {
			errs = append(errs, errors.New("provider.anon_key is required for the gotrue provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider.kind %q", c.Provider.Kind))
	}
	switch c.Session.Backend {
	case SessionMemory:
	case SessionBadger:
		if c.Session.Dir == "" {
			errs = append(errs, errors.New("session.dir is required for the badger backend"))
		}
	case SessionRedis:
		if c.Session.RedisAddr == "" {
			errs = append(errs, errors.New("session.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session.backend %q", c.Session.Backend))
	}
	if c.Provider.Timeout <= 0 {
		errs = append(errs, errors.New("provider.timeout must be positive"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be positive"))
	}
	if c.Rate.PerSecond < 0 || c.Rate.Burst < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// mapProvider feeds a plain map to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}
