// Package config loads service settings from defaults, an optional YAML file
// and NEXUSWATCH_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"nexuswatch/internal/incidents"
)

const EnvPrefix = "NEXUSWATCH"

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
	BackendPebble   = "pebble"
)

type StoreConfig struct {
	Backend   string `mapstructure:"backend"`
	DSN       string `mapstructure:"dsn"`
	Path      string `mapstructure:"path"`
	SchemaDir string `mapstructure:"schema_dir"`
}

type NotifyConfig struct {
	Workers         int           `mapstructure:"workers"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	ChatHistory     int           `mapstructure:"chat_history"`
	AnnounceURL     string        `mapstructure:"announce_url"`
	AnnounceToken   string        `mapstructure:"announce_token"`
	AnnounceTimeout time.Duration `mapstructure:"announce_timeout"`
	AnnounceRetries uint64        `mapstructure:"announce_retries"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	OperatorsPath string        `mapstructure:"operators_path"`
}

type Config struct {
	HTTPAddr  string           `mapstructure:"http_addr"`
	LogLevel  string           `mapstructure:"log_level"`
	LogFormat string           `mapstructure:"log_format"`
	Store     StoreConfig      `mapstructure:"store"`
	Watch     incidents.Policy `mapstructure:"watch"`
	Notify    NotifyConfig     `mapstructure:"notify"`
	CORS      CORSConfig       `mapstructure:"cors"`
	Auth      AuthConfig       `mapstructure:"auth"`
}

// SetDefaults registers every key so that environment overrides are seen by
// Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.path", "")
	v.SetDefault("store.schema_dir", "sql")

	v.SetDefault("watch.quorum", incidents.DefaultQuorum)
	v.SetDefault("watch.allow_self_verification", false)
	v.SetDefault("watch.mutation_timeout", incidents.DefaultMutationTimeout)

	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.delivery_timeout", 30*time.Second)
	v.SetDefault("notify.chat_history", 50)
	v.SetDefault("notify.announce_url", "")
	v.SetDefault("notify.announce_token", "")
	v.SetDefault("notify.announce_timeout", 10*time.Second)
	v.SetDefault("notify.announce_retries", 3)

	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("auth.operators_path", "")
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path into v and decodes the result.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// OperatorAPIEnabled reports whether login and admin routes are mounted.
func (c Config) OperatorAPIEnabled() bool {
	return c.Auth.OperatorsPath != ""
}

func (c Config) Validate() error {
	var result *multierror.Error
	if c.HTTPAddr == "" {
		result = multierror.Append(result, errors.New("http_addr is required"))
	}
	if err := c.Watch.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("watch: %w", err))
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Store.DSN == "" {
			result = multierror.Append(result, errors.New("store.dsn is required for the postgres backend"))
		}
	case BackendBadger, BackendPebble:
		if c.Store.Path == "" {
			result = multierror.Append(result, fmt.Errorf("store.path is required for the %s backend", c.Store.Backend))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	if c.Notify.Workers < 1 {
		result = multierror.Append(result, errors.New("notify.workers must be at least 1"))
	}
	if c.OperatorAPIEnabled() && c.Auth.JWTSecret == "" {
		result = multierror.Append(result, errors.New("auth.jwt_secret is required when auth.operators_path is set"))
	}
	return result.ErrorOrNil()
}
