// Package config builds the immutable runtime configuration.
//
// Sources, lowest precedence first: built-in defaults, an optional
// rotd.{yaml,toml,json} file, ROTD_* environment variables, and explicit
// overrides from the command line. The merged result is checked against an
// embedded CUE schema before it is handed to any component.
package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/rotd/internal/fault"
	"github.com/roach88/rotd/internal/transform"
)

// EnvPrefix prefixes every environment override, e.g. ROTD_ROTATION_MODE.
const EnvPrefix = "ROTD"

// FileName is the config file base name searched for in the config dir and
// the base dir.
const FileName = "rotd"

// Config is the full runtime configuration. It is passed by value.
type Config struct {
	Base     string         `json:"base" mapstructure:"base"`
	Secret   SecretConfig   `json:"secret" mapstructure:"secret"`
	Rotation RotationConfig `json:"rotation" mapstructure:"rotation"`
	Publish  PublishConfig  `json:"publish" mapstructure:"publish"`
	Watch    WatchConfig    `json:"watch" mapstructure:"watch"`
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Alerts   AlertsConfig   `json:"alerts" mapstructure:"alerts"`
	Monitors MonitorsConfig `json:"monitors" mapstructure:"monitors"`
}

// SecretConfig names the environment variable holding the HMAC key.
type SecretConfig struct {
	Env string `json:"env" mapstructure:"env"`
}

// RotationConfig controls rotation cycles.
type RotationConfig struct {
	Mode         string        `json:"mode" mapstructure:"mode"`
	Param        int           `json:"param" mapstructure:"param"`
	Seed         string        `json:"seed" mapstructure:"seed"`
	Interval     time.Duration `json:"interval" mapstructure:"interval"`
	AbortOnError bool          `json:"abort_on_error" mapstructure:"abort_on_error"`
}

// PublishConfig selects where rotated trees are published after a cycle.
type PublishConfig struct {
	Kind    string        `json:"kind" mapstructure:"kind"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	Git     GitConfig     `json:"git" mapstructure:"git"`
	GCS     GCSConfig     `json:"gcs" mapstructure:"gcs"`
}

// GitConfig configures the git publisher. An empty Repo means the rotated
// tree itself is the working copy.
type GitConfig struct {
	Repo   string `json:"repo" mapstructure:"repo"`
	Remote string `json:"remote" mapstructure:"remote"`
}

// GCSConfig configures the Cloud Storage publisher.
type GCSConfig struct {
	Bucket          string `json:"bucket" mapstructure:"bucket"`
	Prefix          string `json:"prefix" mapstructure:"prefix"`
	CredentialsFile string `json:"credentials_file" mapstructure:"credentials_file"`
}

// WatchConfig controls the integrity watchdog.
type WatchConfig struct {
	Interval time.Duration `json:"interval" mapstructure:"interval"`
	FSNotify bool          `json:"fsnotify" mapstructure:"fsnotify"`
	Debounce time.Duration `json:"debounce" mapstructure:"debounce"`
	Targets  []Target      `json:"targets" mapstructure:"targets"`
}

// Target is an extra file watched in addition to the manifest entries.
// Mirror optionally names its repair source; otherwise the mirror tree is
// searched by name.
type Target struct {
	Path   string `json:"path" mapstructure:"path"`
	Mirror string `json:"mirror" mapstructure:"mirror"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr             string  `json:"addr" mapstructure:"addr"`
	WebhookSecretEnv string  `json:"webhook_secret_env" mapstructure:"webhook_secret_env"`
	RateLimit        float64 `json:"rate_limit" mapstructure:"rate_limit"`
	Burst            int     `json:"burst" mapstructure:"burst"`
}

// AlertsConfig configures outbound notifications. An empty WebhookURL
// leaves alerts log-only.
type AlertsConfig struct {
	WebhookURL string        `json:"webhook_url" mapstructure:"webhook_url"`
	Format     string        `json:"format" mapstructure:"format"`
	SecretEnv  string        `json:"secret_env" mapstructure:"secret_env"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	RateLimit  float64       `json:"rate_limit" mapstructure:"rate_limit"`
}

// MonitorsConfig lists external health checks to register.
type MonitorsConfig struct {
	Endpoint    string        `json:"endpoint" mapstructure:"endpoint"`
	AuthIDEnv   string        `json:"auth_id_env" mapstructure:"auth_id_env"`
	AuthPassEnv string        `json:"auth_pass_env" mapstructure:"auth_pass_env"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	Checks      []Check       `json:"checks" mapstructure:"checks"`
}

// Check is one monitoring check definition.
type Check struct {
	Name   string            `json:"name" mapstructure:"name"`
	Type   string            `json:"type" mapstructure:"type"`
	Host   string            `json:"host" mapstructure:"host"`
	Params map[string]string `json:"params" mapstructure:"params"`
}

// Options locate the config file and carry command-line overrides.
type Options struct {
	ConfigDir string
	Base      string
	Overrides map[string]any
}

// ConfigError reports an invalid or unreadable configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config error: " + e.Message
	}
	return "config error in field '" + e.Field + "': " + e.Message
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base", ".")
	v.SetDefault("secret.env", "ROT_KEY")

	v.SetDefault("rotation.mode", string(transform.ModeRight))
	v.SetDefault("rotation.param", 3)
	v.SetDefault("rotation.seed", "")
	v.SetDefault("rotation.interval", time.Hour)
	v.SetDefault("rotation.abort_on_error", false)

	v.SetDefault("publish.kind", "none")
	v.SetDefault("publish.timeout", 30*time.Second)
	v.SetDefault("publish.git.repo", "")
	v.SetDefault("publish.git.remote", "origin")
	v.SetDefault("publish.gcs.bucket", "")
	v.SetDefault("publish.gcs.prefix", "rotd")
	v.SetDefault("publish.gcs.credentials_file", "")

	v.SetDefault("watch.interval", 10*time.Second)
	v.SetDefault("watch.fsnotify", true)
	v.SetDefault("watch.debounce", 500*time.Millisecond)
	v.SetDefault("watch.targets", []Target{})

	v.SetDefault("server.addr", "127.0.0.1:9000")
	v.SetDefault("server.webhook_secret_env", "")
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.burst", 10)

	v.SetDefault("alerts.webhook_url", "")
	v.SetDefault("alerts.format", "json")
	v.SetDefault("alerts.secret_env", "")
	v.SetDefault("alerts.timeout", 10*time.Second)
	v.SetDefault("alerts.rate_limit", 1.0)

	v.SetDefault("monitors.endpoint", "https://panel.cloudns.net/api/json/monitoring/add-monitor/")
	v.SetDefault("monitors.auth_id_env", "CLOUDNS_AUTH_ID")
	v.SetDefault("monitors.auth_pass_env", "CLOUDNS_AUTH_PASS")
	v.SetDefault("monitors.timeout", 30*time.Second)
	v.SetDefault("monitors.checks", []Check{})
}

// Load merges all configuration sources and validates the result.
// Any failure is a ConfigError wrapped in a fault.KindConfig.
func Load(opts Options) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(FileName)
	if opts.ConfigDir != "" {
		v.AddConfigPath(opts.ConfigDir)
	}
	if opts.Base != "" {
		v.AddConfigPath(opts.Base)
	}

	if opts.ConfigDir != "" || opts.Base != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, configFault(&ConfigError{Message: err.Error()})
			}
		}
	}

	if opts.Base != "" {
		v.Set("base", opts.Base)
	}
	for k, val := range opts.Overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, configFault(&ConfigError{Message: err.Error()})
	}

	abs, err := filepath.Abs(cfg.Base)
	if err != nil {
		return Config{}, configFault(&ConfigError{Field: "base", Message: err.Error()})
	}
	cfg.Base = abs

	if err := cfg.Validate(); err != nil {
		return Config{}, configFault(err)
	}
	return cfg, nil
}

func configFault(err error) error {
	return fault.New(fault.KindConfig, "load config", "", err)
}

// Validate checks cfg against the embedded schema.
func (c Config) Validate() error {
	return validateSchema(c)
}

// Layout returns the directory layout rooted at c.Base.
func (c Config) Layout() Layout {
	return Layout{Base: c.Base}
}

// TransformParams returns the configured rotation parameters.
func (c Config) TransformParams() transform.Params {
	return transform.Params{
		Mode:  transform.Mode(c.Rotation.Mode),
		Param: c.Rotation.Param,
		Seed:  c.Rotation.Seed,
	}
}
