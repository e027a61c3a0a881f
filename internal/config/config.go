// Package config loads rtpcontrol settings using viper.
//
// Precedence, lowest first: built-in defaults, the optional YAML file,
// RTPCONTROL_* environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. RTPCONTROL_PORT.
const EnvPrefix = "RTPCONTROL"

// Config holds the control server configuration
type Config struct {
	// Address and Port are where engines connect to us
	Address string `mapstructure:"address" yaml:"address"`
	Port    int    `mapstructure:"port" yaml:"port"`
	// MaxConnections caps concurrent inbound engine connections, 0 for no limit
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections"`

	// Engines are addresses we dial out to instead of waiting for them
	Engines []string `mapstructure:"engines" yaml:"engines"`

	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	Reserve        int           `mapstructure:"reserve" yaml:"reserve"`
	NodeID         string        `mapstructure:"node_id" yaml:"node_id"`

	Debug    bool   `mapstructure:"debug" yaml:"debug"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogFile  string `mapstructure:"log_file" yaml:"log_file"`

	// MetricsAddr serves /metrics when set
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// YAML renders the resolved configuration in config file form
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ListenAddr is the host:port the control server listens on
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Address, fmt.Sprint(c.Port))
}

// EffectiveLogLevel folds the debug toggle into the configured level
func (c *Config) EffectiveLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.LogLevel
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("max_connections must not be negative, got %d", c.MaxConnections))
	}
	if c.Reserve < 0 {
		errs = append(errs, fmt.Errorf("reserve must not be negative, got %d", c.Reserve))
	}
	for _, e := range c.Engines {
		if _, _, err := net.SplitHostPort(e); err != nil {
			errs = append(errs, fmt.Errorf("engine %q: %w", e, err))
		}
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errs = append(errs, fmt.Errorf("metrics_addr %q: %w", c.MetricsAddr, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("address", "127.0.0.1")
	v.SetDefault("port", 9002)
	v.SetDefault("max_connections", 0)
	v.SetDefault("engines", []string{})
	v.SetDefault("request_timeout", "1500ms")
	v.SetDefault("reserve", 2)
	v.SetDefault("node_id", "")
	v.SetDefault("debug", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("metrics_addr", "")
}

// Flags declares command-line flags for every key. Flag names use dashes
// in place of the key's underscores.
func Flags(fs *pflag.FlagSet) {
	fs.String("address", "127.0.0.1", "address engines connect to")
	fs.Int("port", 9002, "port engines connect to")
	fs.Int("max-connections", 0, "maximum concurrent engine connections (0 for no limit)")
	fs.StringSlice("engines", nil, "engine addresses to dial (comma-separated)")
	fs.Duration("request-timeout", 1500*time.Millisecond, "open/close response timeout")
	fs.Int("reserve", 2, "channels kept free on each instance")
	fs.String("node-id", "", "identifier stamped on published events")
	fs.Bool("debug", false, "enable debug logging")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-file", "", "also write logs to this rotating file")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
}

// Load reads the configuration. path may be empty to skip the file; fs may
// be nil when there are no flags. Only flags the user actually set override
// the lower layers.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Engines = splitList(cfg.Engines)
	return &cfg, nil
}

// splitList flattens comma-separated entries, which is how a single
// environment variable carries several engines
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
