// Package config loads server configuration from an optional YAML
// file, environment variables and flag overrides layered by viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"tclmcp/internal/domain"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. TCLMCP_TRANSPORT.
	EnvPrefix = "TCLMCP"

	TransportStdio = "stdio"
	TransportHTTP  = "http"

	DefaultHTTPAddr    = "127.0.0.1:8080"
	DefaultHTTPPath    = "/mcp"
	DefaultMetricsAddr = ""
)

// Config is the resolved server configuration.
type Config struct {
	Transport     string     `mapstructure:"transport"`
	Privileged    bool       `mapstructure:"privileged"`
	Runtime       string     `mapstructure:"runtime"`
	ToolsDir      string     `mapstructure:"toolsDir"`
	StorageDir    string     `mapstructure:"storageDir"`
	QueueCapacity int        `mapstructure:"queueCapacity"`
	WatchTools    bool       `mapstructure:"watchTools"`
	HTTP          HTTPConfig `mapstructure:"http"`
	MetricsAddr   string     `mapstructure:"metricsAddr"`
}

// HTTPConfig configures the streamable HTTP transport.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
	// Token, when set, is the bearer token required on every request.
	Token string `mapstructure:"token"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport", TransportStdio)
	v.SetDefault("privileged", false)
	v.SetDefault("runtime", "")
	v.SetDefault("toolsDir", domain.DefaultToolsDir)
	v.SetDefault("storageDir", "")
	v.SetDefault("queueCapacity", domain.DefaultQueueCapacity)
	v.SetDefault("watchTools", false)
	v.SetDefault("http.addr", DefaultHTTPAddr)
	v.SetDefault("http.path", DefaultHTTPPath)
	v.SetDefault("http.token", "")
	v.SetDefault("metricsAddr", DefaultMetricsAddr)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (Config, error) {
	v := newViper()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	c.Runtime = strings.TrimSpace(c.Runtime)
	c.ToolsDir = strings.TrimSpace(c.ToolsDir)
	c.StorageDir = strings.TrimSpace(c.StorageDir)
	c.HTTP.Path = strings.TrimSpace(c.HTTP.Path)
	if c.HTTP.Path != "" && !strings.HasPrefix(c.HTTP.Path, "/") {
		c.HTTP.Path = "/" + c.HTTP.Path
	}
}

func (c *Config) validate() error {
	var errs []error
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		errs = append(errs, fmt.Errorf("transport must be %q or %q, got %q",
			TransportStdio, TransportHTTP, c.Transport))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("queueCapacity must be positive, got %d", c.QueueCapacity))
	}
	if c.ToolsDir == "" {
		errs = append(errs, errors.New("toolsDir must not be empty"))
	}
	if c.Transport == TransportHTTP {
		if c.HTTP.Addr == "" {
			errs = append(errs, errors.New("http.addr must not be empty"))
		}
		if c.HTTP.Path == "" {
			errs = append(errs, errors.New("http.path must not be empty"))
		}
	}
	return errors.Join(errs...)
}
