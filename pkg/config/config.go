package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/edgechute/chuted/pkg/telemetry"
)

// Environment variables that override the config file.
const (
	EnvRouterID = "CHUTED_ROUTER_ID"
	EnvMode     = "CHUTED_MODE"
	EnvDataDir  = "CHUTED_DATA_DIR"
	EnvLogLevel = "LOG_LEVEL"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Router: RouterConfig{
			Mode:      "production",
			QueueSize: 32,
		},
		Paths: PathsConfig{
			Data:     "/var/lib/chuted",
			Database: "chuted.db",
			Spool:    "spool",
		},
		Docker: DockerConfig{
			Enabled:     true,
			StopTimeout: 10,
			Pull:        true,
		},
		Network: NetworkConfig{
			Dir: "/etc/chuted/network",
		},
		MQTT: MQTTConfig{
			ClientID:       "chuted",
			TopicPrefix:    "chuted",
			QoS:            1,
			ConnectTimeout: 10 * time.Second,
		},
		Policy: PolicyConfig{
			Enabled: true,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults without reading the
// environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if doc == nil {
		return nil
	}
	if err := Schemas().Validate(SchemaAgent, doc); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvRouterID); v != "" {
		c.Router.ID = v
	}
	if v := os.Getenv(EnvMode); v != "" {
		c.Router.Mode = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		c.Paths.Data = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Telemetry.Logging.Level = strings.ToLower(v)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

// DatabasePath returns the absolute database location.
func (c *Config) DatabasePath() string {
	return c.resolve(c.Paths.Database)
}

// SpoolDir returns the spool directory, or "" when the spool is disabled.
func (c *Config) SpoolDir() string {
	if c.Paths.Spool == "" {
		return ""
	}
	return c.resolve(c.Paths.Spool)
}

func (c *Config) resolve(p string) string {
	if p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Paths.Data, p)
}
