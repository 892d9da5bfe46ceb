package config

import (
	"time"

	"github.com/edgechute/chuted/pkg/telemetry"
)

// Config is the agent configuration.
type Config struct {
	Router    RouterConfig     `yaml:"router"`
	Paths     PathsConfig      `yaml:"paths"`
	Docker    DockerConfig     `yaml:"docker"`
	Network   NetworkConfig    `yaml:"network"`
	MQTT      MQTTConfig       `yaml:"mqtt"`
	Policy    PolicyConfig     `yaml:"policy"`
	Telemetry telemetry.Config `yaml:"telemetry" validate:"-"`
}

// RouterConfig identifies the device.
type RouterConfig struct {
	// ID identifies the router upstream. Empty means the hostname.
	ID string `yaml:"id"`

	// Name is a human-readable device name.
	Name string `yaml:"name"`

	// Mode is production, local or unittest.
	Mode string `yaml:"mode" validate:"required,oneof=production local unittest"`

	// QueueSize is how many update requests may wait for the worker.
	QueueSize int `yaml:"queue_size" validate:"gt=0"`
}

// PathsConfig locates the agent's state on disk.
type PathsConfig struct {
	// Data is the base directory for agent state.
	Data string `yaml:"data" validate:"required"`

	// Database is the SQLite database file. Relative paths are below Data.
	Database string `yaml:"database" validate:"required"`

	// Spool is the directory watched for update request files. Relative
	// paths are below Data; empty disables the spool.
	Spool string `yaml:"spool"`
}

// DockerConfig configures the container runtime.
type DockerConfig struct {
	Enabled bool `yaml:"enabled"`

	// Host overrides DOCKER_HOST.
	Host string `yaml:"host"`

	// Network attaches chute containers to a user-defined network.
	Network string `yaml:"network"`

	// StopTimeout is the grace period in seconds before a container is killed.
	StopTimeout int `yaml:"stop_timeout" validate:"gte=0"`

	// Pull fetches image services before starting them.
	Pull bool `yaml:"pull"`
}

// NetworkConfig configures chute network settings.
type NetworkConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir receives one rendered file per chute.
	Dir string `yaml:"dir" validate:"required_if=Enabled true"`

	// Unit is the systemd unit reloaded after a change. Empty skips the reload.
	Unit string `yaml:"unit"`
}

// MQTTConfig configures upstream reporting.
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker" validate:"required_if=Enabled true,omitempty,url"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos" validate:"lte=2"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// PolicyConfig configures admission policies.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled"`

	// Paths lists extra .rego or .json policy files and directories.
	Paths []string `yaml:"paths"`

	// Watch reloads policies when files under Paths change.
	Watch bool `yaml:"watch"`

	// Disabled names policies, built-in or loaded, that are never evaluated.
	Disabled []string `yaml:"disabled"`
}
