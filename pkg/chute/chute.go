// Package chute defines the internal representation of a chute: the desired
// software state of one application installed on the gateway.
//
// A Chute is a snapshot of intent at a fixed point in time. Once constructed it
// is only mutated through InheritAttributes, which fills empty fields from a
// prior version, and through its cache.
package chute

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// State is the desired run state of a chute.
type State string

const (
	StateInvalid  State = "invalid"
	StateDisabled State = "disabled"
	StateRunning  State = "running"
	StateFrozen   State = "frozen"
	StateStopped  State = "stopped"
)

// Validate checks if the state is one of the known states.
func (s State) Validate() error {
	switch s {
	case StateInvalid, StateDisabled, StateRunning, StateFrozen, StateStopped:
		return nil
	default:
		return fmt.Errorf("invalid chute state: %q", s)
	}
}

// ErrServiceNotFound is returned when a chute has no service with the requested name.
var ErrServiceNotFound = errors.New("service not found")

// Well-known configuration keys.
const (
	ConfigHostConfig = "host_config"
	ConfigWeb        = "web"
	ConfigNet        = "net"
)

// Service is one container hosted by a chute.
type Service struct {
	// Name identifies the service inside its chute.
	Name string `json:"name" yaml:"name" validate:"required,hostname_rfc1123"`

	// Image is a prebuilt image reference. Either Image or Source must be set.
	Image string `json:"image,omitempty" yaml:"image,omitempty" validate:"required_without=Source"`

	// Source is a build context directory containing a Dockerfile.
	Source string `json:"source,omitempty" yaml:"source,omitempty" validate:"required_without=Image"`

	// Dockerfile overrides the Dockerfile name inside Source.
	Dockerfile string `json:"dockerfile,omitempty" yaml:"dockerfile,omitempty"`

	// Command overrides the image entrypoint arguments.
	Command []string `json:"command,omitempty" yaml:"command,omitempty"`

	// Environment is passed to the container.
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// Chute is the desired state of one application.
type Chute struct {
	Name        string         `json:"name" yaml:"name" validate:"required,hostname_rfc1123"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Owner       string         `json:"owner,omitempty" yaml:"owner,omitempty"`
	State       State          `json:"state" yaml:"state" validate:"required,oneof=invalid disabled running frozen stopped"`
	Version     string         `json:"version,omitempty" yaml:"version,omitempty"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	Services map[string]*Service `json:"services,omitempty" yaml:"services,omitempty" validate:"dive"`

	// cache holds values derived while applying an update. It is attached right
	// before the chute is saved so the values survive into later reads.
	cache map[string]any
}

// New creates a chute with the default running state.
func New(name string) *Chute {
	return &Chute{
		Name:     name,
		State:    StateRunning,
		Config:   make(map[string]any),
		Services: make(map[string]*Service),
		cache:    make(map[string]any),
	}
}

func (c *Chute) String() string {
	return fmt.Sprintf("Chute:%s", c.Name)
}

// IsRunning reports whether the chute is supposed to be running.
func (c *Chute) IsRunning() bool {
	return c.State == StateRunning
}

// IsValid reports whether the chute has the fields required to be applied.
func (c *Chute) IsValid() bool {
	return c != nil && c.Name != ""
}

// GetCache returns a cached value or nil.
func (c *Chute) GetCache(key string) any {
	return c.cache[key]
}

// CacheContents returns a copy of the cache.
func (c *Chute) CacheContents() map[string]any {
	out := make(map[string]any, len(c.cache))
	for k, v := range c.cache {
		out[k] = v
	}
	return out
}

// SetCache stores a value in the cache.
func (c *Chute) SetCache(key string, value any) {
	if c.cache == nil {
		c.cache = make(map[string]any)
	}
	c.cache[key] = value
}

// UpdateCache merges other into the cache.
func (c *Chute) UpdateCache(other map[string]any) {
	for k, v := range other {
		c.SetCache(k, v)
	}
}

// Configuration returns the chute's configuration map.
func (c *Chute) Configuration() map[string]any {
	if c.Config == nil {
		return map[string]any{}
	}
	return c.Config
}

// HostConfig returns the container host options, or an empty map.
func (c *Chute) HostConfig() map[string]any {
	if hc, ok := c.Config[ConfigHostConfig].(map[string]any); ok {
		return hc
	}
	return map[string]any{}
}

// NetConfig returns the network settings section, or nil.
func (c *Chute) NetConfig() map[string]any {
	if c == nil {
		return nil
	}
	if nc, ok := c.Config[ConfigNet].(map[string]any); ok {
		return nc
	}
	return nil
}

// WebPort returns the port configured for the chute's web server.
func (c *Chute) WebPort() (int, bool) {
	web, ok := c.Config[ConfigWeb].(map[string]any)
	if !ok {
		return 0, false
	}
	return toPort(web["port"])
}

// WebPortAndService returns the web port together with the service providing it.
// The default service is used when the web section names none.
func (c *Chute) WebPortAndService() (int, *Service, error) {
	port, ok := c.WebPort()
	if !ok {
		return 0, nil, nil
	}

	web, _ := c.Config[ConfigWeb].(map[string]any)
	if name, ok := web["service"].(string); ok && name != "" {
		svc, err := c.GetService(name)
		if err != nil {
			return 0, nil, err
		}
		return port, svc, nil
	}

	svc, err := c.DefaultService()
	if err != nil {
		return 0, nil, err
	}
	return port, svc, nil
}

// InheritAttributes copies empty identity fields from another version of the
// chute and returns the changes that were applied.
func (c *Chute) InheritAttributes(other *Chute) map[string]any {
	changes := make(map[string]any)
	if other == nil {
		return changes
	}

	if c.Name == "" && other.Name != "" {
		c.Name = other.Name
		changes["name"] = other.Name
	}
	if c.Description == "" && other.Description != "" {
		c.Description = other.Description
		changes["description"] = other.Description
	}
	if c.State == "" && other.State != "" {
		c.State = other.State
		changes["state"] = other.State
	}
	if c.Version == "" && other.Version != "" {
		c.Version = other.Version
		changes["version"] = other.Version
	}

	return changes
}

// AddService adds or replaces a service.
func (c *Chute) AddService(svc *Service) {
	if c.Services == nil {
		c.Services = make(map[string]*Service)
	}
	c.Services[svc.Name] = svc
}

// DefaultService returns the service named "main", or the service with the
// lexicographically smallest name.
func (c *Chute) DefaultService() (*Service, error) {
	if svc, ok := c.Services["main"]; ok {
		return svc, nil
	}
	if len(c.Services) == 0 {
		return nil, fmt.Errorf("chute %s has no services: %w", c.Name, ErrServiceNotFound)
	}

	names := c.serviceNames()
	return c.Services[names[0]], nil
}

// GetService returns a service by name.
func (c *Chute) GetService(name string) (*Service, error) {
	if svc, ok := c.Services[name]; ok {
		return svc, nil
	}
	return nil, fmt.Errorf("%s in chute %s: %w", name, c.Name, ErrServiceNotFound)
}

// ServiceList returns the services sorted by name.
func (c *Chute) ServiceList() []*Service {
	names := c.serviceNames()
	out := make([]*Service, 0, len(names))
	for _, name := range names {
		out = append(out, c.Services[name])
	}
	return out
}

// GetOwner returns the identity of the user who owns the chute.
func (c *Chute) GetOwner() string {
	return c.Owner
}

// Clone returns a copy of the chute that does not share maps with c.
// Config values are copied shallowly.
func (c *Chute) Clone() *Chute {
	if c == nil {
		return nil
	}

	out := *c
	out.Config = make(map[string]any, len(c.Config))
	for k, v := range c.Config {
		out.Config[k] = v
	}
	out.Services = make(map[string]*Service, len(c.Services))
	for k, v := range c.Services {
		svc := *v
		out.Services[k] = &svc
	}
	out.cache = c.CacheContents()
	return &out
}

func (c *Chute) serviceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func toPort(v any) (int, bool) {
	switch p := v.(type) {
	case int:
		return p, true
	case int64:
		return int(p), true
	case float64:
		return int(p), true
	case string:
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
