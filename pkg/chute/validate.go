package chute

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
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

// Validate checks the chute and its services against the definition rules.
func (c *Chute) Validate() error {
	if !c.IsValid() {
		return fmt.Errorf("chute name is required")
	}

	if err := structValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid chute %s: %s", c.Name, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid chute %s: %w", c.Name, err)
	}

	for key, svc := range c.Services {
		if svc.Name != key {
			return fmt.Errorf("invalid chute %s: service key %q does not match name %q", c.Name, key, svc.Name)
		}
	}

	return nil
}

// Decode parses a YAML chute definition. Service names default to their map
// keys and the state defaults to running.
func Decode(data []byte) (*Chute, error) {
	c := New("")
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse chute definition: %w", err)
	}
	c.Normalize()
	return c, nil
}

// LoadFile reads and parses a YAML chute definition from disk.
func LoadFile(path string) (*Chute, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chute definition: %w", err)
	}
	return Decode(data)
}

// Normalize fills defaults left empty by a decoded definition.
func (c *Chute) Normalize() {
	if c.State == "" {
		c.State = StateRunning
	}
	if c.Config == nil {
		c.Config = make(map[string]any)
	}
	if c.Services == nil {
		c.Services = make(map[string]*Service)
	}
	for key, svc := range c.Services {
		if svc == nil {
			svc = &Service{}
			c.Services[key] = svc
		}
		if svc.Name == "" {
			svc.Name = key
		}
	}
	if c.cache == nil {
		c.cache = make(map[string]any)
	}
}
