package manager

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/edgechute/chuted/pkg/chute"
	"github.com/edgechute/chuted/pkg/config"
	"github.com/edgechute/chuted/pkg/engine"
)

// Request asks the agent to perform one update. Chute carries the desired
// definition for create and update; the other chute updates may name an
// installed chute instead.
type Request struct {
	Type  engine.UpdateType `json:"type" yaml:"type"`
	Name  string            `json:"name,omitempty" yaml:"name,omitempty"`
	Chute *chute.Chute      `json:"chute,omitempty" yaml:"chute,omitempty"`
}

// ParseRequest decodes a YAML or JSON request document. The document is
// checked against the request schema before it is decoded.
func ParseRequest(data []byte) (*Request, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	if err := config.ValidateRequest(doc); err != nil {
		return nil, err
	}

	var req Request
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	if req.Chute != nil {
		req.Chute.Normalize()
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate checks that the request names a known update type and carries
// what that type needs.
func (r *Request) Validate() error {
	if err := r.Type.Validate(); err != nil {
		return err
	}
	if r.Type.IsRouterOp() {
		return nil
	}

	switch r.Type {
	case engine.UpdateCreate, engine.UpdateUpdate:
		if r.Chute == nil {
			return fmt.Errorf("%s request requires a chute definition", r.Type)
		}
	default:
		if r.ChuteName() == "" {
			return fmt.Errorf("%s request requires a chute name", r.Type)
		}
	}
	if r.Chute != nil && r.Name != "" && r.Chute.Name != r.Name {
		return fmt.Errorf("request name %q does not match chute %q", r.Name, r.Chute.Name)
	}
	return nil
}

// ChuteName returns the name of the chute the request acts on.
func (r *Request) ChuteName() string {
	if r.Chute != nil && r.Chute.Name != "" {
		return r.Chute.Name
	}
	return r.Name
}
