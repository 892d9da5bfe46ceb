package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/edgechute/chuted/pkg/chute"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not block the update.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the update.
	SeverityError Severity = "error"

	// SeverityCritical blocks the update and is reported upstream.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the update.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. It must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Chute is the chute the violation refers to.
	Chute string `json:"chute,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message)
}

// Result represents the result of evaluating every enabled policy against
// one update.
type Result struct {
	// Allowed is false when at least one blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that do not block the update.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policies were evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Err returns nil when the update is allowed, otherwise an error listing the
// blocking violations.
func (r *Result) Err() error {
	if r == nil || r.Allowed {
		return nil
	}
	msgs := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		msgs = append(msgs, v.Message)
	}
	return fmt.Errorf("denied by policy: %s", strings.Join(msgs, "; "))
}

// Input is the document policies see as input.
type Input struct {
	// UpdateType is the kind of update being admitted.
	UpdateType string `json:"update_type"`

	// Chute is the desired chute, absent for delete and router updates.
	Chute *ChuteInput `json:"chute,omitempty"`

	// Old is the installed chute, if any.
	Old *ChuteInput `json:"old,omitempty"`

	// Context provides additional evaluation context.
	Context *Context `json:"context"`
}

// ChuteInput is the policy view of a chute. String fields are always
// present so policies can test them against "".
type ChuteInput struct {
	Name     string                 `json:"name"`
	Owner    string                 `json:"owner"`
	Version  string                 `json:"version"`
	State    string                 `json:"state"`
	Config   map[string]interface{} `json:"config,omitempty"`
	Services []ServiceInput         `json:"services"`
}

// ServiceInput is the policy view of a chute service.
type ServiceInput struct {
	Name   string `json:"name"`
	Image  string `json:"image"`
	Source string `json:"source"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// RouterID identifies the device evaluating the policy.
	RouterID string `json:"router_id,omitempty"`

	// Mode is the agent operating mode.
	Mode string `json:"mode,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// NewInput builds the policy input for an update.
func NewInput(updateType string, newChute, oldChute *chute.Chute, ctx *Context) *Input {
	if ctx == nil {
		ctx = &Context{}
	}
	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now()
	}
	return &Input{
		UpdateType: updateType,
		Chute:      chuteInput(newChute),
		Old:        chuteInput(oldChute),
		Context:    ctx,
	}
}

func chuteInput(c *chute.Chute) *ChuteInput {
	if c == nil {
		return nil
	}
	in := &ChuteInput{
		Name:     c.Name,
		Owner:    c.Owner,
		Version:  c.Version,
		State:    string(c.State),
		Config:   c.Configuration(),
		Services: make([]ServiceInput, 0, len(c.Services)),
	}
	for _, svc := range c.ServiceList() {
		in.Services = append(in.Services, ServiceInput{
			Name:   svc.Name,
			Image:  svc.Image,
			Source: svc.Source,
		})
	}
	return in
}

// PolicyBundle represents a collection of related policies.
type PolicyBundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}

func sortedNames(m map[string]*compiledPolicy) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
