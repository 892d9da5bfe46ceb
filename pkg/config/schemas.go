package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// Names of the built-in schemas.
const (
	SchemaAgent   = "agent"
	SchemaRequest = "request"
)

// SchemaRegistry manages CUE schemas for validating raw documents before
// they are decoded into Go structs. Schema definitions are closed, so
// misspelled keys are reported instead of silently ignored.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.Mutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.mustRegister(SchemaAgent, builtinSchemas, "#Agent")
	sr.mustRegister(SchemaRequest, builtinSchemas, "#Request")
	return sr
}

func (sr *SchemaRegistry) mustRegister(name, src, definition string) {
	if err := sr.RegisterSchema(name, src, definition); err != nil {
		panic(err)
	}
}

// RegisterSchema compiles src and registers the given definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, src, definition string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(src, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s: definition %s not found", name, definition)
	}
	if err := def.Err(); err != nil {
		return fmt.Errorf("schema %s: %w", name, err)
	}

	sr.schemas[name] = def
	return nil
}

// Validate checks a decoded document against the named schema. Every
// violation is reported, one per line.
func (sr *SchemaRegistry) Validate(name string, data any) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[name]
	if !ok {
		return fmt.Errorf("schema %s not found", name)
	}

	val := sr.ctx.Encode(data)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	if err := schema.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Schema: name, Details: details(err)}
	}
	return nil
}

// List returns all registered schema names.
func (sr *SchemaRegistry) List() []string {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SchemaError lists the violations found in a document.
type SchemaError struct {
	Schema  string
	Details []string
}

func (e *SchemaError) Error() string {
	msg := fmt.Sprintf("document does not match %s schema", e.Schema)
	for _, d := range e.Details {
		msg += "\n  " + d
	}
	return msg
}

func details(err error) []string {
	var out []string
	for _, e := range errors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := e.Path(); len(path) > 0 {
			msg = fmt.Sprintf("%s: %s", strings.Join(path, "."), msg)
		}
		out = append(out, msg)
	}
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}

var (
	defaultOnce     sync.Once
	defaultRegistry *SchemaRegistry
)

// Schemas returns the process-wide registry holding the built-in schemas.
func Schemas() *SchemaRegistry {
	defaultOnce.Do(func() {
		defaultRegistry = NewSchemaRegistry()
	})
	return defaultRegistry
}

// ValidateRequest checks a decoded update request document.
func ValidateRequest(doc any) error {
	return Schemas().Validate(SchemaRequest, doc)
}

const builtinSchemas = `
#Name: string & =~"^[a-zA-Z0-9]([a-zA-Z0-9_-]*[a-zA-Z0-9])?$"

#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#Agent: {
	router?: {
		id?:         string
		name?:       string
		mode?:       "production" | "local" | "unittest"
		queue_size?: int & >0
	}
	paths?: {
		data?:     string
		database?: string
		spool?:    string
	}
	docker?: {
		enabled?:      bool
		host?:         string
		network?:      string
		stop_timeout?: int & >=0
		pull?:         bool
	}
	network?: {
		enabled?: bool
		dir?:     string
		unit?:    string
	}
	mqtt?: {
		enabled?:         bool
		broker?:          string & =~"^(tcp|ssl|ws|wss|mqtt|mqtts)://"
		client_id?:       string
		username?:        string
		password?:        string
		topic_prefix?:    string
		qos?:             0 | 1 | 2
		connect_timeout?: #Duration
	}
	policy?: {
		enabled?: bool
		paths?: [...string]
		watch?: bool
		disabled?: [...#Name]
	}
	telemetry?: {...}
}

#Service: {
	name?:       #Name
	image?:      string
	source?:     string
	dockerfile?: string
	command?: [...string]
	environment?: [string]: string
}

#Chute: {
	name:         #Name
	description?: string
	owner?:       string
	state?:       "invalid" | "disabled" | "running" | "frozen" | "stopped"
	version?:     string | number
	config?: {...}
	services?: [string]: #Service
}

#Request: {
	type:   "create" | "update" | "start" | "stop" | "restart" | "delete" | "factoryreset" | "reboot" | "shutdown"
	name?:  #Name
	chute?: #Chute
}
`
