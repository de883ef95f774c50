// Package capability is the registry of named operations the completion service may request.
//
// A registry is built once from a slice of Capability values. The advertised schemas and the dispatch table
// both come from that slice, and NewRegistry rejects any definition that could make them disagree.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ParamType is the JSON type of a capability argument.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

// Param describes one argument of a capability.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Default     any // nil means no default
}

// Handler executes a capability. Args have already been validated and have defaults applied.
type Handler func(ctx context.Context, args Args) (string, error)

// Capability is the single declarative source for both advertisement and dispatch.
type Capability struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

// Schema is the machine-readable description advertised to the completion service.
type Schema struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Result is the textual outcome of an invocation. IsError marks failures that are still returned as data.
type Result struct {
	Text    string
	IsError bool
}

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

type entry struct {
	capability Capability
	schema     Schema
	validator  *gojsonschema.Schema
}

// Registry maps capability names to handlers and schemas.
type Registry struct {
	order   []string
	entries map[string]*entry
}

// NewRegistry validates caps and builds the registry. It fails on the first invalid definition.
func NewRegistry(caps ...Capability) (*Registry, error) {
	r := &Registry{entries: make(map[string]*entry, len(caps))}
	for _, c := range caps {
		if err := validateCapability(c); err != nil {
			return nil, err
		}
		if _, dup := r.entries[c.Name]; dup {
			return nil, fmt.Errorf("capability %q registered twice", c.Name)
		}
		input := inputSchema(c.Params)
		validator, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(input))
		if err != nil {
			return nil, fmt.Errorf("capability %q: compile schema: %w", c.Name, err)
		}
		r.entries[c.Name] = &entry{
			capability: c,
			schema: Schema{
				Name:        c.Name,
				Description: c.Description,
				InputSchema: input,
			},
			validator: validator,
		}
		r.order = append(r.order, c.Name)
	}
	return r, nil
}

// Names returns capability names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Schemas returns the advertised schemas in registration order.
func (r *Registry) Schemas() []Schema {
	out := make([]Schema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].schema)
	}
	return out
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Invoke runs the named capability. It never returns a Go error and never panics: unknown names, invalid
// arguments, handler errors and handler panics all come back as a Result with IsError set.
func (r *Registry) Invoke(ctx context.Context, name string, input map[string]any) (res Result) {
	e, ok := r.entries[name]
	if !ok {
		return Result{Text: fmt.Sprintf("Unknown capability: %s", name), IsError: true}
	}
	input = dropNulls(input)
	if err := e.validate(input); err != nil {
		return Result{Text: fmt.Sprintf("Invalid arguments for %s: %v", name, err), IsError: true}
	}
	args := applyDefaults(e.capability.Params, input)

	defer func() {
		if v := recover(); v != nil {
			res = Result{Text: fmt.Sprintf("Error: capability %s panicked: %v", name, v), IsError: true}
		}
	}()
	text, err := e.capability.Handler(ctx, args)
	if err != nil {
		return Result{Text: fmt.Sprintf("Error: %v", err), IsError: true}
	}
	return Result{Text: text}
}

func (e *entry) validate(input map[string]any) error {
	result, err := e.validator.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, re.String())
	}
	return errors.New(strings.Join(problems, "; "))
}

func validateCapability(c Capability) error {
	if !namePattern.MatchString(c.Name) {
		return fmt.Errorf("capability name %q is invalid", c.Name)
	}
	if strings.TrimSpace(c.Description) == "" {
		return fmt.Errorf("capability %q must have a description", c.Name)
	}
	if c.Handler == nil {
		return fmt.Errorf("capability %q has no handler", c.Name)
	}
	seen := map[string]bool{}
	for _, p := range c.Params {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("capability %q has a parameter with an empty name", c.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("capability %q declares parameter %q twice", c.Name, p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case TypeString, TypeInteger, TypeBoolean:
		default:
			return fmt.Errorf("capability %q parameter %q has unknown type %q", c.Name, p.Name, p.Type)
		}
		if p.Default == nil {
			continue
		}
		if p.Required {
			return fmt.Errorf("capability %q parameter %q is required and cannot have a default", c.Name, p.Name)
		}
		if !defaultMatches(p.Type, p.Default) {
			return fmt.Errorf("capability %q parameter %q default %v is not a %s", c.Name, p.Name, p.Default, p.Type)
		}
	}
	return nil
}

func defaultMatches(t ParamType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeInteger:
		_, ok := toInt(v)
		return ok
	}
	return false
}

func inputSchema(params []Param) map[string]any {
	props := map[string]any{}
	required := []string{}
	for _, p := range params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// dropNulls treats explicit nulls as absent arguments.
func dropNulls(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func applyDefaults(params []Param, input map[string]any) Args {
	args := make(Args, len(input)+len(params))
	for k, v := range input {
		args[k] = v
	}
	for _, p := range params {
		if p.Default == nil {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			args[p.Name] = p.Default
		}
	}
	return args
}

// Args are the validated arguments passed to a Handler.
type Args map[string]any

// Has reports whether name is present and non-null.
func (a Args) Has(name string) bool {
	v, ok := a[name]
	return ok && v != nil
}

// Text returns the named argument as a string, or "" when absent.
func (a Args) Text(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns the named argument as an int, or 0 when absent or not integral.
func (a Args) Int(name string) int {
	n, _ := toInt(a[name])
	return n
}

// Bool returns the named argument as a bool.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}
