package tools

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/rhuss/parley/pkg/provider"
)

// Function is a server-side callable the model may invoke.
type Function interface {
	// Spec describes the function to the model.
	Spec() FunctionSpec

	// Call runs the function. Args are the decoded JSON arguments with any
	// binding-pinned values merged in.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// FunctionSpec is the declarative description of a Function.
type FunctionSpec struct {
	Name        string
	Description string
	Params      []Param

	// Parameters, when set, is used verbatim as the parameter schema and
	// Params is ignored. Remote tools that publish their own schema use it.
	Parameters json.RawMessage
}

// Param is one named function parameter.
type Param struct {
	Name        string
	Type        string // string, integer, number, boolean, array, object
	Description string
	Required    bool

	// Items is the element type of array parameters. Defaults to string.
	Items string
}

// Schema renders the parameters as a JSON Schema object. Parameters named
// in pinned are left out since the caller never supplies them.
func (s FunctionSpec) Schema(pinned ...string) *jsonschema.Schema {
	skip := make(map[string]bool, len(pinned))
	for _, name := range pinned {
		skip[name] = true
	}

	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(s.Params)),
		Required:   []string{},
	}
	for _, p := range s.Params {
		if skip[p.Name] {
			continue
		}
		prop := &jsonschema.Schema{Type: p.Type, Description: p.Description}
		if prop.Type == "" {
			prop.Type = "string"
		}
		if prop.Type == "array" {
			items := p.Items
			if items == "" {
				items = "string"
			}
			prop.Items = &jsonschema.Schema{Type: items}
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}

// Definition renders the tool definition advertised to the model.
func (s FunctionSpec) Definition(pinned ...string) (provider.ToolDefinition, error) {
	params := s.Parameters
	if len(params) == 0 {
		data, err := json.Marshal(s.Schema(pinned...))
		if err != nil {
			return provider.ToolDefinition{}, err
		}
		params = data
	}
	return provider.ToolDefinition{
		Type: "function",
		Function: provider.FunctionDef{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  params,
		},
	}, nil
}

// CallFunc adapts a plain Go function to the Function interface.
type CallFunc func(ctx context.Context, args map[string]any) (any, error)

type simpleFunction struct {
	spec FunctionSpec
	fn   CallFunc
}

// NewFunction builds a Function from a spec and an implementation.
func NewFunction(spec FunctionSpec, fn CallFunc) Function {
	return &simpleFunction{spec: spec, fn: fn}
}

func (f *simpleFunction) Spec() FunctionSpec { return f.spec }

func (f *simpleFunction) Call(ctx context.Context, args map[string]any) (any, error) {
	return f.fn(ctx, args)
}
