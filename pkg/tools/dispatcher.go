package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/provider"
)

// FailedOutput is returned to the model when a function fails.
const FailedOutput = "Failed"

// Resolver looks up registered functions by name.
type Resolver interface {
	Resolve(name string) (Function, bool)
	Functions() []Function
}

// Binding exposes a registered function under a caller-visible name with
// a set of pinned arguments. Pinned arguments override what the model
// supplies.
type Binding struct {
	Name        string         `json:"name" yaml:"name"`
	Function    string         `json:"function" yaml:"function"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Args        map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// Dispatcher resolves tool calls through per-conversation bindings first
// and the resolver second, and normalizes results to text.
type Dispatcher struct {
	resolver Resolver
	bindings []Binding
}

// NewDispatcher creates a dispatcher. Bindings may be nil.
func NewDispatcher(resolver Resolver, bindings []Binding) *Dispatcher {
	return &Dispatcher{resolver: resolver, bindings: bindings}
}

// WithBindings returns a dispatcher sharing the resolver with a different
// binding set.
func (d *Dispatcher) WithBindings(bindings []Binding) *Dispatcher {
	return &Dispatcher{resolver: d.resolver, bindings: bindings}
}

func (d *Dispatcher) binding(name string) (Binding, bool) {
	for _, b := range d.bindings {
		if b.Name == name {
			return b, true
		}
	}
	return Binding{}, false
}

// Invoke calls the named function with JSON arguments and returns its
// normalized output. Unknown names are a dispatch error. Function
// failures are logged and reported as FailedOutput.
func (d *Dispatcher) Invoke(ctx context.Context, name, argsJSON string) (string, error) {
	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			debug.Log("tools", "malformed tool arguments, using none", "tool", name, "error", err)
			args = nil
		}
	}
	if args == nil {
		args = make(map[string]any)
	}

	target := name
	if b, ok := d.binding(name); ok {
		target = b.Function
		maps.Copy(args, b.Args)
	}

	var fn Function
	ok := false
	if d.resolver != nil {
		fn, ok = d.resolver.Resolve(target)
	}
	if !ok {
		return "", api.NewDispatchError("unknown_function",
			fmt.Sprintf("no function registered with the name %q", name))
	}

	debug.Log("tools", "invoking function", "tool", name, "function", target)
	return call(ctx, name, fn, args), nil
}

func call(ctx context.Context, name string, fn Function, args map[string]any) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("function panicked", "tool", name, "panic", rec)
			out = FailedOutput
		}
	}()

	res, err := fn.Call(ctx, args)
	if err != nil {
		slog.Warn("function failed", "tool", name, "error", err)
		return FailedOutput
	}
	s, err := Normalize(res)
	if err != nil {
		slog.Warn("function result not encodable", "tool", name, "error", err)
		return FailedOutput
	}
	return s
}

// Normalize converts a function result to the text sent back to the
// model.
func Normalize(v any) (string, error) {
	switch r := v.(type) {
	case nil:
		return "", nil
	case string:
		return r, nil
	case bool:
		if r {
			return "true", nil
		}
		return "false", nil
	case []byte:
		return string(r), nil
	case json.RawMessage:
		return string(r), nil
	case fmt.Stringer:
		return r.String(), nil
	}

	switch reflect.Indirect(reflect.ValueOf(v)).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		data, err := json.MarshalIndent(v, "", "    ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return fmt.Sprint(v), nil
}

// Definitions returns the tool list advertised to the model: the bindings
// when any are configured, otherwise every registered function.
func (d *Dispatcher) Definitions() ([]provider.ToolDefinition, error) {
	if d.resolver == nil {
		return nil, nil
	}

	if len(d.bindings) == 0 {
		fns := d.resolver.Functions()
		defs := make([]provider.ToolDefinition, 0, len(fns))
		for _, fn := range fns {
			def, err := fn.Spec().Definition()
			if err != nil {
				return nil, fmt.Errorf("rendering %q: %w", fn.Spec().Name, err)
			}
			defs = append(defs, def)
		}
		return defs, nil
	}

	defs := make([]provider.ToolDefinition, 0, len(d.bindings))
	for _, b := range d.bindings {
		fn, ok := d.resolver.Resolve(b.Function)
		if !ok {
			return nil, api.NewConfigurationError("functions",
				fmt.Sprintf("function %q refers to %q which is not a registered function", b.Name, b.Function))
		}
		spec := fn.Spec()
		spec.Name = b.Name
		if b.Description != "" {
			spec.Description = b.Description
		}
		def, err := spec.Definition(slices.Sorted(maps.Keys(b.Args))...)
		if err != nil {
			return nil, fmt.Errorf("rendering %q: %w", b.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}
