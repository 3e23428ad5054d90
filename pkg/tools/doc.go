// Package tools declares callable functions, their parameter schemas, and
// the Dispatcher that resolves model-issued tool calls to them.
//
// A Function carries a declarative FunctionSpec, which renders to the JSON
// Schema (google/jsonschema-go) advertised to the model. Functions are looked up through a Resolver,
// normally the registry.Registry, after per-conversation Bindings have had
// a chance to rename them and pin arguments.
package tools
