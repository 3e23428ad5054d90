// Package registry aggregates server-side functions into the resolver used
// by the tool dispatcher.
//
// A FunctionProvider contributes a set of functions, optional HTTP routes
// (document indexing, item administration) and optional Prometheus
// collectors. The Registry resolves names to functions, instruments every
// call, and exposes a merged HTTP handler for all provider routes.
package registry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhuss/parley/pkg/tools"
)

// FunctionProvider is a pluggable set of server-side functions.
type FunctionProvider interface {
	// Name returns a unique identifier for this provider (e.g., "documents").
	Name() string

	// Functions returns the functions this provider contributes.
	Functions() []tools.Function

	// Routes returns HTTP endpoints that this provider exposes.
	Routes() []Route

	// Collectors returns Prometheus collectors for provider-specific metrics.
	Collectors() []prometheus.Collector

	// Close releases any resources held by the provider.
	Close() error
}

// Route is an HTTP endpoint exposed by a provider.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
}

// StaticProvider is a FunctionProvider over a fixed function list with no
// routes or collectors.
type StaticProvider struct {
	ProviderName string
	Funcs        []tools.Function
}

var _ FunctionProvider = (*StaticProvider)(nil)

func (p *StaticProvider) Name() string                       { return p.ProviderName }
func (p *StaticProvider) Functions() []tools.Function        { return p.Funcs }
func (p *StaticProvider) Routes() []Route                    { return nil }
func (p *StaticProvider) Collectors() []prometheus.Collector { return nil }
func (p *StaticProvider) Close() error                       { return nil }
