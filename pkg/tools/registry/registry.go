package registry

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhuss/parley/pkg/tools"
)

// Prometheus metrics for function execution and provider API routes.
var (
	functionExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_tool_executions_total",
			Help: "Total function executions",
		},
		[]string{"provider", "tool", "status"},
	)

	functionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_tool_duration_seconds",
			Help:    "Function execution duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "tool"},
	)

	providerAPIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_provider_api_requests_total",
			Help: "Total function provider API requests",
		},
		[]string{"provider", "method", "path", "status"},
	)

	providerAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_provider_api_duration_seconds",
			Help:    "Function provider API request duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		functionExecutions,
		functionDuration,
		providerAPIRequests,
		providerAPIDuration,
	)
}

// Registry aggregates FunctionProviders and implements tools.Resolver.
type Registry struct {
	mu sync.RWMutex

	// providers stores registered providers in insertion order.
	providers []FunctionProvider

	// order lists resolvable function names in registration order.
	order []string

	// functions maps a function name to its instrumented wrapper.
	functions map[string]*instrumented
}

// Ensure Registry implements tools.Resolver at compile time.
var _ tools.Resolver = (*Registry)(nil)

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		functions: make(map[string]*instrumented),
	}
}

// Register adds a provider to the registry. Function names are resolved on
// a first-come, first-served basis: if two providers supply a function with
// the same name, the first registered provider wins and a warning is logged.
//
// Any provider-specific Prometheus collectors are also registered.
func (r *Registry) Register(p FunctionProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = append(r.providers, p)

	fns := p.Functions()
	for _, fn := range fns {
		name := fn.Spec().Name
		if existing, ok := r.functions[name]; ok {
			slog.Warn("function name conflict, keeping first provider",
				"function", name,
				"winner", existing.provider,
				"loser", p.Name(),
			)
			continue
		}
		r.functions[name] = &instrumented{Function: fn, provider: p.Name()}
		r.order = append(r.order, name)
	}

	for _, c := range p.Collectors() {
		if err := prometheus.Register(c); err != nil {
			// Already registered is not an error worth crashing for.
			slog.Debug("collector already registered", "provider", p.Name(), "error", err)
		}
	}

	slog.Info("registered function provider",
		"provider", p.Name(),
		"functions", len(fns),
		"routes", len(p.Routes()),
	)
}

// RegisterFunctions registers plain functions under a provider name.
func (r *Registry) RegisterFunctions(providerName string, fns ...tools.Function) {
	r.Register(&StaticProvider{ProviderName: providerName, Funcs: fns})
}

// Resolve returns the named function wrapped with metrics.
func (r *Registry) Resolve(name string) (tools.Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.functions[name]
	if !ok {
		return nil, false
	}
	return fn, true
}

// Functions returns every resolvable function in registration order.
func (r *Registry) Functions() []tools.Function {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]tools.Function, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.functions[name])
	}
	return out
}

// HTTPHandler returns an http.Handler that serves all provider routes,
// each wrapped with metrics middleware. The returned handler can be mounted
// behind the server's auth middleware.
func (r *Registry) HTTPHandler() http.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mux := http.NewServeMux()

	for _, p := range r.providers {
		for _, route := range p.Routes() {
			wrapped := instrumentRoute(p.Name(), route)
			pattern := route.Method + " " + route.Pattern
			if route.Method == "" {
				pattern = route.Pattern
			}
			mux.HandleFunc(pattern, wrapped)
		}
	}

	return mux
}

// HasRoutes reports whether any provider exposes HTTP routes.
func (r *Registry) HasRoutes() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if len(p.Routes()) > 0 {
			return true
		}
	}
	return false
}

// Close closes all registered providers, returning the last error encountered.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			slog.Warn("failed to close function provider", "provider", p.Name(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// instrumented records metrics around a function call. Panics are counted
// and re-raised for the dispatcher to recover.
type instrumented struct {
	tools.Function
	provider string
}

func (f *instrumented) Call(ctx context.Context, args map[string]any) (result any, err error) {
	name := f.Spec().Name
	start := time.Now()
	status := "panic"

	defer func() {
		functionExecutions.WithLabelValues(f.provider, name, status).Inc()
		functionDuration.WithLabelValues(f.provider, name).Observe(time.Since(start).Seconds())
	}()

	result, err = f.Function.Call(ctx, args)
	status = "success"
	if err != nil {
		status = "error"
	}
	return result, err
}
