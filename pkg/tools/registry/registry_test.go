package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/rhuss/parley/pkg/tools"
)

// mockProvider implements FunctionProvider for testing.
type mockProvider struct {
	name       string
	funcs      []tools.Function
	routes     []Route
	collectors []prometheus.Collector
	closed     bool
	closeErr   error
}

func (m *mockProvider) Name() string                       { return m.name }
func (m *mockProvider) Functions() []tools.Function        { return m.funcs }
func (m *mockProvider) Collectors() []prometheus.Collector { return m.collectors }
func (m *mockProvider) Routes() []Route                    { return m.routes }

func (m *mockProvider) Close() error {
	m.closed = true
	return m.closeErr
}

// Verify mockProvider implements FunctionProvider.
var _ FunctionProvider = (*mockProvider)(nil)

func constFunc(name, out string) tools.Function {
	return tools.NewFunction(tools.FunctionSpec{Name: name}, func(context.Context, map[string]any) (any, error) {
		return out, nil
	})
}

func TestRegistry_ResolveAndCall(t *testing.T) {
	reg := New()
	add := tools.NewFunction(tools.FunctionSpec{Name: "add"}, func(_ context.Context, args map[string]any) (any, error) {
		a, _ := args["a"].(float64)
		b, _ := args["b"].(float64)
		return a + b, nil
	})
	reg.Register(&mockProvider{name: "calc", funcs: []tools.Function{add}})

	fn, ok := reg.Resolve("add")
	if !ok {
		t.Fatal("add not resolvable")
	}
	out, err := fn.Call(context.Background(), map[string]any{"a": 3.0, "b": 4.0})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != 7.0 {
		t.Errorf("out = %v, want 7", out)
	}

	if _, ok := reg.Resolve("missing"); ok {
		t.Error("missing function resolved")
	}
}

func TestRegistry_NameConflict(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{name: "p1", funcs: []tools.Function{constFunc("shared", "from-p1")}})
	reg.Register(&mockProvider{name: "p2", funcs: []tools.Function{constFunc("shared", "from-p2"), constFunc("other", "x")}})

	fn, _ := reg.Resolve("shared")
	out, _ := fn.Call(context.Background(), nil)
	if out != "from-p1" {
		t.Errorf("out = %v, first provider should win", out)
	}

	fns := reg.Functions()
	if len(fns) != 2 {
		t.Fatalf("Functions() = %d entries, want 2", len(fns))
	}
	if fns[0].Spec().Name != "shared" || fns[1].Spec().Name != "other" {
		t.Errorf("unexpected order: %s, %s", fns[0].Spec().Name, fns[1].Spec().Name)
	}
}

func TestRegistry_Metrics(t *testing.T) {
	reg := New()
	failing := tools.NewFunction(tools.FunctionSpec{Name: "metrics_fail"}, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	reg.RegisterFunctions("metrics", constFunc("metrics_ok", "ok"), failing)

	ok, _ := reg.Resolve("metrics_ok")
	ok.Call(context.Background(), nil)
	ok.Call(context.Background(), nil)
	bad, _ := reg.Resolve("metrics_fail")
	bad.Call(context.Background(), nil)

	if got := testutil.ToFloat64(functionExecutions.WithLabelValues("metrics", "metrics_ok", "success")); got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(functionExecutions.WithLabelValues("metrics", "metrics_fail", "error")); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}

	var m dto.Metric
	hist := functionDuration.WithLabelValues("metrics", "metrics_ok").(prometheus.Histogram)
	if err := hist.Write(&m); err != nil {
		t.Fatalf("reading histogram: %v", err)
	}
	if got := m.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("histogram samples = %d, want 2", got)
	}
}

func TestRegistry_PanicIsCountedAndReraised(t *testing.T) {
	reg := New()
	reg.RegisterFunctions("panicky", tools.NewFunction(tools.FunctionSpec{Name: "crash"}, func(context.Context, map[string]any) (any, error) {
		panic("something went terribly wrong")
	}))

	fn, _ := reg.Resolve("crash")
	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected the panic to propagate")
			}
		}()
		fn.Call(context.Background(), nil)
	}()

	if got := testutil.ToFloat64(functionExecutions.WithLabelValues("panicky", "crash", "panic")); got != 1 {
		t.Errorf("panic count = %v, want 1", got)
	}
}

func TestRegistry_DispatcherIntegration(t *testing.T) {
	reg := New()
	reg.RegisterFunctions("builtin", tools.NewFunction(tools.FunctionSpec{Name: "crash_tool"}, func(context.Context, map[string]any) (any, error) {
		panic("nope")
	}))

	d := tools.NewDispatcher(reg, nil)
	out, err := d.Invoke(context.Background(), "crash_tool", "{}")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != tools.FailedOutput {
		t.Errorf("out = %q, want %q", out, tools.FailedOutput)
	}
}

func TestRegistry_HTTPHandler(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name: "web-provider",
		routes: []Route{
			{
				Method:  "GET",
				Pattern: "/providers/web/status",
				Handler: func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
					w.Write([]byte(`{"status":"ok"}`))
				},
			},
			{
				Method:  "POST",
				Pattern: "/providers/web/callback",
				Handler: func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusAccepted)
				},
			},
		},
	})

	if !reg.HasRoutes() {
		t.Fatal("expected HasRoutes() = true")
	}
	handler := reg.HTTPHandler()

	req := httptest.NewRequest("GET", "/providers/web/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != `{"status":"ok"}` {
		t.Errorf("GET body = %q", string(body))
	}

	req = httptest.NewRequest("POST", "/providers/web/callback", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Errorf("POST status = %d, want %d", rec.Code, http.StatusAccepted)
	}

	if got := testutil.ToFloat64(providerAPIRequests.WithLabelValues("web-provider", "POST", "/providers/web/callback", "202")); got != 1 {
		t.Errorf("api request count = %v, want 1", got)
	}
}

func TestRegistry_Empty(t *testing.T) {
	reg := New()
	if len(reg.Functions()) != 0 {
		t.Error("expected no functions")
	}
	if reg.HasRoutes() {
		t.Error("expected no routes")
	}
	if reg.HTTPHandler() == nil {
		t.Fatal("expected non-nil handler from empty registry")
	}
	if err := reg.Close(); err != nil {
		t.Errorf("Close() on empty registry failed: %v", err)
	}
}

func TestRegistry_Close(t *testing.T) {
	reg := New()
	p1 := &mockProvider{name: "p1"}
	p2 := &mockProvider{name: "p2", closeErr: fmt.Errorf("close failed")}
	reg.Register(p1)
	reg.Register(p2)

	if err := reg.Close(); err == nil {
		t.Error("expected the provider close error")
	}
	if !p1.closed || !p2.closed {
		t.Error("not every provider was closed")
	}
}
