package registry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/observability"
)

// instrumentRoute records request count and latency for one provider route,
// labelled by the route pattern rather than the concrete path so item ids do
// not inflate label cardinality.
func instrumentRoute(provider string, route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := observability.NewStatusWriter(w)
		route.Handler.ServeHTTP(sw, r)

		elapsed := time.Since(start)
		providerAPIRequests.WithLabelValues(provider, r.Method, route.Pattern, strconv.Itoa(sw.Status())).Inc()
		providerAPIDuration.WithLabelValues(provider, r.Method, route.Pattern).Observe(elapsed.Seconds())
		debug.Log("tools", "provider route served", "provider", provider, "path", r.URL.Path, "status", sw.Status(), "elapsed", elapsed)
	}
}
