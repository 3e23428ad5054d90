package chatctx

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rhuss/parley/pkg/api"
)

// Request holds the places a setting can come from in one HTTP request.
type Request struct {
	Header http.Header
	Query  url.Values
	// Body is the decoded JSON object of a POST body, or nil.
	Body map[string]any
	// Route carries path values, such as a context token in the URL.
	Route map[string]string
}

// FromHTTP captures r. A POST body that is not a JSON object is ignored.
// The body is read up to maxBody bytes when maxBody is positive.
func FromHTTP(r *http.Request, maxBody int64) (*Request, error) {
	req := &Request{
		Header: r.Header,
		Query:  r.URL.Query(),
		Route:  map[string]string{},
	}
	if v := r.PathValue("context"); v != "" {
		req.Route["context"] = v
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return req, nil
	}

	var body io.Reader = r.Body
	if maxBody > 0 {
		body = io.LimitReader(r.Body, maxBody+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, api.NewInvalidRequestError("body", fmt.Sprintf("failed to read request body: %v", err))
	}
	if maxBody > 0 && int64(len(data)) > maxBody {
		return nil, api.NewInvalidRequestError("body", "request body too large")
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err == nil {
		req.Body = m
	}
	return req, nil
}

// Value looks a field up in the body, the query, the route and the headers,
// in that order.
func (r *Request) Value(field string) any {
	if v, ok := r.Body[field]; ok && v != nil {
		return v
	}
	if v := r.Query.Get(field); v != "" {
		return v
	}
	if v := r.Route[field]; v != "" {
		return v
	}
	if v := r.Header.Get(field); v != "" {
		return v
	}
	return nil
}

// String returns Value as text, or def when the field is absent.
func (r *Request) String(field, def string) string {
	v := r.Value(field)
	if v == nil {
		return def
	}
	return text(v)
}

func (r *Request) header(name string) any {
	if v := r.Header.Get(name); v != "" {
		return v
	}
	return nil
}

func (r *Request) body(name string) any {
	if v, ok := r.Body[name]; ok && v != nil {
		return v
	}
	return nil
}

func (r *Request) query(name string) any {
	if v := r.Query.Get(name); v != "" {
		return v
	}
	return nil
}

func text(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case float64:
		return int(x), nil
	case int:
		return x, nil
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	}
	return 0, fmt.Errorf("%v is not a number", v)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, fmt.Errorf("%v is not a number", v)
}
