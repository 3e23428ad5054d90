package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultFacetLimit bounds the number of buckets returned per facet.
const DefaultFacetLimit = 10

// QdrantBackend implements Backend using the Qdrant HTTP API.
type QdrantBackend struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

var _ Backend = (*QdrantBackend)(nil)

// NewQdrant creates a QdrantBackend that talks to the Qdrant instance at url.
func NewQdrant(url, apiKey string) *QdrantBackend {
	return &QdrantBackend{
		BaseURL:    strings.TrimRight(url, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{},
	}
}

type namedVector struct {
	Name   string    `json:"name"`
	Vector []float32 `json:"vector"`
}

type qdrantSearchRequest struct {
	Vector      any     `json:"vector"`
	Filter      *Filter `json:"filter,omitempty"`
	Limit       int     `json:"limit"`
	WithPayload bool    `json:"with_payload"`
}

type qdrantScrollRequest struct {
	Filter      *Filter `json:"filter,omitempty"`
	Limit       int     `json:"limit"`
	WithPayload bool    `json:"with_payload"`
}

type qdrantCountRequest struct {
	Filter *Filter `json:"filter,omitempty"`
	Exact  bool    `json:"exact"`
}

type qdrantFacetRequest struct {
	Key    string  `json:"key"`
	Filter *Filter `json:"filter,omitempty"`
	Limit  int     `json:"limit"`
}

type qdrantPoint struct {
	ID      any            `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Search runs a vector search when q.Vector is set and a filtered scroll
// otherwise. Count reflects the filter alone.
// POST /collections/{name}/points/search | points/scroll | points/count | facet
func (q *QdrantBackend) Search(ctx context.Context, collection string, query Query) (*Result, error) {
	var points []qdrantPoint
	if len(query.Vector) > 0 {
		var vector any = query.Vector
		if query.VectorName != "" {
			vector = namedVector{Name: query.VectorName, Vector: query.Vector}
		}
		var resp struct {
			Result []qdrantPoint `json:"result"`
		}
		req := qdrantSearchRequest{Vector: vector, Filter: query.Filter, Limit: query.Limit, WithPayload: true}
		if err := q.post(ctx, collection, "points/search", req, &resp); err != nil {
			return nil, err
		}
		points = resp.Result
	} else {
		var resp struct {
			Result struct {
				Points []qdrantPoint `json:"points"`
			} `json:"result"`
		}
		req := qdrantScrollRequest{Filter: query.Filter, Limit: query.Limit, WithPayload: true}
		if err := q.post(ctx, collection, "points/scroll", req, &resp); err != nil {
			return nil, err
		}
		points = resp.Result.Points
	}

	var count struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := q.post(ctx, collection, "points/count", qdrantCountRequest{Filter: query.Filter, Exact: true}, &count); err != nil {
		return nil, err
	}

	result := &Result{Count: count.Result.Count, Hits: make([]Hit, 0, len(points))}
	for _, p := range points {
		result.Hits = append(result.Hits, Hit{ID: fmt.Sprint(p.ID), Score: p.Score, Payload: p.Payload})
	}

	for _, key := range query.Facets {
		var resp struct {
			Result struct {
				Hits []FacetValue `json:"hits"`
			} `json:"result"`
		}
		if err := q.post(ctx, collection, "facet", qdrantFacetRequest{Key: key, Filter: query.Filter, Limit: DefaultFacetLimit}, &resp); err != nil {
			return nil, err
		}
		if result.Facets == nil {
			result.Facets = make(map[string][]FacetValue, len(query.Facets))
		}
		result.Facets[key] = resp.Result.Hits
	}

	return result, nil
}

// Get fetches a point's payload.
// GET /collections/{name}/points/{id}
func (q *QdrantBackend) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	u := fmt.Sprintf("%s/collections/%s/points/%s", q.BaseURL, url.PathEscape(collection), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var resp struct {
		Result *qdrantPoint `json:"result"`
	}
	status, err := q.do(req, &resp)
	if status == http.StatusNotFound {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, ErrDocumentNotFound
	}

	doc := make(map[string]any, len(resp.Result.Payload)+1)
	for k, v := range resp.Result.Payload {
		doc[k] = v
	}
	doc["id"] = fmt.Sprint(resp.Result.ID)
	return doc, nil
}

func (q *QdrantBackend) post(ctx context.Context, collection, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", path, err)
	}

	u := fmt.Sprintf("%s/collections/%s/%s", q.BaseURL, url.PathEscape(collection), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = q.do(req, out)
	return err
}

func (q *QdrantBackend) do(req *http.Request, out any) (int, error) {
	if q.APIKey != "" {
		req.Header.Set("api-key", q.APIKey)
	}

	resp, err := q.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("qdrant request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading qdrant response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("qdrant %s returned status %d: %s", req.URL.Path, resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, fmt.Errorf("parsing qdrant response: %w", err)
	}
	return resp.StatusCode, nil
}
