package documents

import (
	"context"
	"errors"
)

// ErrDocumentNotFound is returned by Backend.Get for unknown ids.
var ErrDocumentNotFound = errors.New("document not found")

// Backend is the pluggable interface for document indexes.
type Backend interface {
	// Search runs a filtered query, optionally ranked by vector similarity.
	Search(ctx context.Context, collection string, q Query) (*Result, error)

	// Get fetches one document by id.
	Get(ctx context.Context, collection, id string) (map[string]any, error)
}

// Query describes one search against a collection.
type Query struct {
	Filter     *Filter
	Vector     []float32
	VectorName string
	Limit      int
	Facets     []string
}

// Result is the outcome of a search.
type Result struct {
	// Count is the number of documents matching the filter.
	Count  int
	Hits   []Hit
	Facets map[string][]FacetValue
}

// Hit is one matching document.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// FacetValue is one bucket of a facet.
type FacetValue struct {
	Value any `json:"value"`
	Count int `json:"count"`
}
