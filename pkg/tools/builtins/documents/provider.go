package documents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhuss/parley/pkg/debug"
	"github.com/rhuss/parley/pkg/tools"
	"github.com/rhuss/parley/pkg/tools/registry"
)

// DefaultNumberOfResults is used when search is called without
// number_of_results.
const DefaultNumberOfResults = 10

var sourceParam = tools.Param{
	Name:        "source",
	Type:        "string",
	Description: "The name of the source configuration to use for the search",
}

type connection struct {
	source   Source
	backend  Backend
	embedder Embedder
}

// Provider implements registry.FunctionProvider for document search.
type Provider struct {
	def  Source
	load SourceLoader

	newBackend  func(Source) Backend
	newEmbedder func(Source) Embedder

	mu    sync.Mutex
	conns map[string]*connection

	searchLatency *prometheus.HistogramVec
	searchCount   *prometheus.CounterVec
}

var _ registry.FunctionProvider = (*Provider)(nil)

// New creates a provider. def is used when no source is named; load
// resolves named sources and may be nil.
func New(def Source, load SourceLoader) *Provider {
	return newProvider(def, load,
		func(s Source) Backend { return NewQdrant(s.URL, s.APIKey) },
		func(s Source) Embedder {
			if s.EmbeddingURL == "" || s.EmbeddingModel == "" {
				return nil
			}
			return NewOpenAIEmbedder(s.EmbeddingURL, s.EmbeddingKey, s.EmbeddingModel)
		})
}

func newProvider(def Source, load SourceLoader, newBackend func(Source) Backend, newEmbedder func(Source) Embedder) *Provider {
	return &Provider{
		def:         def,
		load:        load,
		newBackend:  newBackend,
		newEmbedder: newEmbedder,
		conns:       make(map[string]*connection),
		searchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_documents_query_duration_seconds",
				Help:    "Document index query duration",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"function"},
		),
		searchCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_documents_queries_total",
				Help: "Total document index queries",
			},
			[]string{"function", "status"},
		),
	}
}

// connection returns the cached backend for a source, creating it on first
// use.
func (p *Provider) connection(ctx context.Context, name string) (*connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[name]; ok {
		return c, nil
	}

	src := p.def
	if name != "" {
		if p.load == nil {
			return nil, fmt.Errorf("unknown document source %q", name)
		}
		var err error
		if src, err = p.load(ctx, name); err != nil {
			return nil, err
		}
		src.Name = name
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}

	c := &connection{source: src, backend: p.newBackend(src), embedder: p.newEmbedder(src)}
	p.conns[name] = c
	return c, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "documents" }

// Functions returns the search functions.
func (p *Provider) Functions() []tools.Function {
	lookup := tools.FunctionSpec{
		Name:        "lookup_document_by_field",
		Description: "Lookup a document by the value of one of its fields",
		Params: []tools.Param{
			{Name: "field_name", Type: "string", Description: "The name of the field to search by", Required: true},
			{Name: "field_val", Type: "string", Description: "The value of the field to search for, only documents that have this exact value in the specified field are returned", Required: true},
			sourceParam,
		},
	}
	alias := lookup
	alias.Name = "lookup_document"

	return []tools.Function{
		tools.NewFunction(tools.FunctionSpec{
			Name:        "search",
			Description: "Function to search across a dataset. This includes the ability to perform a vector search across the vector fields. If you set complex_query to true, then you can use Lucene search syntax within your search",
			Params: []tools.Param{
				{Name: "query", Type: "string", Description: "The search criteria", Required: true},
				{Name: "complex_query", Type: "boolean", Description: "When set to true, the criteria is specified using the Lucene query format"},
				{Name: "do_vector_search", Type: "boolean", Description: "Whether or not to use vector search when searching"},
				{Name: "match_all", Type: "boolean", Description: "Whether or not to require all terms within the search to be matched"},
				{Name: "number_of_results", Type: "integer", Description: "The number of relevant results to return"},
				{Name: "facets", Type: "array", Items: "string", Description: "If facets are desired, specifies the list of facets to return with the search results"},
				{Name: "use_semantic_ranking", Type: "boolean", Description: "Whether or not to sort the results using semantic ranking"},
				sourceParam,
			},
		}, p.searchFunc),
		tools.NewFunction(tools.FunctionSpec{
			Name:        "get_document",
			Description: "Retrieve a document by its id",
			Params: []tools.Param{
				{Name: "id", Type: "string", Description: "The ID of the document to retrieve", Required: true},
				sourceParam,
			},
		}, p.getDocument),
		tools.NewFunction(lookup, p.lookupByField),
		tools.NewFunction(alias, p.lookupByField),
	}
}

// SearchOptions are the knobs of a search call.
type SearchOptions struct {
	Complex         bool
	Vector          bool
	MatchAll        bool
	Limit           int
	Facets          []string
	SemanticRanking bool
	Source          string
}

// Search runs a query and returns {"count", "results"} plus "facets" when
// facets were requested.
//
// Vector search embeds the query and ranks the whole collection by
// similarity; in complex mode the parsed filter still applies. Without
// vector search the text filter selects documents, ranked by similarity
// when semantic ranking is on and the source has an embedder. A source
// without an embedder always falls back to the text filter.
func (p *Provider) Search(ctx context.Context, query string, opts SearchOptions) (map[string]any, error) {
	c, err := p.connection(ctx, opts.Source)
	if err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = DefaultNumberOfResults
	}

	vectorize := opts.Vector && c.embedder != nil
	q := Query{Limit: opts.Limit, Facets: opts.Facets, VectorName: c.source.VectorName}
	if !vectorize || opts.Complex {
		q.Filter = ParseQuery(query, c.source.textField(), opts.Complex, opts.MatchAll)
	}
	if !vectorize && opts.SemanticRanking && !opts.Complex && c.embedder != nil {
		vectorize = true
	}

	if vectorize {
		vectors, err := c.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, err
		}
		if len(vectors) == 0 || len(vectors[0]) == 0 {
			return nil, fmt.Errorf("embedding returned no vectors")
		}
		q.Vector = vectors[0]
	}

	if debug.Enabled("tools") {
		debug.Log("tools", "document search", "source", c.source.Name, "vector", vectorize, "filter", !q.Filter.Empty())
	}

	res, err := c.backend.Search(ctx, c.source.Collection, q)
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0, len(res.Hits))
	for i, h := range res.Hits {
		if i >= opts.Limit {
			break
		}
		doc := make(map[string]any, len(h.Payload)+2)
		for k, v := range h.Payload {
			doc[k] = v
		}
		doc["id"] = h.ID
		if vectorize {
			doc["score"] = h.Score
		}
		results = append(results, doc)
	}

	out := map[string]any{"count": res.Count, "results": results}
	if opts.Facets != nil {
		facets := res.Facets
		if facets == nil {
			facets = map[string][]FacetValue{}
		}
		out["facets"] = facets
	}
	return out, nil
}

func (p *Provider) observe(function string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.searchLatency.WithLabelValues(function).Observe(time.Since(start).Seconds())
	p.searchCount.WithLabelValues(function, status).Inc()
}

func (p *Provider) searchFunc(ctx context.Context, args map[string]any) (result any, err error) {
	defer func(start time.Time) { p.observe("search", start, err) }(time.Now())

	query, err := tools.RequireString(args, "query")
	if err != nil {
		return nil, err
	}
	return p.Search(ctx, query, SearchOptions{
		Complex:         tools.Bool(args, "complex_query", false),
		Vector:          tools.Bool(args, "do_vector_search", true),
		MatchAll:        tools.Bool(args, "match_all", false),
		Limit:           tools.Int(args, "number_of_results", DefaultNumberOfResults),
		Facets:          tools.Strings(args, "facets"),
		SemanticRanking: tools.Bool(args, "use_semantic_ranking", true),
		Source:          tools.String(args, "source", ""),
	})
}

func (p *Provider) getDocument(ctx context.Context, args map[string]any) (result any, err error) {
	defer func(start time.Time) { p.observe("get_document", start, err) }(time.Now())

	id, err := tools.RequireString(args, "id")
	if err != nil {
		return nil, err
	}
	c, err := p.connection(ctx, tools.String(args, "source", ""))
	if err != nil {
		return nil, err
	}
	return c.backend.Get(ctx, c.source.Collection, id)
}

func (p *Provider) lookupByField(ctx context.Context, args map[string]any) (result any, err error) {
	defer func(start time.Time) { p.observe("lookup_document", start, err) }(time.Now())

	field, err := tools.RequireString(args, "field_name")
	if err != nil {
		return nil, err
	}
	value, err := tools.RequireString(args, "field_val")
	if err != nil {
		return nil, err
	}
	return p.Search(ctx, fmt.Sprintf("%s:%q", field, value), SearchOptions{
		Complex:  true,
		MatchAll: true,
		Limit:    1,
		Source:   tools.String(args, "source", ""),
	})
}

// Routes returns nil; documents are managed in Qdrant directly.
func (p *Provider) Routes() []registry.Route { return nil }

// Collectors returns the query metrics.
func (p *Provider) Collectors() []prometheus.Collector {
	return []prometheus.Collector{p.searchLatency, p.searchCount}
}

// Close releases cached connections.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.conns)
	return nil
}
