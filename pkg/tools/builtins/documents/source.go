package documents

import (
	"context"
	"fmt"

	"github.com/rhuss/parley/pkg/api"
)

// DefaultTextField is the payload key searched by free text.
const DefaultTextField = "content"

// Source names a collection and how to reach it.
type Source struct {
	Name           string `yaml:"-" json:"-"`
	URL            string `yaml:"url" json:"url"`
	APIKey         string `yaml:"api_key" json:"api_key,omitempty"`
	Collection     string `yaml:"collection" json:"collection"`
	TextField      string `yaml:"text_field" json:"text_field,omitempty"`
	VectorName     string `yaml:"vector_name" json:"vector_name,omitempty"`
	EmbeddingURL   string `yaml:"embedding_url" json:"embedding_url,omitempty"`
	EmbeddingKey   string `yaml:"embedding_api_key" json:"embedding_api_key,omitempty"`
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model,omitempty"`
}

func (s Source) textField() string {
	if s.TextField == "" {
		return DefaultTextField
	}
	return s.TextField
}

// Validate reports whether the source can be used.
func (s Source) Validate() error {
	if s.URL == "" || s.Collection == "" {
		return api.NewConfigurationError("source", fmt.Sprintf("document source %q not configured properly", s.Name))
	}
	return nil
}

// SourceLoader resolves a named source.
type SourceLoader func(ctx context.Context, name string) (Source, error)

var sourceKeys = map[string][]string{
	"url":             {"url", "endpoint", "service-endpoint"},
	"api_key":         {"api-key", "api_key", "query-key", "query_api_key"},
	"collection":      {"collection", "index", "index-name"},
	"text_field":      {"text-field", "text_field"},
	"vector_name":     {"vector-name", "vector_name", "vector-field"},
	"embedding_url":   {"embedding-url", "embedding_url"},
	"embedding_key":   {"embedding-key", "embedding_api_key"},
	"embedding_model": {"embedding-model", "embedding_model"},
}

// SourceFromMap builds a source from a named config document. Several
// spellings are accepted for each setting.
func SourceFromMap(name string, m map[string]any) (Source, error) {
	get := func(key string) string {
		for _, alias := range sourceKeys[key] {
			if s, ok := m[alias].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}
	src := Source{
		Name:           name,
		URL:            get("url"),
		APIKey:         get("api_key"),
		Collection:     get("collection"),
		TextField:      get("text_field"),
		VectorName:     get("vector_name"),
		EmbeddingURL:   get("embedding_url"),
		EmbeddingKey:   get("embedding_key"),
		EmbeddingModel: get("embedding_model"),
	}
	return src, src.Validate()
}
