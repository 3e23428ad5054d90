// Package documents provides the document search functions: search,
// get_document and lookup_document_by_field (also registered as
// lookup_document).
//
// Documents live in a Qdrant collection. Each point's payload is the
// document; free text is matched against a configurable text field, and
// vector search embeds the query through an OpenAI-compatible embeddings
// endpoint. A source names a collection together with the settings needed
// to reach it. The empty source name selects the default source.
package documents
