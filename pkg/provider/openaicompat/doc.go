// Package openaicompat implements provider.CompletionService for OpenAI
// Chat Completions backends, both the plain /v1 layout and Azure
// deployments with the data-source extension. It handles request
// serialization, response variant resolution, SSE chunk streaming and
// error mapping.
package openaicompat
