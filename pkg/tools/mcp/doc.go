// Package mcp exposes the tools of remote Model Context Protocol servers
// as registry functions. Each configured server is connected once through
// the official MCP Go SDK; its tools are discovered lazily and appear to
// the dispatcher like any built-in function.
package mcp
