// Package mcp implements the Model Context Protocol (MCP), a bidirectional
// JSON-RPC 2.0 protocol between an AI host application and a context-providing
// peer. The package provides a symmetric peer runtime (codec, transports,
// session bookkeeping and method routing) plus the Server and Client roles
// built on top of it.
package mcp
