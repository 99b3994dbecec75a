// Package rpcserver implements the node's JSON-RPC 2.0 API.
//
// Methods are grouped into two sets:
//
//   - Public: chain queries, transaction submission and peer count
//   - Debug: everything in Public plus pool, peer and chain statistics,
//     on-demand block generation and node shutdown
//
// A Dispatcher is transport-agnostic. The HTTP, TCP and IPC front ends feed
// it raw request bytes and write back whatever it returns.
package rpcserver
