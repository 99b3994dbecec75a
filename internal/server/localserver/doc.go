// Package localserver serves the JSON-RPC API on a local IPC socket.
//
// The socket is a Unix domain socket created with mode 0600, so file system
// permissions control access. A stale socket file left by a crashed process
// is removed before binding. The wire format is the line-delimited JSON-RPC
// of tcpserver.
package localserver
