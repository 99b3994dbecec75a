// Package tcpserver serves the JSON-RPC API over a stream socket.
//
// Each request is one line of JSON (a single call or a batch) and each
// reply is one line. Notifications produce no reply line. The same server
// runs on TCP and on Unix domain sockets.
package tcpserver
