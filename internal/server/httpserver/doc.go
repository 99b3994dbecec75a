// Package httpserver serves the JSON-RPC API over HTTP.
//
// Requests are POSTed to "/" and pass through the middleware chain
// Recover -> RequestID -> CORS -> RateLimit -> AccessLog -> RPC. The
// router also exposes "/health" and, when a metrics handler is configured,
// "/metrics".
package httpserver
