package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/yndnr/dagnode/internal/core/domain"
)

// Version is the protocol version carried in every message.
const Version = "2.0"

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeNodeError carries a domain error; Data holds its DN-* code.
	CodeNodeError = -32000
)

// Request is a JSON-RPC request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// InvalidParams builds a CodeInvalidParams error.
func InvalidParams(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// MethodFunc handles one method call.
type MethodFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Dispatcher routes requests to registered methods.
type Dispatcher struct {
	methods map[string]MethodFunc
	logger  *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{methods: make(map[string]MethodFunc), logger: logger}
}

// Register adds or replaces a method.
func (d *Dispatcher) Register(name string, fn MethodFunc) {
	d.methods[name] = fn
}

// Methods returns the registered method names in order.
func (d *Dispatcher) Methods() []string {
	out := make([]string, 0, len(d.methods))
	for name := range d.methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Handle decodes a request or batch and returns the encoded reply.
// A nil reply means every request was a notification.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		return d.handleBatch(ctx, raw)
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encode(errorResponse(nil, &Error{Code: CodeParseError, Message: "parse error"}))
	}
	resp := d.call(ctx, &req)
	if resp == nil {
		return nil
	}
	return encode(resp)
}

func (d *Dispatcher) handleBatch(ctx context.Context, raw []byte) []byte {
	var reqs []json.RawMessage
	if err := json.Unmarshal(raw, &reqs); err != nil {
		return encode(errorResponse(nil, &Error{Code: CodeParseError, Message: "parse error"}))
	}
	if len(reqs) == 0 {
		return encode(errorResponse(nil, &Error{Code: CodeInvalidRequest, Message: "empty batch"}))
	}

	out := make([]*Response, 0, len(reqs))
	for _, r := range reqs {
		var req Request
		if err := json.Unmarshal(r, &req); err != nil {
			out = append(out, errorResponse(nil, &Error{Code: CodeInvalidRequest, Message: "invalid request"}))
			continue
		}
		if resp := d.call(ctx, &req); resp != nil {
			out = append(out, resp)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return encode(out)
}

func (d *Dispatcher) call(ctx context.Context, req *Request) (resp *Response) {
	notification := len(req.ID) == 0
	if req.JSONRPC != Version || req.Method == "" {
		return errorResponse(req.ID, &Error{Code: CodeInvalidRequest, Message: "invalid request"})
	}

	fn, ok := d.methods[req.Method]
	if !ok {
		if notification {
			return nil
		}
		return errorResponse(req.ID, &Error{Code: CodeMethodNotFound, Message: "method not found: " + req.Method})
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("rpc method panicked", "method", req.Method, "panic", r)
			resp = errorResponse(req.ID, &Error{Code: CodeInternalError, Message: "internal error"})
		}
	}()

	result, err := fn(ctx, req.Params)
	if notification {
		return nil
	}
	if err != nil {
		d.logger.Debug("rpc call failed", "method", req.Method, "error", err)
		return errorResponse(req.ID, toRPCError(err))
	}
	return &Response{JSONRPC: Version, ID: req.ID, Result: result}
}

func toRPCError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var nodeErr *domain.NodeError
	if errors.As(err, &nodeErr) {
		return &Error{Code: CodeNodeError, Message: err.Error(), Data: nodeErr.Code}
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}

func errorResponse(id json.RawMessage, err *Error) *Response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &Response{JSONRPC: Version, ID: id, Error: err}
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(errorResponse(nil, &Error{Code: CodeInternalError, Message: err.Error()}))
	}
	return b
}

// parseParams decodes positional params into out, in order. Extra params
// are ignored.
func parseParams(raw json.RawMessage, out ...any) error {
	if len(raw) == 0 || string(raw) == "null" {
		if len(out) > 0 {
			return InvalidParams("missing params")
		}
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return InvalidParams("params must be an array")
	}
	if len(list) < len(out) {
		return InvalidParams("want %d params, got %d", len(out), len(list))
	}
	for i, target := range out {
		if err := json.Unmarshal(list[i], target); err != nil {
			return InvalidParams("param %d: %v", i, err)
		}
	}
	return nil
}
