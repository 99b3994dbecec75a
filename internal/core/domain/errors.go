// Package domain defines the core domain models for dagnode.
package domain

import (
	"errors"
	"fmt"
)

// NodeError is a startup or runtime error tagged with the stage that produced it.
// Error codes have the form DN-<STAGE>-<number>.
type NodeError struct {
	Code    string // Error code (e.g., "DN-STOR-5001")
	Stage   string // Startup stage (e.g., "storage")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Code, e.Stage, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// Is matches any NodeError with the same code.
func (e *NodeError) Is(target error) bool {
	t, ok := target.(*NodeError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewNodeError creates a new NodeError.
func NewNodeError(code, stage, message string) *NodeError {
	return &NodeError{
		Code:    code,
		Stage:   stage,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *NodeError) WithDetails(details string) *NodeError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *NodeError) WithCause(cause error) *NodeError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// Wrap is WithCause with formatted details.
func (e *NodeError) Wrap(cause error, format string, args ...any) *NodeError {
	cp := *e
	cp.Cause = cause
	cp.Details = fmt.Sprintf(format, args...)
	return &cp
}

// IsNodeError checks if an error is a NodeError with the given code.
// If code is empty, it only checks if the error is a NodeError.
func IsNodeError(err error, code string) bool {
	var ne *NodeError
	if errors.As(err, &ne) {
		return code == "" || ne.Code == code
	}
	return false
}

// StageOf extracts the stage from an error if it's a NodeError.
func StageOf(err error) string {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Stage
	}
	return ""
}

// ============================================================================
// Startup errors. Each is fatal to Start.
// ============================================================================

var (
	// ErrConfiguration indicates an invalid configuration value.
	ErrConfiguration = NewNodeError("DN-CONF-1001", "config", "invalid configuration")

	// ErrMiningConfig indicates mining was enabled without a mining author.
	ErrMiningConfig = NewNodeError("DN-MINE-1002", "mining", "mining enabled but no author address configured")

	// ErrStorageOpen indicates the durable store could not be opened.
	ErrStorageOpen = NewNodeError("DN-STOR-5001", "storage", "failed to open database")

	// ErrGenesisLoad indicates the genesis accounts file is unreadable or malformed.
	ErrGenesisLoad = NewNodeError("DN-GENS-4001", "genesis", "failed to load genesis accounts")

	// ErrReplay indicates the recorded block sequence is unreadable, unparsable or empty.
	ErrReplay = NewNodeError("DN-RPLY-4002", "replay", "failed to replay test chain")

	// ErrNetworkStart indicates the network layer failed to start.
	ErrNetworkStart = NewNodeError("DN-NETW-5002", "network", "failed to start network")

	// ErrSyncRegistration indicates the sync protocol could not be registered.
	ErrSyncRegistration = NewNodeError("DN-SYNC-5003", "sync", "failed to register sync protocol")

	// ErrRPCBind indicates an RPC endpoint could not bind its address.
	ErrRPCBind = NewNodeError("DN-RPC-5004", "rpc", "failed to bind rpc endpoint")
)

// ============================================================================
// Runtime errors returned by collaborators.
// ============================================================================

var (
	// ErrBlockNotFound indicates an unknown block hash or height.
	ErrBlockNotFound = NewNodeError("DN-CHAIN-4040", "chain", "block not found")

	// ErrInvalidBlock indicates a block failed header verification.
	ErrInvalidBlock = NewNodeError("DN-CHAIN-4001", "chain", "invalid block")

	// ErrInvalidTransaction indicates a transaction failed verification.
	ErrInvalidTransaction = NewNodeError("DN-TX-4001", "txpool", "invalid transaction")

	// ErrTxPoolFull indicates the transaction pool reached its capacity.
	ErrTxPoolFull = NewNodeError("DN-TX-4290", "txpool", "transaction pool is full")

	// ErrDuplicateTransaction indicates the transaction is already pooled.
	ErrDuplicateTransaction = NewNodeError("DN-TX-4090", "txpool", "transaction already known")

	// ErrInsufficientBalance indicates the sender cannot cover value plus fee.
	ErrInsufficientBalance = NewNodeError("DN-VM-4002", "vm", "insufficient balance")

	// ErrNonceMismatch indicates the transaction nonce is not the account nonce.
	ErrNonceMismatch = NewNodeError("DN-VM-4003", "vm", "nonce mismatch")

	// ErrStopped indicates the subsystem has been stopped.
	ErrStopped = NewNodeError("DN-SYS-5030", "system", "subsystem stopped")
)
