package lsp

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrSpawnFailed is returned by Start when the server process could not
	// be launched. The client stays in its previous state.
	ErrSpawnFailed = errors.New("lsp: spawn failed")
	// ErrFraming marks a malformed Content-Length frame. It ends the session.
	ErrFraming = errors.New("lsp: framing error")
	// ErrProcessExited is delivered to every pending request when the server
	// process terminates.
	ErrProcessExited = errors.New("lsp: server process exited")
	// ErrNotReady rejects a request made before the initialize handshake
	// completed. No bytes are written.
	ErrNotReady = errors.New("lsp: server not ready")
	// ErrRequestTimeout is delivered when a request outlives the configured
	// per-request timeout.
	ErrRequestTimeout = errors.New("lsp: request timed out")
	// ErrStopped is delivered to requests still pending when Stop tears the
	// session down.
	ErrStopped = errors.New("lsp: client stopped")
	// ErrAlreadyStarted is returned by Start while a session is live.
	ErrAlreadyStarted = errors.New("lsp: client already started")
)

// JSON-RPC 2.0 and LSP error codes.
const (
	CodeParseError           = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternalError        = -32603
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestFailed        = -32803
	CodeServerCancelled      = -32802
	CodeContentModified      = -32801
	CodeRequestCancelled     = -32800
)

// RPCError is a well-formed JSON-RPC error response. It only ever affects the
// request it answers.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// IsMethodNotFound reports whether err carries a -32601 response.
func IsMethodNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == CodeMethodNotFound
}
