package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
)

// JSON-RPC standard error codes, plus the custom range ChunkHound uses
// for category-specific detail (mirrors the teacher's errors.go code
// ranges, internal/mcp/errors.go).
const (
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603

	ErrCodeNotReady      = -32001
	ErrCodeRateLimited    = -32002
	ErrCodeTimeout        = -32003
	ErrCodeUnsupported    = -32004
	ErrCodeStorageFailure = -32005
)

// ErrNotReady is returned by tool handlers invoked before the server
// has reached the state the tool requires (§4.10).
var ErrNotReady = errors.New("chunkhound is still starting up")

// MCPError is the shape returned to an MCP tool caller as the handler's
// error value; the SDK serializes it into the JSON-RPC error object.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// mapError converts an internal error into the MCP-facing shape,
// preferring a chunkerr.Error's category when present (§4.10 error
// surfacing: "mapped to a JSON-RPC error without leaking Go-internal
// detail").
func mapError(err error) *MCPError {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotReady) {
		return &MCPError{Code: ErrCodeNotReady, Message: err.Error()}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &MCPError{Code: ErrCodeTimeout, Message: "request timed out or was canceled"}
	}

	var ce *chunkerr.Error
	if errors.As(err, &ce) {
		switch ce.Category {
		case chunkerr.CategoryContract:
			return &MCPError{Code: ErrCodeInvalidParams, Message: ce.Message}
		case chunkerr.CategoryUnsupported:
			return &MCPError{Code: ErrCodeUnsupported, Message: ce.Message}
		case chunkerr.CategoryRateLimit:
			return &MCPError{Code: ErrCodeRateLimited, Message: ce.Message}
		case chunkerr.CategoryFatalStore:
			return &MCPError{Code: ErrCodeStorageFailure, Message: ce.Message}
		case chunkerr.CategoryProtocol:
			return &MCPError{Code: ErrCodeInvalidRequest, Message: ce.Message}
		default:
			return &MCPError{Code: ErrCodeInternalError, Message: ce.Message}
		}
	}

	return &MCPError{Code: ErrCodeInternalError, Message: "internal server error"}
}
