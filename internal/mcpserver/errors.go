// Package mcpserver exposes the Engine Facade over the Model Context
// Protocol's JSON-RPC stdio transport: store, get, delete, search, and
// stats tools for AI coding/chat clients that speak MCP.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	memerrors "github.com/NewTurn2017/oc-memory/internal/errors"
)

// Standard JSON-RPC error codes, plus a handful of oc-memory-specific
// ones in the same -32000-range the MCP spec reserves for server errors.
const (
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
	ErrCodeMemoryNotFound = -32001
	ErrCodeBusy           = -32002
	ErrCodeTimeout        = -32003
)

// ToolError is the error payload surfaced to an MCP client.
type ToolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// MapError converts an engine-layer error into a ToolError, preserving
// the distinction a client needs to act on (busy vs not-found vs
// validation vs everything else).
func MapError(err error) *ToolError {
	if err == nil {
		return nil
	}

	var me *memerrors.MemError
	if errors.As(err, &me) {
		switch me.Code {
		case memerrors.ErrCodeMemoryNotFound:
			return &ToolError{Code: ErrCodeMemoryNotFound, Message: me.Message}
		case memerrors.ErrCodeBusy:
			return &ToolError{Code: ErrCodeBusy, Message: me.Message}
		case memerrors.ErrCodeDeadlineExceed:
			return &ToolError{Code: ErrCodeTimeout, Message: me.Message}
		case memerrors.ErrCodeInvalidInput, memerrors.ErrCodeQueryEmpty, memerrors.ErrCodeQueryTooLong:
			return &ToolError{Code: ErrCodeInvalidParams, Message: me.Message}
		default:
			return &ToolError{Code: ErrCodeInternalError, Message: me.Message}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ToolError{Code: ErrCodeTimeout, Message: "request timed out"}
	}

	return &ToolError{Code: ErrCodeInternalError, Message: "internal server error"}
}

// NewInvalidParamsError builds a validation ToolError with a custom message.
func NewInvalidParamsError(msg string) *ToolError {
	return &ToolError{Code: ErrCodeInvalidParams, Message: msg}
}
