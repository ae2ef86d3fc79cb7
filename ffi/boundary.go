// Package ffi wraps the native media engine boundary: a synchronous
// request/response call plus an out-of-band event callback, exchanged as
// JSON envelopes. It owns the correlation layer that ties asynchronous
// engine outcomes back to the requests that triggered them.
package ffi

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrClosed  = errors.New("boundary closed")
	ErrTimeout = errors.New("request timed out")
)

// EventHandler receives decoded engine events. It is invoked from a single
// ingress goroutine and must never block or call back into the boundary.
type EventHandler func(ev *Event)

// Boundary is the narrow contract to the media engine. Implementations:
// NativeBoundary (in-process shared library) and RemoteBoundary (engine
// sidecar over websocket).
type Boundary interface {
	Request(ctx context.Context, req *Request) (*Response, error)
	SetEventHandler(handler EventHandler)
	Close() error
}

// OperationError is an engine-reported operation failure, either inline in
// the immediate response or inside a correlated result event.
type OperationError struct {
	Code    uint32
	Message string
	Data    string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

func newOperationError(info *ErrorInfo) *OperationError {
	return &OperationError{Code: info.Code, Message: info.Message, Data: info.Data}
}
