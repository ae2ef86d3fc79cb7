package rpc

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/eleven-am/roomkit/ffi"
)

const DefaultTimeout = 10 * time.Second

// Invocation describes one incoming method call.
type Invocation struct {
	ID             uint64
	Method         string
	Payload        string
	CallerIdentity string
	Timeout        time.Duration
}

// Handler services one method. Returning *Error sends that structured
// error to the caller verbatim; any other error (or a panic) becomes a
// generic application error.
type Handler func(ctx context.Context, inv *Invocation) (string, error)

// Dispatcher owns the method registry and both directions of the RPC
// protocol. Unlike stream topics, method registration is last-write-wins.
type Dispatcher struct {
	client *ffi.Client
	handle func() uint64
	log    *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher(client *ffi.Client, handle func() uint64, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		client:   client,
		handle:   handle,
		log:      log.With("component", "rpc"),
		handlers: make(map[string]Handler),
	}
}

// Register installs the handler for a method, replacing any previous one.
func (d *Dispatcher) Register(method string, handler Handler) {
	d.mu.Lock()
	d.handlers[method] = handler
	d.mu.Unlock()
}

// Unregister removes a method's handler. Idempotent.
func (d *Dispatcher) Unregister(method string) {
	d.mu.Lock()
	delete(d.handlers, method)
	d.mu.Unlock()
}

// Perform calls a method on the destination participant and waits for its
// response payload or structured error. A missing response within timeout
// yields a CodeResponseTimeout error.
func (d *Dispatcher) Perform(ctx context.Context, destinationIdentity, method, payload string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ev, err := d.client.DoAsync(ctx, &ffi.Request{
		Type: ffi.RequestTypePerformRPC,
		PerformRPC: &ffi.PerformRPCRequest{
			RoomHandle:          d.handle(),
			DestinationIdentity: destinationIdentity,
			Method:              method,
			Payload:             payload,
			TimeoutMs:           uint32(timeout / time.Millisecond),
		},
	}, timeout)
	if errors.Is(err, ffi.ErrTimeout) {
		return "", errResponseTimeout()
	}
	if err != nil {
		return "", err
	}

	result := ev.RPCResult
	if result == nil {
		return "", errors.New("rpc result event missing payload")
	}
	if result.Error != nil {
		return "", &Error{Code: result.Error.Code, Message: result.Error.Message, Data: result.Error.Data}
	}
	return result.Payload, nil
}

// Dispatch services one incoming invocation on its own goroutine. RPC
// calls are deliberately concurrent; serializing them behind room events
// would let one slow handler stall unrelated calls.
func (d *Dispatcher) Dispatch(inv *ffi.RPCInvocation) {
	go d.invoke(inv)
}

func (d *Dispatcher) invoke(raw *ffi.RPCInvocation) {
	d.mu.RLock()
	handler, ok := d.handlers[raw.Method]
	d.mu.RUnlock()

	if !ok {
		d.respond(raw.InvocationID, "", errUnsupportedMethod(raw.Method))
		return
	}

	timeout := time.Duration(raw.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	inv := &Invocation{
		ID:             raw.InvocationID,
		Method:         raw.Method,
		Payload:        raw.Payload,
		CallerIdentity: raw.CallerIdentity,
		Timeout:        timeout,
	}

	payload, err := d.runHandler(ctx, handler, inv)
	if err != nil {
		var rpcErr *Error
		if !errors.As(err, &rpcErr) {
			d.log.Warn("method handler failed",
				"method", raw.Method,
				"caller", raw.CallerIdentity,
				"error", err)
			rpcErr = errApplication()
		}
		d.respond(raw.InvocationID, "", rpcErr)
		return
	}
	d.respond(raw.InvocationID, payload, nil)
}

func (d *Dispatcher) runHandler(ctx context.Context, handler Handler, inv *Invocation) (payload string, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("method handler panicked",
				"method", inv.Method,
				"panic", r,
				"stack", string(debug.Stack()))
			err = errApplication()
		}
	}()
	return handler(ctx, inv)
}

func (d *Dispatcher) respond(invocationID uint64, payload string, rpcErr *Error) {
	req := &ffi.Request{
		Type: ffi.RequestTypeRPCResponse,
		RPCResponse: &ffi.RPCResponseRequest{
			RoomHandle:   d.handle(),
			InvocationID: invocationID,
			Payload:      payload,
		},
	}
	if rpcErr != nil {
		req.RPCResponse.Payload = ""
		req.RPCResponse.Error = &ffi.ErrorInfo{Code: rpcErr.Code, Message: rpcErr.Message, Data: rpcErr.Data}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.client.Do(ctx, req); err != nil {
		d.log.Error("send rpc response", "invocation_id", invocationID, "error", err)
	}
}
