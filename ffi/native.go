//go:build linux || darwin

package ffi

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/frostbyte73/core"
)

// EnginePathEnv overrides the engine shared library search path.
const EnginePathEnv = "ROOMKIT_ENGINE_PATH"

const nativeEventBuffer = 1024

var (
	engineOnce    sync.Once
	engineHandle  uintptr
	engineInitErr error

	engineRequest     func(data uintptr, length uint32, out uintptr, outLen uintptr) int32
	engineSetCallback func(cb uintptr)
	engineDropHandle  func(handle uint64)
	engineFree        func(ptr uintptr, length uint32)
)

func engineLibPaths() []string {
	if path := os.Getenv(EnginePathEnv); path != "" {
		return []string{path}
	}
	switch runtime.GOOS {
	case "darwin":
		return []string{"libroomkit_engine.dylib", "/usr/local/lib/libroomkit_engine.dylib"}
	default:
		return []string{"libroomkit_engine.so", "/usr/local/lib/libroomkit_engine.so"}
	}
}

func loadEngine() error {
	engineOnce.Do(func() {
		var lastErr error
		for _, path := range engineLibPaths() {
			handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
			if err != nil {
				lastErr = err
				continue
			}
			engineHandle = handle
			registerEngineSymbols()
			return
		}
		engineInitErr = fmt.Errorf("load engine library: %w", lastErr)
	})
	return engineInitErr
}

func registerEngineSymbols() {
	purego.RegisterLibFunc(&engineRequest, engineHandle, "roomkit_request")
	purego.RegisterLibFunc(&engineSetCallback, engineHandle, "roomkit_set_callback")
	purego.RegisterLibFunc(&engineDropHandle, engineHandle, "roomkit_drop_handle")
	purego.RegisterLibFunc(&engineFree, engineHandle, "roomkit_free")
}

// NativeBoundary talks to the in-process engine shared library. The native
// callback only copies the event bytes and hands them to a channel; decoding
// and routing happen on a dedicated ingress goroutine so the engine thread
// is never blocked or re-entered.
type NativeBoundary struct {
	log    *slog.Logger
	events chan []byte
	closed core.Fuse
	wg     sync.WaitGroup

	handlerMu sync.RWMutex
	handler   EventHandler
}

func NewNativeBoundary(log *slog.Logger) (*NativeBoundary, error) {
	if err := loadEngine(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	b := &NativeBoundary{
		log:    log.With("component", "native_boundary"),
		events: make(chan []byte, nativeEventBuffer),
	}

	cb := purego.NewCallback(func(data uintptr, length uintptr) uintptr {
		if b.closed.IsBroken() || length == 0 {
			return 0
		}
		buf := make([]byte, length)
		copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(data)), length))
		select {
		case b.events <- buf:
		default:
			// Engine thread must never block; an overrun here means the
			// ingress goroutine is wedged, which is already fatal.
			b.log.Error("native event buffer overrun, dropping event")
		}
		return 0
	})
	engineSetCallback(cb)

	b.wg.Add(1)
	go b.pump()
	return b, nil
}

func (b *NativeBoundary) pump() {
	defer b.wg.Done()
	for {
		select {
		case <-b.closed.Watch():
			return
		case raw := <-b.events:
			ev, err := DecodeEvent(raw)
			if err != nil {
				b.log.Error("decode engine event", "error", err)
				continue
			}
			b.handlerMu.RLock()
			handler := b.handler
			b.handlerMu.RUnlock()
			if handler != nil {
				handler(ev)
			}
		}
	}
}

func (b *NativeBoundary) SetEventHandler(handler EventHandler) {
	b.handlerMu.Lock()
	b.handler = handler
	b.handlerMu.Unlock()
}

func (b *NativeBoundary) Request(ctx context.Context, req *Request) (*Response, error) {
	if b.closed.IsBroken() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var outPtr uintptr
	var outLen uint32
	status := engineRequest(
		uintptr(unsafe.Pointer(&data[0])),
		uint32(len(data)),
		uintptr(unsafe.Pointer(&outPtr)),
		uintptr(unsafe.Pointer(&outLen)),
	)
	runtime.KeepAlive(data)

	if status != 0 {
		return nil, fmt.Errorf("engine request failed with status %d", status)
	}
	if outPtr == 0 || outLen == 0 {
		return nil, fmt.Errorf("engine returned empty response")
	}

	raw := make([]byte, outLen)
	copy(raw, unsafe.Slice((*byte)(unsafe.Pointer(outPtr)), outLen))
	engineFree(outPtr, outLen)

	return DecodeResponse(raw)
}

func (b *NativeBoundary) Close() error {
	b.closed.Once(func() {
		engineSetCallback(0)
	})
	b.wg.Wait()
	return nil
}
