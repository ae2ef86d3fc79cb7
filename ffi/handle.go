package ffi

import (
	"context"
	"sync/atomic"
	"time"
)

const dropTimeout = 5 * time.Second

// Handle owns one engine-side resource id. The wrapper that created it is
// the sole owner; other code holds a reference to the same Handle, never a
// copy. Release issues the engine drop call at most once, no matter how
// many paths reach it during teardown.
type Handle struct {
	id     uint64
	client *Client

	released atomic.Bool
}

func NewHandle(client *Client, id uint64) *Handle {
	return &Handle{id: id, client: client}
}

// Value returns the raw engine id, or 0 once released.
func (h *Handle) Value() uint64 {
	if h.released.Load() {
		return 0
	}
	return h.id
}

func (h *Handle) Released() bool {
	return h.released.Load()
}

// Release invalidates the engine resource. Redundant calls are no-ops.
func (h *Handle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), dropTimeout)
	defer cancel()

	_, err := h.client.Do(ctx, &Request{
		Type: RequestTypeDrop,
		Drop: &DropRequest{Handle: h.id},
	})
	return err
}
