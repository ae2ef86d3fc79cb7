// Package audio implements the mixing engine: N independently-paced PCM16
// sources are buffered to a fixed block size, summed with saturation, and
// emitted as mixed frames into a bounded multi-reader output queue.
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"

	"github.com/frostbyte73/core"
)

var (
	ErrClosed      = errors.New("audio: closed")
	ErrWriteClosed = errors.New("audio: source write side closed")
)

// Source yields variable-length chunks of interleaved PCM16 samples.
// ReadChunk returns io.EOF exactly once, when the source is exhausted.
// Sources that also implement io.Closer are closed when the mixer shuts
// down.
type Source interface {
	ReadChunk(ctx context.Context) ([]int16, error)
}

// BufferSource adapts push-style producers to the Source interface through
// a bounded channel. CloseWrite signals end-of-stream; buffered chunks are
// still drained by the reader afterwards. The channel itself is never
// closed: a Push blocked on a full buffer may be concurrent with CloseWrite,
// so end-of-stream is a fuse both sides select on instead.
type BufferSource struct {
	ch     chan []int16
	closed core.Fuse
}

func NewBufferSource(capacity int) *BufferSource {
	if capacity <= 0 {
		capacity = 16
	}
	return &BufferSource{ch: make(chan []int16, capacity)}
}

// Push blocks while the buffer is full. It unblocks with ErrWriteClosed if
// CloseWrite is called while it is waiting.
func (s *BufferSource) Push(ctx context.Context, samples []int16) error {
	if s.closed.IsBroken() {
		return ErrWriteClosed
	}
	select {
	case s.ch <- samples:
		return nil
	case <-s.closed.Watch():
		return ErrWriteClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseWrite marks the source exhausted. Idempotent.
func (s *BufferSource) CloseWrite() {
	s.closed.Break()
}

func (s *BufferSource) ReadChunk(ctx context.Context) ([]int16, error) {
	// Buffered chunks win over the end-of-stream signal.
	select {
	case chunk := <-s.ch:
		return chunk, nil
	default:
	}

	select {
	case chunk := <-s.ch:
		return chunk, nil
	case <-s.closed.Watch():
		select {
		case chunk := <-s.ch:
			return chunk, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DecodePCM16 converts little-endian PCM16 bytes to samples. A trailing odd
// byte is dropped.
func DecodePCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// EncodePCM16 converts samples to little-endian PCM16 bytes.
func EncodePCM16(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}
