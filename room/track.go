package room

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/frostbyte73/core"
	"github.com/gammazero/deque"

	"github.com/eleven-am/roomkit/audio"
	"github.com/eleven-am/roomkit/ffi"
)

const defaultReceiverCapacity = 128

// AudioReceiver hands decoded PCM16 frames from one subscribed track to a
// consumer. The buffer is bounded: when the consumer falls behind, the
// oldest frames are dropped so the ingress goroutine never blocks and the
// consumer stays near real time. ReadChunk satisfies audio.Source, so a
// receiver can feed an audio.Mixer directly.
type AudioReceiver struct {
	trackSID string
	capacity int

	mu     sync.Mutex
	frames deque.Deque[[]int16]
	notify chan struct{}

	sampleRate atomic.Int64
	channels   atomic.Int64
	dropped    atomic.Uint64
	closed     core.Fuse
}

func newAudioReceiver(trackSID string, capacity int) *AudioReceiver {
	if capacity <= 0 {
		capacity = defaultReceiverCapacity
	}
	return &AudioReceiver{
		trackSID: trackSID,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

func (r *AudioReceiver) TrackSID() string {
	return r.trackSID
}

// SampleRate reports the rate observed on the most recent frame, zero before
// the first frame arrives.
func (r *AudioReceiver) SampleRate() int {
	return int(r.sampleRate.Load())
}

func (r *AudioReceiver) Channels() int {
	return int(r.channels.Load())
}

// Dropped reports how many frames were discarded because the consumer fell
// behind.
func (r *AudioReceiver) Dropped() uint64 {
	return r.dropped.Load()
}

// push runs on the ingress goroutine and must not block.
func (r *AudioReceiver) push(frame *ffi.AudioFrame) {
	if r.closed.IsBroken() {
		return
	}
	r.sampleRate.Store(int64(frame.SampleRate))
	r.channels.Store(int64(frame.Channels))

	samples := audio.DecodePCM16(frame.Data)

	r.mu.Lock()
	for r.frames.Len() >= r.capacity {
		r.frames.PopFront()
		r.dropped.Add(1)
	}
	r.frames.PushBack(samples)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// ReadChunk returns the next buffered frame, blocking until one arrives, the
// context is done, or the receiver closes. A closed receiver drains its
// remaining frames before reporting io.EOF.
func (r *AudioReceiver) ReadChunk(ctx context.Context) ([]int16, error) {
	for {
		r.mu.Lock()
		if r.frames.Len() > 0 {
			samples := r.frames.PopFront()
			r.mu.Unlock()
			return samples, nil
		}
		r.mu.Unlock()

		if r.closed.IsBroken() {
			return nil, io.EOF
		}

		select {
		case <-r.notify:
		case <-r.closed.Watch():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close stops the receiver. Buffered frames remain readable until drained.
func (r *AudioReceiver) Close() error {
	r.closed.Break()
	return nil
}
