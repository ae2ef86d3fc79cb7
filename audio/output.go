package audio

import (
	"context"

	"github.com/frostbyte73/core"
)

// Frame is one fixed-size block of mixed samples.
type Frame struct {
	Data       []int16
	SampleRate int
	Channels   int
}

// SamplesPerChannel reports the block size of the frame.
func (f *Frame) SamplesPerChannel() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Data) / f.Channels
}

// Output is the mixer's bounded frame queue: one writer, any number of
// readers. When full, Write blocks until a reader drains — frames are never
// dropped or overwritten. After Close, readers drain the remaining frames
// and then fail with ErrClosed.
type Output struct {
	ch     chan *Frame
	closed core.Fuse
}

func NewOutput(capacity int) *Output {
	if capacity <= 0 {
		capacity = 64
	}
	return &Output{ch: make(chan *Frame, capacity)}
}

func (o *Output) Write(ctx context.Context, frame *Frame) error {
	select {
	case o.ch <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.closed.Watch():
		return ErrClosed
	}
}

func (o *Output) Read(ctx context.Context) (*Frame, error) {
	// Buffered frames win over the closed signal so readers always see a
	// complete drain.
	select {
	case frame := <-o.ch:
		return frame, nil
	default:
	}

	select {
	case frame := <-o.ch:
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.closed.Watch():
		select {
		case frame := <-o.ch:
			return frame, nil
		default:
			return nil, ErrClosed
		}
	}
}

// Len reports the number of frames waiting to be read.
func (o *Output) Len() int {
	return len(o.ch)
}

func (o *Output) Close() {
	o.closed.Break()
}
