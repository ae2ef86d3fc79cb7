package stream

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/gammazero/deque"

	"github.com/eleven-am/roomkit/ffi"
)

// Info is a snapshot of one stream's metadata. Attributes reflect the
// header until the trailer arrives, after which trailer attributes are
// merged over them.
type Info struct {
	ID          string
	MimeType    string
	Topic       string
	Timestamp   int64
	TotalLength *uint64
	Attributes  map[string]string
}

// Reader delivers a stream's chunks in arrival order to a single consumer.
// Read blocks until a chunk is buffered, the stream completes (io.EOF after
// the buffer drains), or ctx is cancelled.
type Reader struct {
	mu     sync.Mutex
	info   Info
	buf    deque.Deque[[]byte]
	done   bool
	err    error
	notify chan struct{}
}

func newReader(header *ffi.StreamHeader) *Reader {
	attrs := make(map[string]string, len(header.Attributes))
	for k, v := range header.Attributes {
		attrs[k] = v
	}
	return &Reader{
		info: Info{
			ID:          header.StreamID,
			MimeType:    header.MimeType,
			Topic:       header.Topic,
			Timestamp:   header.Timestamp,
			TotalLength: header.TotalLength,
			Attributes:  attrs,
		},
		notify: make(chan struct{}, 1),
	}
}

func (r *Reader) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := r.info
	info.Attributes = make(map[string]string, len(r.info.Attributes))
	for k, v := range r.info.Attributes {
		info.Attributes[k] = v
	}
	return info
}

// Read returns the next chunk. After the stream closes and the buffer is
// drained it returns io.EOF, or the stream's failure error if it was
// aborted.
func (r *Reader) Read(ctx context.Context) ([]byte, error) {
	for {
		r.mu.Lock()
		if r.buf.Len() > 0 {
			chunk := r.buf.PopFront()
			r.mu.Unlock()
			return chunk, nil
		}
		if r.done {
			err := r.err
			r.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.notify:
		}
	}
}

// ReadAll drains the stream to completion and returns the concatenated
// payload.
func (r *Reader) ReadAll(ctx context.Context) ([]byte, error) {
	var out []byte
	for {
		chunk, err := r.Read(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
}

func (r *Reader) push(chunk []byte) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.buf.PushBack(chunk)
	r.mu.Unlock()
	r.wake()
}

// complete finalizes the reader exactly once. Trailer attributes overwrite
// header attributes; a non-nil err marks the stream as aborted.
func (r *Reader) complete(trailerAttrs map[string]string, err error) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.err = err
	for k, v := range trailerAttrs {
		r.info.Attributes[k] = v
	}
	r.mu.Unlock()
	r.wake()
}

func (r *Reader) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// TextReader wraps a Reader for UTF-8 text payloads.
type TextReader struct {
	*Reader
}

// ReadText returns the next chunk decoded as UTF-8 text.
func (r *TextReader) ReadText(ctx context.Context) (string, error) {
	chunk, err := r.Read(ctx)
	if err != nil {
		return "", err
	}
	return string(chunk), nil
}

// ReadAllText reassembles the full payload as text.
func (r *TextReader) ReadAllText(ctx context.Context) (string, error) {
	var sb strings.Builder
	for {
		chunk, err := r.Read(ctx)
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		sb.Write(chunk)
	}
}
