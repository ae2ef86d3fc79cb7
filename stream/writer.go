package stream

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/livekit/protocol/utils"

	"github.com/eleven-am/roomkit/ffi"
)

// MaxChunkSize bounds each outgoing chunk's content. The cap keeps the
// per-message boundary call overhead bounded; receivers do not enforce it.
const MaxChunkSize = 15_000

const (
	MimeTypeText  = "text/plain"
	MimeTypeBytes = "application/octet-stream"
)

// Outbound sends stream envelopes through the engine boundary.
type Outbound interface {
	SendStreamHeader(ctx context.Context, header ffi.StreamHeader, destinations []string) error
	SendStreamChunk(ctx context.Context, chunk ffi.StreamChunk) error
	SendStreamTrailer(ctx context.Context, trailer ffi.StreamTrailer) error
}

// WriteOptions configures an outgoing stream.
type WriteOptions struct {
	Topic        string
	MimeType     string
	TotalLength  *uint64
	Attributes   map[string]string
	Destinations []string
}

// ByteWriter streams an arbitrary-length byte payload as header, chunks of
// at most MaxChunkSize, and a trailer.
type ByteWriter struct {
	out      Outbound
	streamID string

	mu        sync.Mutex
	nextIndex uint64
	closed    bool
}

// NewByteWriter opens the stream by sending its header.
func NewByteWriter(ctx context.Context, out Outbound, opts WriteOptions) (*ByteWriter, error) {
	mime := opts.MimeType
	if mime == "" {
		mime = MimeTypeBytes
	}

	w := &ByteWriter{
		out:      out,
		streamID: utils.NewGuid("ST_"),
	}
	header := ffi.StreamHeader{
		StreamID:    w.streamID,
		MimeType:    mime,
		Topic:       opts.Topic,
		Timestamp:   time.Now().UnixMilli(),
		TotalLength: opts.TotalLength,
		Attributes:  opts.Attributes,
	}
	if err := out.SendStreamHeader(ctx, header, opts.Destinations); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *ByteWriter) StreamID() string {
	return w.streamID
}

// Write sends the payload as one or more chunks in order.
func (w *ByteWriter) Write(ctx context.Context, p []byte) error {
	for len(p) > 0 {
		n := len(p)
		if n > MaxChunkSize {
			n = MaxChunkSize
		}
		if err := w.writeChunk(ctx, p[:n]); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func (w *ByteWriter) writeChunk(ctx context.Context, content []byte) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrStreamClosed
	}
	index := w.nextIndex
	w.nextIndex++
	w.mu.Unlock()

	return w.out.SendStreamChunk(ctx, ffi.StreamChunk{
		StreamID:   w.streamID,
		ChunkIndex: index,
		Content:    content,
	})
}

// Close sends the trailer. Further writes fail with ErrStreamClosed.
func (w *ByteWriter) Close(ctx context.Context) error {
	return w.CloseWithTrailer(ctx, "", nil)
}

func (w *ByteWriter) CloseWithTrailer(ctx context.Context, reason string, attributes map[string]string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrStreamClosed
	}
	w.closed = true
	w.mu.Unlock()

	return w.out.SendStreamTrailer(ctx, ffi.StreamTrailer{
		StreamID:   w.streamID,
		Reason:     reason,
		Attributes: attributes,
	})
}

// TextWriter streams UTF-8 text, splitting chunks on rune boundaries so no
// chunk ends mid-encoding.
type TextWriter struct {
	inner *ByteWriter
}

func NewTextWriter(ctx context.Context, out Outbound, opts WriteOptions) (*TextWriter, error) {
	if opts.MimeType == "" {
		opts.MimeType = MimeTypeText
	}
	inner, err := NewByteWriter(ctx, out, opts)
	if err != nil {
		return nil, err
	}
	return &TextWriter{inner: inner}, nil
}

func (w *TextWriter) StreamID() string {
	return w.inner.StreamID()
}

func (w *TextWriter) Write(ctx context.Context, text string) error {
	for _, chunk := range splitUTF8(text, MaxChunkSize) {
		if err := w.inner.writeChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (w *TextWriter) Close(ctx context.Context) error {
	return w.inner.Close(ctx)
}

func (w *TextWriter) CloseWithTrailer(ctx context.Context, reason string, attributes map[string]string) error {
	return w.inner.CloseWithTrailer(ctx, reason, attributes)
}

// splitUTF8 cuts text into byte chunks of at most max bytes without
// splitting a rune across chunks.
func splitUTF8(text string, max int) [][]byte {
	if text == "" {
		return nil
	}

	var chunks [][]byte
	remaining := text
	for len(remaining) > 0 {
		if len(remaining) <= max {
			chunks = append(chunks, []byte(remaining))
			break
		}
		cut := max
		for cut > 0 && !utf8.RuneStart(remaining[cut]) {
			cut--
		}
		if cut == 0 {
			// Malformed input; fall back to a hard split.
			cut = max
		}
		chunks = append(chunks, []byte(remaining[:cut]))
		remaining = remaining[cut:]
	}
	return chunks
}
