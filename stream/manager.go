package stream

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/eleven-am/roomkit/ffi"
)

type descriptor struct {
	reader    *Reader
	isText    bool
	nextIndex uint64
	chunks    uint64
}

// Manager tracks in-flight incoming streams by id and routes them to topic
// handlers. Chunk and trailer calls for unknown ids are deliberate no-ops:
// the engine may redeliver or race cleanup, and neither should fault.
type Manager struct {
	log      *slog.Logger
	registry *Registry

	mu      sync.Mutex
	streams map[string]*descriptor
}

func NewManager(registry *Registry, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log.With("component", "stream"),
		registry: registry,
		streams:  make(map[string]*descriptor),
	}
}

// IsTextMime reports whether a stream's payload is text.
func IsTextMime(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/")
}

// Open creates the descriptor for an announced stream and hands a reader to
// the registered topic handler. The handler runs on its own goroutine: it
// may block on the reader for the stream's whole lifetime, and an open-ended
// stream must not stall anything else. Streams with no handler for their
// topic and kind are ignored.
func (m *Manager) Open(header *ffi.StreamHeader, senderIdentity string) {
	isText := IsTextMime(header.MimeType)

	var textHandler TextHandler
	var byteHandler ByteHandler
	var ok bool
	if isText {
		textHandler, ok = m.registry.textHandler(header.Topic)
	} else {
		byteHandler, ok = m.registry.byteHandler(header.Topic)
	}
	if !ok {
		m.log.Debug("no handler for stream topic, ignoring",
			"stream_id", header.StreamID, "topic", header.Topic, "mime", header.MimeType)
		return
	}

	reader := newReader(header)

	m.mu.Lock()
	if _, exists := m.streams[header.StreamID]; exists {
		m.mu.Unlock()
		m.log.Warn("duplicate stream header, ignoring", "stream_id", header.StreamID)
		return
	}
	m.streams[header.StreamID] = &descriptor{reader: reader, isText: isText}
	m.mu.Unlock()

	if isText {
		go textHandler(&TextReader{Reader: reader}, senderIdentity)
		return
	}
	go byteHandler(reader, senderIdentity)
}

// Chunk appends content to the stream's reader in arrival order. Indices
// are recorded for diagnostics only; out-of-order delivery is logged, not
// resequenced.
func (m *Manager) Chunk(chunk *ffi.StreamChunk) {
	m.mu.Lock()
	desc, ok := m.streams[chunk.StreamID]
	if ok {
		if chunk.ChunkIndex != desc.nextIndex {
			m.log.Warn("stream chunk out of order",
				"stream_id", chunk.StreamID,
				"expected_index", desc.nextIndex,
				"got_index", chunk.ChunkIndex)
		}
		desc.nextIndex = chunk.ChunkIndex + 1
		desc.chunks++
	}
	m.mu.Unlock()

	if ok {
		desc.reader.push(chunk.Content)
	}
}

// CloseStream finalizes a stream: trailer attributes are merged into the
// descriptor, the reader completes, and the descriptor is removed.
func (m *Manager) CloseStream(trailer *ffi.StreamTrailer) {
	m.mu.Lock()
	desc, ok := m.streams[trailer.StreamID]
	if ok {
		delete(m.streams, trailer.StreamID)
	}
	m.mu.Unlock()

	if ok {
		desc.reader.complete(trailer.Attributes, nil)
	}
}

// CloseAll aborts every in-flight stream, typically on disconnect.
func (m *Manager) CloseAll(err error) {
	m.mu.Lock()
	streams := m.streams
	m.streams = make(map[string]*descriptor)
	m.mu.Unlock()

	for _, desc := range streams {
		desc.reader.complete(nil, err)
	}
}

// ActiveCount reports the number of in-flight streams.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}
