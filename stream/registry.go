// Package stream implements the chunked payload protocol: header, chunks,
// trailer. Incoming streams are reassembled into pull-based readers routed
// by topic; outgoing payloads are chunked below the engine's per-message
// cap and written through the boundary.
package stream

import (
	"errors"
	"sync"
)

var (
	ErrTopicAlreadyRegistered = errors.New("topic already registered")
	ErrStreamClosed           = errors.New("stream closed")
)

// TextHandler receives the reader for an incoming text stream at header
// time. It runs on the room's dispatch queue, never the ingress goroutine.
type TextHandler func(r *TextReader, senderIdentity string)

// ByteHandler is the byte-stream counterpart of TextHandler.
type ByteHandler func(r *Reader, senderIdentity string)

// Registry maps topics to at most one handler per payload kind. Duplicate
// registration is rejected; unregistering is idempotent.
type Registry struct {
	mu           sync.Mutex
	textHandlers map[string]TextHandler
	byteHandlers map[string]ByteHandler
}

func NewRegistry() *Registry {
	return &Registry{
		textHandlers: make(map[string]TextHandler),
		byteHandlers: make(map[string]ByteHandler),
	}
}

func (r *Registry) RegisterText(topic string, handler TextHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.textHandlers[topic]; exists {
		return ErrTopicAlreadyRegistered
	}
	r.textHandlers[topic] = handler
	return nil
}

func (r *Registry) RegisterByte(topic string, handler ByteHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byteHandlers[topic]; exists {
		return ErrTopicAlreadyRegistered
	}
	r.byteHandlers[topic] = handler
	return nil
}

func (r *Registry) UnregisterText(topic string) {
	r.mu.Lock()
	delete(r.textHandlers, topic)
	r.mu.Unlock()
}

func (r *Registry) UnregisterByte(topic string) {
	r.mu.Lock()
	delete(r.byteHandlers, topic)
	r.mu.Unlock()
}

func (r *Registry) textHandler(topic string) (TextHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.textHandlers[topic]
	return h, ok
}

func (r *Registry) byteHandler(topic string) (ByteHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byteHandlers[topic]
	return h, ok
}
