package ffi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gorilla/websocket"
)

const (
	remoteWriteWait      = 10 * time.Second
	remoteMaxMessageSize = 16 * 1024 * 1024
)

type remoteMessageKind string

const (
	remoteKindRequest  remoteMessageKind = "request"
	remoteKindResponse remoteMessageKind = "response"
	remoteKindEvent    remoteMessageKind = "event"
)

type remoteMessage struct {
	Kind     remoteMessageKind `json:"kind"`
	Seq      uint64            `json:"seq,omitempty"`
	Request  *Request          `json:"request,omitempty"`
	Response *Response         `json:"response,omitempty"`
	Event    *Event            `json:"event,omitempty"`
}

// RemoteBoundary speaks the boundary protocol to an out-of-process engine
// sidecar over a websocket. Requests and responses are matched by a local
// sequence number; events arrive unsolicited on the same connection and are
// delivered from the read loop, which serves as the ingress goroutine.
type RemoteBoundary struct {
	ws     *websocket.Conn
	log    *slog.Logger
	closed core.Fuse
	wg     sync.WaitGroup

	seq uint64

	writeMu sync.Mutex

	inflightMu sync.Mutex
	inflight   map[uint64]chan *Response

	handlerMu sync.RWMutex
	handler   EventHandler
}

func DialRemoteBoundary(url string, header http.Header, log *slog.Logger) (*RemoteBoundary, error) {
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial engine sidecar: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial engine sidecar: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	b := &RemoteBoundary{
		ws:       ws,
		log:      log.With("component", "remote_boundary"),
		inflight: make(map[uint64]chan *Response),
	}

	ws.SetReadLimit(remoteMaxMessageSize)

	b.wg.Add(1)
	go b.readPump()
	return b, nil
}

func (b *RemoteBoundary) SetEventHandler(handler EventHandler) {
	b.handlerMu.Lock()
	b.handler = handler
	b.handlerMu.Unlock()
}

func (b *RemoteBoundary) Request(ctx context.Context, req *Request) (*Response, error) {
	if b.closed.IsBroken() {
		return nil, ErrClosed
	}

	seq := atomic.AddUint64(&b.seq, 1)
	ch := make(chan *Response, 1)

	b.inflightMu.Lock()
	b.inflight[seq] = ch
	b.inflightMu.Unlock()

	defer func() {
		b.inflightMu.Lock()
		delete(b.inflight, seq)
		b.inflightMu.Unlock()
	}()

	msg := &remoteMessage{Kind: remoteKindRequest, Seq: seq, Request: req}
	if err := b.write(msg); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.closed.Watch():
		return nil, ErrClosed
	}
}

func (b *RemoteBoundary) write(msg *remoteMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal boundary message: %w", err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	_ = b.ws.SetWriteDeadline(time.Now().Add(remoteWriteWait))
	if err := b.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write boundary message: %w", err)
	}
	return nil
}

func (b *RemoteBoundary) readPump() {
	defer b.wg.Done()
	defer b.closeConn()

	for {
		_, data, err := b.ws.ReadMessage()
		if err != nil {
			if !b.closed.IsBroken() {
				b.log.Error("read engine sidecar", "error", err)
			}
			return
		}

		var msg remoteMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			b.log.Error("unmarshal boundary message", "error", err)
			continue
		}

		switch msg.Kind {
		case remoteKindResponse:
			b.inflightMu.Lock()
			ch, ok := b.inflight[msg.Seq]
			b.inflightMu.Unlock()
			if ok && msg.Response != nil {
				ch <- msg.Response
			}
		case remoteKindEvent:
			if msg.Event == nil {
				continue
			}
			b.handlerMu.RLock()
			handler := b.handler
			b.handlerMu.RUnlock()
			if handler != nil {
				handler(msg.Event)
			}
		default:
			b.log.Warn("unexpected boundary message kind", "kind", msg.Kind)
		}
	}
}

func (b *RemoteBoundary) closeConn() {
	b.closed.Once(func() {
		_ = b.ws.Close()
	})
}

func (b *RemoteBoundary) Close() error {
	b.closeConn()
	b.wg.Wait()
	return nil
}
