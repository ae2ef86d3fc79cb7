package room

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eleven-am/roomkit/audio"
	"github.com/eleven-am/roomkit/ffi"
	"github.com/eleven-am/roomkit/rpc"
	"github.com/eleven-am/roomkit/stream"
)

// engineFake simulates the native engine: it answers connect and perform_rpc
// with an async id and emits the correlated result event from a separate
// goroutine, the way the real boundary delivers events.
type engineFake struct {
	mu       sync.Mutex
	handler  ffi.EventHandler
	requests []*ffi.Request
	nextID   atomic.Uint64

	connectDelay  time.Duration
	connectResult *ffi.ConnectResult
	publishResult *ffi.PublishResult
	rpcResult     *ffi.RPCResult
}

func newEngineFake() *engineFake {
	return &engineFake{
		connectResult: &ffi.ConnectResult{
			RoomHandle: 7,
			RoomSID:    "RM_abc",
			RoomName:   "demo",
			Local:      &ffi.ParticipantInfo{SID: "PA_local", Identity: "agent"},
			Participants: []*ffi.ParticipantInfo{
				{SID: "PA_1", Identity: "alice"},
			},
		},
		publishResult: &ffi.PublishResult{
			Track: &ffi.TrackInfo{SID: "TR_1", Name: "mic", Kind: ffi.TrackKindAudio},
		},
		rpcResult: &ffi.RPCResult{Payload: `{"ok":true}`},
	}
}

func (f *engineFake) Request(_ context.Context, req *ffi.Request) (*ffi.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	res := &ffi.Response{RequestID: req.RequestID, Type: req.Type}
	switch req.Type {
	case ffi.RequestTypeConnect:
		asyncID := f.nextID.Add(1)
		res.AsyncID = asyncID
		go func() {
			if f.connectDelay > 0 {
				time.Sleep(f.connectDelay)
			}
			f.emit(&ffi.Event{
				Type:          ffi.EventTypeConnectResult,
				AsyncID:       asyncID,
				ConnectResult: f.connectResult,
			})
		}()
	case ffi.RequestTypePublishTrack:
		asyncID := f.nextID.Add(1)
		res.AsyncID = asyncID
		go f.emit(&ffi.Event{
			Type:          ffi.EventTypePublishResult,
			AsyncID:       asyncID,
			PublishResult: f.publishResult,
		})
	case ffi.RequestTypePerformRPC:
		asyncID := f.nextID.Add(1)
		res.AsyncID = asyncID
		go f.emit(&ffi.Event{
			Type:      ffi.EventTypeRPCResult,
			AsyncID:   asyncID,
			RPCResult: f.rpcResult,
		})
	}
	return res, nil
}

func (f *engineFake) SetEventHandler(handler ffi.EventHandler) {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
}

func (f *engineFake) Close() error { return nil }

func (f *engineFake) emit(ev *ffi.Event) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

func (f *engineFake) requestCount(rt ffi.RequestType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, req := range f.requests {
		if req.Type == rt {
			count++
		}
	}
	return count
}

func (f *engineFake) lastRequest(rt ffi.RequestType) *ffi.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i].Type == rt {
			return f.requests[i]
		}
	}
	return nil
}

func connectedRoom(t *testing.T, fake *engineFake, cb *Callback, opts ...Option) *Room {
	t.Helper()
	r := New(fake, cb, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.ConnectWithToken(ctx, "ws://engine.local", "token"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRoom_ConnectPopulatesState(t *testing.T) {
	fake := newEngineFake()
	r := connectedRoom(t, fake, nil)
	defer r.Disconnect(context.Background())

	if r.SID() != "RM_abc" {
		t.Errorf("expected sid RM_abc, got %q", r.SID())
	}
	if r.Name() != "demo" {
		t.Errorf("expected name demo, got %q", r.Name())
	}
	if got := r.LocalParticipant().Identity; got != "agent" {
		t.Errorf("expected local identity agent, got %q", got)
	}
	if len(r.Participants()) != 1 {
		t.Fatalf("expected 1 participant, got %d", len(r.Participants()))
	}
	if _, ok := r.Participant("alice"); !ok {
		t.Error("expected participant alice")
	}

	if err := r.ConnectWithToken(context.Background(), "ws://engine.local", "token"); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestRoom_ConcurrentConnectSingleWinner(t *testing.T) {
	fake := newEngineFake()
	fake.connectDelay = 50 * time.Millisecond
	r := New(fake, nil)
	defer r.Disconnect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- r.ConnectWithToken(ctx, "ws://engine.local", "token")
		}()
	}

	var succeeded, rejected int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAlreadyConnected):
			rejected++
		default:
			t.Fatalf("unexpected connect error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d rejections", succeeded, rejected)
	}
	if got := fake.requestCount(ffi.RequestTypeConnect); got != 1 {
		t.Errorf("expected a single connect request on the wire, got %d", got)
	}
	if r.SID() != "RM_abc" {
		t.Errorf("expected connected state from the winner, got sid %q", r.SID())
	}
}

func TestRoom_ConnectFailure(t *testing.T) {
	fake := newEngineFake()
	fake.connectResult = &ffi.ConnectResult{
		Error: &ffi.ErrorInfo{Code: 401, Message: "invalid token"},
	}

	r := New(fake, nil)
	err := r.ConnectWithToken(context.Background(), "ws://engine.local", "bad")
	if err == nil || !strings.Contains(err.Error(), "invalid token") {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestRoom_OperationsRequireConnection(t *testing.T) {
	r := New(newEngineFake(), nil)

	if err := r.PublishData(context.Background(), []byte("x"), DataOptions{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("publish data: expected ErrNotConnected, got %v", err)
	}
	if _, err := r.PublishTrack(context.Background(), "mic", ffi.TrackKindAudio, ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("publish track: expected ErrNotConnected, got %v", err)
	}
	if _, err := r.StreamText(context.Background(), streamTextOpts()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("stream text: expected ErrNotConnected, got %v", err)
	}
	if _, err := r.PerformRPC(context.Background(), "alice", "ping", "", 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("perform rpc: expected ErrNotConnected, got %v", err)
	}
}

func TestRoom_CallbackOrderPreserved(t *testing.T) {
	fake := newEngineFake()

	var mu sync.Mutex
	var order []string
	record := func(label string) {
		mu.Lock()
		order = append(order, label)
		mu.Unlock()
	}

	cb := &Callback{
		OnParticipantConnected: func(p *RemoteParticipant) { record("joined:" + p.Identity()) },
		OnTrackPublished: func(track ffi.TrackInfo, p *RemoteParticipant) {
			record("published:" + track.SID)
		},
		OnDataReceived: func(payload []byte, topic, sender string) {
			record("data:" + string(payload))
		},
		OnActiveSpeakersChanged: func(identities []string) {
			record("speakers:" + strings.Join(identities, ","))
		},
		OnParticipantDisconnected: func(p *RemoteParticipant) { record("left:" + p.Identity()) },
	}

	r := connectedRoom(t, fake, cb)
	defer r.Disconnect(context.Background())

	bob := &ffi.ParticipantInfo{SID: "PA_2", Identity: "bob"}
	fake.emit(&ffi.Event{Type: ffi.EventTypeParticipantJoined, Participant: bob})
	fake.emit(&ffi.Event{
		Type:        ffi.EventTypeTrackPublished,
		Participant: bob,
		Track:       &ffi.TrackInfo{SID: "TR_bob", Kind: ffi.TrackKindAudio},
	})
	fake.emit(&ffi.Event{
		Type: ffi.EventTypeDataReceived,
		Data: &ffi.DataReceived{Payload: []byte("hello"), SenderIdentity: "bob"},
	})
	fake.emit(&ffi.Event{Type: ffi.EventTypeActiveSpeakers, ActiveSpeakers: []string{"bob"}})
	fake.emit(&ffi.Event{Type: ffi.EventTypeParticipantLeft, Participant: bob})

	waitFor(t, "all callbacks", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	})

	expected := []string{"joined:bob", "published:TR_bob", "data:hello", "speakers:bob", "left:bob"}
	mu.Lock()
	defer mu.Unlock()
	for i, want := range expected {
		if order[i] != want {
			t.Fatalf("callback %d: expected %q, got %q (full order %v)", i, want, order[i], order)
		}
	}

	if _, ok := r.Participant("bob"); ok {
		t.Error("expected bob removed after leave")
	}
}

func TestRoom_TrackStateFollowsEvents(t *testing.T) {
	fake := newEngineFake()
	r := connectedRoom(t, fake, nil)
	defer r.Disconnect(context.Background())

	alice := &ffi.ParticipantInfo{SID: "PA_1", Identity: "alice"}
	fake.emit(&ffi.Event{
		Type:        ffi.EventTypeTrackPublished,
		Participant: alice,
		Track:       &ffi.TrackInfo{SID: "TR_a", Kind: ffi.TrackKindAudio},
	})

	p, _ := r.Participant("alice")
	waitFor(t, "track published", func() bool {
		_, ok := p.Track("TR_a")
		return ok
	})

	fake.emit(&ffi.Event{Type: ffi.EventTypeTrackMuted, Participant: alice, TrackSID: "TR_a"})
	waitFor(t, "track muted", func() bool {
		track, ok := p.Track("TR_a")
		return ok && track.Muted
	})

	fake.emit(&ffi.Event{Type: ffi.EventTypeTrackUnpublished, Participant: alice, TrackSID: "TR_a"})
	waitFor(t, "track unpublished", func() bool {
		_, ok := p.Track("TR_a")
		return !ok
	})
}

func TestRoom_PublishTrack(t *testing.T) {
	fake := newEngineFake()
	r := connectedRoom(t, fake, nil)
	defer r.Disconnect(context.Background())

	track, err := r.PublishTrack(context.Background(), "mic", ffi.TrackKindAudio, "microphone")
	if err != nil {
		t.Fatalf("publish track: %v", err)
	}
	if track == nil || track.SID != "TR_1" {
		t.Fatalf("unexpected track %+v", track)
	}

	req := fake.lastRequest(ffi.RequestTypePublishTrack)
	if req == nil || req.PublishTrack.RoomHandle != 7 {
		t.Fatalf("expected publish request with room handle 7, got %+v", req)
	}

	if err := r.UnpublishTrack(context.Background(), "TR_1"); err != nil {
		t.Fatalf("unpublish track: %v", err)
	}
	if got := fake.lastRequest(ffi.RequestTypeUnpublishTrack).UnpublishTrack.TrackSID; got != "TR_1" {
		t.Errorf("expected unpublish for TR_1, got %q", got)
	}
}

func TestRoom_PublishTrackFailure(t *testing.T) {
	fake := newEngineFake()
	fake.publishResult = &ffi.PublishResult{
		Error: &ffi.ErrorInfo{Code: 500, Message: "codec unavailable"},
	}
	r := connectedRoom(t, fake, nil)
	defer r.Disconnect(context.Background())

	_, err := r.PublishTrack(context.Background(), "mic", ffi.TrackKindAudio, "")
	if err == nil || !strings.Contains(err.Error(), "codec unavailable") {
		t.Fatalf("expected codec unavailable error, got %v", err)
	}
}

func TestRoom_PublishData(t *testing.T) {
	fake := newEngineFake()
	r := connectedRoom(t, fake, nil)
	defer r.Disconnect(context.Background())

	err := r.PublishData(context.Background(), []byte("payload"), DataOptions{
		Topic:        "chat",
		Reliable:     true,
		Destinations: []string{"alice"},
	})
	if err != nil {
		t.Fatalf("publish data: %v", err)
	}

	req := fake.lastRequest(ffi.RequestTypePublishData)
	if req == nil {
		t.Fatal("expected publish data request")
	}
	pd := req.PublishData
	if string(pd.Payload) != "payload" || pd.Topic != "chat" || !pd.Reliable || len(pd.Destinations) != 1 {
		t.Fatalf("unexpected publish data request %+v", pd)
	}
}

func TestRoom_SubscribeAudioDeliversFrames(t *testing.T) {
	fake := newEngineFake()
	r := connectedRoom(t, fake, nil, WithReceiverCapacity(2))
	defer r.Disconnect(context.Background())

	receiver, err := r.SubscribeAudio(context.Background(), "TR_a")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub := fake.lastRequest(ffi.RequestTypeSetSubscribed)
	if sub == nil || !sub.SetSubscribed.Subscribed || sub.SetSubscribed.TrackSID != "TR_a" {
		t.Fatalf("unexpected subscribe request %+v", sub)
	}

	frame := func(v int16) *ffi.AudioFrame {
		return &ffi.AudioFrame{
			TrackSID:   "TR_a",
			SampleRate: 48000,
			Channels:   1,
			Data:       audio.EncodePCM16([]int16{v, v}),
		}
	}

	// Three frames into a capacity-two buffer: the oldest is dropped.
	fake.emit(&ffi.Event{Type: ffi.EventTypeAudioFrame, AudioFrame: frame(1)})
	fake.emit(&ffi.Event{Type: ffi.EventTypeAudioFrame, AudioFrame: frame(2)})
	fake.emit(&ffi.Event{Type: ffi.EventTypeAudioFrame, AudioFrame: frame(3)})

	chunk, err := receiver.ReadChunk(context.Background())
	if err != nil {
		t.Fatalf("read chunk: %v", err)
	}
	if chunk[0] != 2 {
		t.Errorf("expected oldest frame dropped, first sample 2, got %d", chunk[0])
	}
	if receiver.Dropped() != 1 {
		t.Errorf("expected 1 dropped frame, got %d", receiver.Dropped())
	}
	if receiver.SampleRate() != 48000 || receiver.Channels() != 1 {
		t.Errorf("expected 48000/1, got %d/%d", receiver.SampleRate(), receiver.Channels())
	}

	// Frames for unknown tracks are discarded without fault.
	fake.emit(&ffi.Event{Type: ffi.EventTypeAudioFrame, AudioFrame: &ffi.AudioFrame{TrackSID: "TR_other"}})

	if err := r.UnsubscribeAudio(context.Background(), "TR_a"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	// Remaining buffered frame drains, then the receiver reports end.
	if _, err := receiver.ReadChunk(context.Background()); err != nil {
		t.Fatalf("drain after close: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := receiver.ReadChunk(ctx); err == nil {
		t.Fatal("expected error after receiver closed and drained")
	}
}

func TestRoom_OutgoingTextStream(t *testing.T) {
	fake := newEngineFake()
	r := connectedRoom(t, fake, nil)
	defer r.Disconnect(context.Background())

	w, err := r.StreamText(context.Background(), streamTextOpts())
	if err != nil {
		t.Fatalf("stream text: %v", err)
	}
	if err := w.Write(context.Background(), "hello world"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	header := fake.lastRequest(ffi.RequestTypeStreamHeader)
	if header == nil || header.StreamHeader.Header.Topic != "captions" {
		t.Fatalf("unexpected stream header %+v", header)
	}
	if header.StreamHeader.RoomHandle != 7 {
		t.Errorf("expected room handle 7 on header, got %d", header.StreamHeader.RoomHandle)
	}
	chunk := fake.lastRequest(ffi.RequestTypeStreamChunk)
	if chunk == nil || string(chunk.StreamChunk.Chunk.Content) != "hello world" {
		t.Fatalf("unexpected stream chunk %+v", chunk)
	}
	if fake.requestCount(ffi.RequestTypeStreamTrailer) != 1 {
		t.Error("expected one stream trailer")
	}
}

func TestRoom_IncomingTextStream(t *testing.T) {
	fake := newEngineFake()
	r := connectedRoom(t, fake, nil)
	defer r.Disconnect(context.Background())

	type received struct {
		text   string
		sender string
	}
	got := make(chan received, 1)
	err := r.RegisterTextStreamHandler("captions", func(tr *stream.TextReader, sender string) {
		text, readErr := tr.ReadAllText(context.Background())
		if readErr != nil {
			t.Errorf("read all text: %v", readErr)
		}
		got <- received{text: text, sender: sender}
	})
	if err != nil {
		t.Fatalf("register handler: %v", err)
	}
	if err := r.RegisterTextStreamHandler("captions", func(*stream.TextReader, string) {}); err == nil {
		t.Fatal("expected duplicate topic registration to fail")
	}

	fake.emit(&ffi.Event{
		Type: ffi.EventTypeStreamHeader,
		StreamHeader: &ffi.StreamHeader{
			StreamID: "ST_in",
			MimeType: "text/plain",
			Topic:    "captions",
			Sender:   "alice",
		},
	})
	fake.emit(&ffi.Event{
		Type:        ffi.EventTypeStreamChunk,
		StreamChunk: &ffi.StreamChunk{StreamID: "ST_in", ChunkIndex: 0, Content: []byte("hel")},
	})
	fake.emit(&ffi.Event{
		Type:        ffi.EventTypeStreamChunk,
		StreamChunk: &ffi.StreamChunk{StreamID: "ST_in", ChunkIndex: 1, Content: []byte("lo")},
	})
	fake.emit(&ffi.Event{
		Type:          ffi.EventTypeStreamTrailer,
		StreamTrailer: &ffi.StreamTrailer{StreamID: "ST_in"},
	})

	select {
	case msg := <-got:
		if msg.text != "hello" {
			t.Errorf("expected hello, got %q", msg.text)
		}
		if msg.sender != "alice" {
			t.Errorf("expected sender alice, got %q", msg.sender)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream handler")
	}
}

func TestRoom_OpenStreamDoesNotStallEvents(t *testing.T) {
	fake := newEngineFake()
	joined := make(chan string, 1)
	r := connectedRoom(t, fake, &Callback{
		OnParticipantConnected: func(p *RemoteParticipant) {
			joined <- p.Identity()
		},
	})
	defer r.Disconnect(context.Background())

	// A live-transcription style handler holds its reader open for the
	// stream's whole lifetime.
	handlerDone := make(chan struct{})
	err := r.RegisterTextStreamHandler("transcript", func(tr *stream.TextReader, _ string) {
		defer close(handlerDone)
		_, _ = tr.ReadAllText(context.Background())
	})
	if err != nil {
		t.Fatalf("register handler: %v", err)
	}

	fake.emit(&ffi.Event{
		Type: ffi.EventTypeStreamHeader,
		StreamHeader: &ffi.StreamHeader{
			StreamID: "ST_live",
			MimeType: "text/plain",
			Topic:    "transcript",
			Sender:   "alice",
		},
	})

	// Room events keep flowing while the stream stays open.
	fake.emit(&ffi.Event{
		Type:        ffi.EventTypeParticipantJoined,
		Participant: &ffi.ParticipantInfo{SID: "PA_2", Identity: "bob"},
	})

	select {
	case identity := <-joined:
		if identity != "bob" {
			t.Errorf("expected bob, got %q", identity)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("participant callback stalled behind the open stream")
	}

	fake.emit(&ffi.Event{
		Type:          ffi.EventTypeStreamTrailer,
		StreamTrailer: &ffi.StreamTrailer{StreamID: "ST_live"},
	})
	select {
	case <-handlerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler never finished after trailer")
	}
}

func TestRoom_PerformRPC(t *testing.T) {
	fake := newEngineFake()
	r := connectedRoom(t, fake, nil)
	defer r.Disconnect(context.Background())

	payload, err := r.PerformRPC(context.Background(), "alice", "status", `{"q":1}`, time.Second)
	if err != nil {
		t.Fatalf("perform rpc: %v", err)
	}
	if payload != `{"ok":true}` {
		t.Errorf("expected rpc payload, got %q", payload)
	}

	req := fake.lastRequest(ffi.RequestTypePerformRPC)
	if req == nil || req.PerformRPC.DestinationIdentity != "alice" || req.PerformRPC.Method != "status" {
		t.Fatalf("unexpected perform rpc request %+v", req)
	}
	if req.PerformRPC.RoomHandle != 7 {
		t.Errorf("expected room handle 7, got %d", req.PerformRPC.RoomHandle)
	}
}

func TestRoom_IncomingRPCInvocation(t *testing.T) {
	fake := newEngineFake()
	r := connectedRoom(t, fake, nil)
	defer r.Disconnect(context.Background())

	r.RegisterRPCMethod("echo", func(_ context.Context, inv *rpc.Invocation) (string, error) {
		return inv.Payload, nil
	})

	fake.emit(&ffi.Event{
		Type: ffi.EventTypeRPCInvocation,
		RPCInvocation: &ffi.RPCInvocation{
			InvocationID:   42,
			Method:         "echo",
			Payload:        "ping",
			CallerIdentity: "alice",
		},
	})

	waitFor(t, "rpc response", func() bool {
		return fake.requestCount(ffi.RequestTypeRPCResponse) == 1
	})
	res := fake.lastRequest(ffi.RequestTypeRPCResponse).RPCResponse
	if res.InvocationID != 42 || res.Payload != "ping" || res.Error != nil {
		t.Fatalf("unexpected rpc response %+v", res)
	}
}

func TestRoom_DisconnectIdempotent(t *testing.T) {
	fake := newEngineFake()
	r := connectedRoom(t, fake, nil)

	if err := r.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := r.Disconnect(context.Background()); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}

	if got := fake.requestCount(ffi.RequestTypeDisconnect); got != 1 {
		t.Errorf("expected exactly one disconnect request, got %d", got)
	}
	if got := fake.requestCount(ffi.RequestTypeDrop); got != 1 {
		t.Errorf("expected exactly one handle drop, got %d", got)
	}

	if err := r.PublishData(context.Background(), []byte("x"), DataOptions{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after disconnect, got %v", err)
	}
}

func TestRoom_ServerInitiatedDisconnect(t *testing.T) {
	fake := newEngineFake()

	reason := make(chan string, 1)
	cb := &Callback{
		OnDisconnected: func(r string) { reason <- r },
	}
	r := connectedRoom(t, fake, cb)

	fake.emit(&ffi.Event{Type: ffi.EventTypeDisconnected, Reason: "room closed"})

	select {
	case got := <-reason:
		if got != "room closed" {
			t.Errorf("expected reason room closed, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect callback")
	}

	// Teardown runs off the queue worker: the handle is still released
	// exactly once, but no disconnect request goes out for a server-side
	// disconnect.
	waitFor(t, "handle drop", func() bool {
		return fake.requestCount(ffi.RequestTypeDrop) == 1
	})
	if got := fake.requestCount(ffi.RequestTypeDisconnect); got != 0 {
		t.Errorf("expected no disconnect request, got %d", got)
	}

	// A later client Disconnect is a no-op.
	if err := r.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect after server teardown: %v", err)
	}
	if got := fake.requestCount(ffi.RequestTypeDrop); got != 1 {
		t.Errorf("expected drop count unchanged, got %d", got)
	}
}

func streamTextOpts() stream.WriteOptions {
	return stream.WriteOptions{Topic: "captions", MimeType: stream.MimeTypeText}
}
