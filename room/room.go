// Package room is the host-facing API: each Room owns a correlation client,
// an ordered event queue, a stream manager, and an RPC dispatcher, and turns
// raw engine events into callbacks and typed operations.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frostbyte73/core"

	"github.com/eleven-am/roomkit/auth"
	"github.com/eleven-am/roomkit/eventq"
	"github.com/eleven-am/roomkit/ffi"
	"github.com/eleven-am/roomkit/rpc"
	"github.com/eleven-am/roomkit/stream"
)

var (
	ErrNotConnected     = errors.New("room: not connected")
	ErrAlreadyConnected = errors.New("room: already connected")
)

const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// ConnectInfo identifies the room and the joining participant. When APIKey
// and APISecret are set, Connect mints the join token itself; otherwise use
// ConnectWithToken.
type ConnectInfo struct {
	URL                 string
	APIKey              string
	APISecret           string
	RoomName            string
	ParticipantIdentity string
	ParticipantName     string
	Metadata            string
	Attributes          map[string]string
}

type options struct {
	autoSubscribe    bool
	connectTimeout   time.Duration
	requestTimeout   time.Duration
	receiverCapacity int
	logger           *slog.Logger
}

type Option func(*options)

// WithAutoSubscribe controls whether the engine subscribes to every remote
// track on join. Defaults to true.
func WithAutoSubscribe(enabled bool) Option {
	return func(o *options) { o.autoSubscribe = enabled }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// WithReceiverCapacity bounds each audio receiver's frame buffer.
func WithReceiverCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.receiverCapacity = n
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.logger = log
		}
	}
}

// Room is a single connection to one media room. All callbacks fire on the
// room's ordered queue; local operations may be called from any goroutine.
type Room struct {
	log      *slog.Logger
	opts     options
	client   *ffi.Client
	queue    *eventq.Queue
	registry *stream.Registry
	streams  *stream.Manager
	rpc      *rpc.Dispatcher
	callback *Callback

	mu           sync.RWMutex
	connecting   bool
	handle       *ffi.Handle
	sid          string
	name         string
	local        ffi.ParticipantInfo
	participants map[string]*RemoteParticipant
	receivers    map[string]*AudioReceiver

	disconnected core.Fuse
}

// New wires a room around an engine boundary. The returned room is not yet
// connected; call Connect or ConnectWithToken. Callback fields must be set
// before connecting.
func New(boundary ffi.Boundary, callback *Callback, opts ...Option) *Room {
	o := options{
		autoSubscribe:    true,
		connectTimeout:   DefaultConnectTimeout,
		requestTimeout:   DefaultRequestTimeout,
		receiverCapacity: defaultReceiverCapacity,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if callback == nil {
		callback = &Callback{}
	}

	log := o.logger.With("component", "room")
	r := &Room{
		log:          log,
		opts:         o,
		callback:     callback,
		queue:        eventq.New(log),
		registry:     stream.NewRegistry(),
		participants: make(map[string]*RemoteParticipant),
		receivers:    make(map[string]*AudioReceiver),
	}
	r.client = ffi.NewClient(boundary, log)
	r.streams = stream.NewManager(r.registry, log)
	r.rpc = rpc.NewDispatcher(r.client, r.roomHandle, log)
	r.client.SetSink(r.route)
	return r
}

// Connect mints a join token from the info's API credentials and joins.
func (r *Room) Connect(ctx context.Context, info ConnectInfo) error {
	tokens, err := auth.NewTokenService(info.APIKey, info.APISecret)
	if err != nil {
		return err
	}
	token, err := tokens.GenerateToken(info.RoomName, auth.TokenOptions{
		Identity:   info.ParticipantIdentity,
		Name:       info.ParticipantName,
		Metadata:   info.Metadata,
		Attributes: info.Attributes,
	})
	if err != nil {
		return fmt.Errorf("mint join token: %w", err)
	}
	return r.ConnectWithToken(ctx, info.URL, token)
}

// ConnectWithToken joins with a pre-minted token. Only one connect may be in
// flight at a time; a concurrent or repeated call fails with
// ErrAlreadyConnected.
func (r *Room) ConnectWithToken(ctx context.Context, url, token string) error {
	r.mu.Lock()
	if r.handle != nil || r.connecting {
		r.mu.Unlock()
		return ErrAlreadyConnected
	}
	r.connecting = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.connecting = false
		r.mu.Unlock()
	}()

	req := &ffi.Request{
		Type: ffi.RequestTypeConnect,
		Connect: &ffi.ConnectRequest{
			URL:           url,
			Token:         token,
			AutoSubscribe: r.opts.autoSubscribe,
		},
	}
	ev, err := r.client.DoAsync(ctx, req, r.opts.connectTimeout)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	result := ev.ConnectResult
	if result == nil {
		return fmt.Errorf("connect: malformed result event %q", ev.Type)
	}
	if result.Error != nil {
		return fmt.Errorf("connect: %s (code %d)", result.Error.Message, result.Error.Code)
	}

	r.mu.Lock()
	r.handle = ffi.NewHandle(r.client, result.RoomHandle)
	r.sid = result.RoomSID
	r.name = result.RoomName
	if result.Local != nil {
		r.local = *result.Local
	}
	for _, info := range result.Participants {
		r.participants[info.Identity] = newRemoteParticipant(info)
	}
	r.mu.Unlock()

	r.log.Info("connected to room", "room", r.name, "sid", r.sid, "participants", len(result.Participants))
	return nil
}

func (r *Room) SID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sid
}

func (r *Room) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

// LocalParticipant returns the joining participant's info snapshot.
func (r *Room) LocalParticipant() ffi.ParticipantInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local
}

// Participants returns a snapshot of the remote participants.
func (r *Room) Participants() []*RemoteParticipant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RemoteParticipant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

// Participant looks up one remote participant by identity.
func (r *Room) Participant(identity string) (*RemoteParticipant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[identity]
	return p, ok
}

func (r *Room) roomHandle() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.handle == nil {
		return 0
	}
	return r.handle.Value()
}

// requireHandle returns the live room handle or ErrNotConnected.
func (r *Room) requireHandle() (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.handle == nil || r.handle.Released() {
		return 0, ErrNotConnected
	}
	return r.handle.Value(), nil
}

// PublishTrack asks the engine to publish a local track and waits for the
// publish outcome.
func (r *Room) PublishTrack(ctx context.Context, name string, kind ffi.TrackKind, source string) (*ffi.TrackInfo, error) {
	handle, err := r.requireHandle()
	if err != nil {
		return nil, err
	}
	req := &ffi.Request{
		Type: ffi.RequestTypePublishTrack,
		PublishTrack: &ffi.PublishTrackRequest{
			RoomHandle: handle,
			Name:       name,
			Kind:       kind,
			Source:     source,
		},
	}
	ev, err := r.client.DoAsync(ctx, req, r.opts.requestTimeout)
	if err != nil {
		return nil, fmt.Errorf("publish track: %w", err)
	}
	result := ev.PublishResult
	if result == nil {
		return nil, fmt.Errorf("publish track: malformed result event %q", ev.Type)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("publish track: %s (code %d)", result.Error.Message, result.Error.Code)
	}
	return result.Track, nil
}

func (r *Room) UnpublishTrack(ctx context.Context, trackSID string) error {
	handle, err := r.requireHandle()
	if err != nil {
		return err
	}
	req := &ffi.Request{
		Type: ffi.RequestTypeUnpublishTrack,
		UnpublishTrack: &ffi.UnpublishTrackRequest{
			RoomHandle: handle,
			TrackSID:   trackSID,
		},
	}
	if _, err := r.client.Do(ctx, req); err != nil {
		return fmt.Errorf("unpublish track: %w", err)
	}
	return nil
}

// DataOptions controls a PublishData send.
type DataOptions struct {
	Topic        string
	Reliable     bool
	Destinations []string
}

// PublishData sends an opaque payload to the room, or to Destinations only
// when set.
func (r *Room) PublishData(ctx context.Context, payload []byte, opts DataOptions) error {
	handle, err := r.requireHandle()
	if err != nil {
		return err
	}
	req := &ffi.Request{
		Type: ffi.RequestTypePublishData,
		PublishData: &ffi.PublishDataRequest{
			RoomHandle:   handle,
			Payload:      payload,
			Topic:        opts.Topic,
			Reliable:     opts.Reliable,
			Destinations: opts.Destinations,
		},
	}
	if _, err := r.client.Do(ctx, req); err != nil {
		return fmt.Errorf("publish data: %w", err)
	}
	return nil
}

// SubscribeAudio subscribes to a remote audio track and returns the receiver
// its frames will land in.
func (r *Room) SubscribeAudio(ctx context.Context, trackSID string) (*AudioReceiver, error) {
	handle, err := r.requireHandle()
	if err != nil {
		return nil, err
	}
	req := &ffi.Request{
		Type: ffi.RequestTypeSetSubscribed,
		SetSubscribed: &ffi.SetSubscribedRequest{
			RoomHandle: handle,
			TrackSID:   trackSID,
			Subscribed: true,
		},
	}
	if _, err := r.client.Do(ctx, req); err != nil {
		return nil, fmt.Errorf("subscribe track %s: %w", trackSID, err)
	}

	r.mu.Lock()
	receiver, ok := r.receivers[trackSID]
	if !ok {
		receiver = newAudioReceiver(trackSID, r.opts.receiverCapacity)
		r.receivers[trackSID] = receiver
	}
	r.mu.Unlock()
	return receiver, nil
}

// UnsubscribeAudio drops the subscription and closes the track's receiver.
func (r *Room) UnsubscribeAudio(ctx context.Context, trackSID string) error {
	handle, err := r.requireHandle()
	if err != nil {
		return err
	}
	req := &ffi.Request{
		Type: ffi.RequestTypeSetSubscribed,
		SetSubscribed: &ffi.SetSubscribedRequest{
			RoomHandle: handle,
			TrackSID:   trackSID,
			Subscribed: false,
		},
	}
	if _, err := r.client.Do(ctx, req); err != nil {
		return fmt.Errorf("unsubscribe track %s: %w", trackSID, err)
	}

	r.mu.Lock()
	receiver := r.receivers[trackSID]
	delete(r.receivers, trackSID)
	r.mu.Unlock()
	if receiver != nil {
		receiver.Close()
	}
	return nil
}

// StreamText opens an outgoing text stream on a topic.
func (r *Room) StreamText(ctx context.Context, opts stream.WriteOptions) (*stream.TextWriter, error) {
	if _, err := r.requireHandle(); err != nil {
		return nil, err
	}
	return stream.NewTextWriter(ctx, outbound{r}, opts)
}

// StreamBytes opens an outgoing byte stream on a topic.
func (r *Room) StreamBytes(ctx context.Context, opts stream.WriteOptions) (*stream.ByteWriter, error) {
	if _, err := r.requireHandle(); err != nil {
		return nil, err
	}
	return stream.NewByteWriter(ctx, outbound{r}, opts)
}

func (r *Room) RegisterTextStreamHandler(topic string, handler stream.TextHandler) error {
	return r.registry.RegisterText(topic, handler)
}

func (r *Room) UnregisterTextStreamHandler(topic string) {
	r.registry.UnregisterText(topic)
}

func (r *Room) RegisterByteStreamHandler(topic string, handler stream.ByteHandler) error {
	return r.registry.RegisterByte(topic, handler)
}

func (r *Room) UnregisterByteStreamHandler(topic string) {
	r.registry.UnregisterByte(topic)
}

func (r *Room) RegisterRPCMethod(method string, handler rpc.Handler) {
	r.rpc.Register(method, handler)
}

func (r *Room) UnregisterRPCMethod(method string) {
	r.rpc.Unregister(method)
}

// PerformRPC invokes a method on a remote participant and waits for its
// response.
func (r *Room) PerformRPC(ctx context.Context, destinationIdentity, method, payload string, timeout time.Duration) (string, error) {
	if _, err := r.requireHandle(); err != nil {
		return "", err
	}
	return r.rpc.Perform(ctx, destinationIdentity, method, payload, timeout)
}

// Disconnect leaves the room and tears the runtime down: the disconnect
// request is sent, the room handle is released exactly once, in-flight
// incoming streams abort, queued events flush, and the correlation client
// closes. Calling it again is a no-op.
func (r *Room) Disconnect(ctx context.Context) error {
	var err error
	r.disconnected.Once(func() {
		err = r.teardown(ctx, "client initiated", true)
	})
	return err
}

func (r *Room) teardown(ctx context.Context, reason string, sendRequest bool) error {
	r.mu.Lock()
	handle := r.handle
	r.handle = nil
	receivers := r.receivers
	r.receivers = make(map[string]*AudioReceiver)
	r.mu.Unlock()

	var disconnectErr error
	if handle != nil && sendRequest {
		req := &ffi.Request{
			Type:       ffi.RequestTypeDisconnect,
			Disconnect: &ffi.DisconnectRequest{RoomHandle: handle.Value()},
		}
		if _, err := r.client.Do(ctx, req); err != nil {
			disconnectErr = fmt.Errorf("disconnect: %w", err)
		}
	}
	if handle != nil {
		if err := handle.Release(); err != nil && disconnectErr == nil {
			disconnectErr = fmt.Errorf("release handle: %w", err)
		}
	}

	for _, receiver := range receivers {
		receiver.Close()
	}
	r.streams.CloseAll(stream.ErrStreamClosed)
	r.queue.Close()

	if err := r.client.Close(); err != nil && disconnectErr == nil {
		disconnectErr = err
	}

	r.log.Info("disconnected", "room", r.name, "reason", reason)
	return disconnectErr
}

// route is the ingress sink: it runs on the boundary's event goroutine and
// must never block. Stream and audio events go to their own paths; everything
// else lands on the ordered queue.
func (r *Room) route(ev *ffi.Event) {
	switch ev.Type {
	case ffi.EventTypeStreamHeader:
		if ev.StreamHeader != nil {
			r.streams.Open(ev.StreamHeader, ev.StreamHeader.Sender)
		}
	case ffi.EventTypeStreamChunk:
		if ev.StreamChunk != nil {
			r.streams.Chunk(ev.StreamChunk)
		}
	case ffi.EventTypeStreamTrailer:
		if ev.StreamTrailer != nil {
			r.streams.CloseStream(ev.StreamTrailer)
		}
	case ffi.EventTypeRPCInvocation:
		if ev.RPCInvocation != nil {
			r.rpc.Dispatch(ev.RPCInvocation)
		}
	case ffi.EventTypeAudioFrame:
		r.routeAudio(ev.AudioFrame)
	default:
		if err := r.queue.Enqueue("event:"+string(ev.Type), func(context.Context) {
			r.apply(ev)
		}); err != nil {
			r.log.Debug("event after queue close", "type", ev.Type)
		}
	}
}

func (r *Room) routeAudio(frame *ffi.AudioFrame) {
	if frame == nil {
		return
	}
	r.mu.RLock()
	receiver := r.receivers[frame.TrackSID]
	r.mu.RUnlock()
	if receiver == nil {
		return
	}
	receiver.push(frame)
}

// apply runs on the queue worker: it mutates participant state and fires the
// matching callback, preserving arrival order across all event kinds.
func (r *Room) apply(ev *ffi.Event) {
	switch ev.Type {
	case ffi.EventTypeParticipantJoined:
		if ev.Participant == nil {
			return
		}
		p := newRemoteParticipant(ev.Participant)
		r.mu.Lock()
		r.participants[ev.Participant.Identity] = p
		r.mu.Unlock()
		if r.callback.OnParticipantConnected != nil {
			r.callback.OnParticipantConnected(p)
		}

	case ffi.EventTypeParticipantLeft:
		if ev.Participant == nil {
			return
		}
		r.mu.Lock()
		p := r.participants[ev.Participant.Identity]
		delete(r.participants, ev.Participant.Identity)
		r.mu.Unlock()
		if p == nil {
			p = newRemoteParticipant(ev.Participant)
		}
		if r.callback.OnParticipantDisconnected != nil {
			r.callback.OnParticipantDisconnected(p)
		}

	case ffi.EventTypeTrackPublished:
		p := r.participantFor(ev.Participant)
		if p == nil || ev.Track == nil {
			return
		}
		p.addTrack(ev.Track)
		if r.callback.OnTrackPublished != nil {
			r.callback.OnTrackPublished(*ev.Track, p)
		}

	case ffi.EventTypeTrackUnpublished:
		p := r.participantFor(ev.Participant)
		if p == nil {
			return
		}
		p.removeTrack(ev.TrackSID)
		if r.callback.OnTrackUnpublished != nil {
			r.callback.OnTrackUnpublished(ev.TrackSID, p)
		}

	case ffi.EventTypeTrackSubscribed:
		p := r.participantFor(ev.Participant)
		if p == nil || ev.Track == nil {
			return
		}
		p.addTrack(ev.Track)
		if r.callback.OnTrackSubscribed != nil {
			r.callback.OnTrackSubscribed(*ev.Track, p)
		}

	case ffi.EventTypeTrackMuted:
		p := r.participantFor(ev.Participant)
		if p == nil {
			return
		}
		p.setMuted(ev.TrackSID, true)
		if r.callback.OnTrackMuted != nil {
			r.callback.OnTrackMuted(ev.TrackSID, p)
		}

	case ffi.EventTypeTrackUnmuted:
		p := r.participantFor(ev.Participant)
		if p == nil {
			return
		}
		p.setMuted(ev.TrackSID, false)
		if r.callback.OnTrackUnmuted != nil {
			r.callback.OnTrackUnmuted(ev.TrackSID, p)
		}

	case ffi.EventTypeDataReceived:
		if ev.Data == nil {
			return
		}
		if r.callback.OnDataReceived != nil {
			r.callback.OnDataReceived(ev.Data.Payload, ev.Data.Topic, ev.Data.SenderIdentity)
		}

	case ffi.EventTypeQualityChanged:
		if ev.Quality == nil {
			return
		}
		if r.callback.OnConnectionQualityChanged != nil {
			r.callback.OnConnectionQualityChanged(ev.Quality.ParticipantIdentity, ev.Quality.Quality)
		}

	case ffi.EventTypeActiveSpeakers:
		if r.callback.OnActiveSpeakersChanged != nil {
			r.callback.OnActiveSpeakersChanged(ev.ActiveSpeakers)
		}

	case ffi.EventTypeDisconnected:
		reason := ev.Reason
		if r.callback.OnDisconnected != nil {
			r.callback.OnDisconnected(reason)
		}
		// Teardown closes the queue, which drains this worker, so it cannot
		// run inline here.
		go r.disconnected.Once(func() {
			ctx, cancel := context.WithTimeout(context.Background(), r.opts.requestTimeout)
			defer cancel()
			if err := r.teardown(ctx, reason, false); err != nil {
				r.log.Warn("teardown after server disconnect", "error", err)
			}
		})

	default:
		r.log.Debug("unhandled event", "type", ev.Type)
	}
}

func (r *Room) participantFor(info *ffi.ParticipantInfo) *RemoteParticipant {
	if info == nil {
		return nil
	}
	r.mu.RLock()
	p := r.participants[info.Identity]
	r.mu.RUnlock()
	return p
}

// outbound adapts the room's correlation client to the stream writers' send
// interface, stamping each envelope with the live room handle.
type outbound struct {
	r *Room
}

func (o outbound) SendStreamHeader(ctx context.Context, header ffi.StreamHeader, destinations []string) error {
	handle, err := o.r.requireHandle()
	if err != nil {
		return err
	}
	req := &ffi.Request{
		Type: ffi.RequestTypeStreamHeader,
		StreamHeader: &ffi.StreamHeaderRequest{
			RoomHandle:   handle,
			Header:       header,
			Destinations: destinations,
		},
	}
	_, err = o.r.client.Do(ctx, req)
	return err
}

func (o outbound) SendStreamChunk(ctx context.Context, chunk ffi.StreamChunk) error {
	handle, err := o.r.requireHandle()
	if err != nil {
		return err
	}
	req := &ffi.Request{
		Type: ffi.RequestTypeStreamChunk,
		StreamChunk: &ffi.StreamChunkRequest{
			RoomHandle: handle,
			Chunk:      chunk,
		},
	}
	_, err = o.r.client.Do(ctx, req)
	return err
}

func (o outbound) SendStreamTrailer(ctx context.Context, trailer ffi.StreamTrailer) error {
	handle, err := o.r.requireHandle()
	if err != nil {
		return err
	}
	req := &ffi.Request{
		Type: ffi.RequestTypeStreamTrailer,
		StreamTrailer: &ffi.StreamTrailerRequest{
			RoomHandle: handle,
			Trailer:    trailer,
		},
	}
	_, err = o.r.client.Do(ctx, req)
	return err
}
