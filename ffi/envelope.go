package ffi

import "encoding/json"

type RequestType string

const (
	RequestTypeConnect        RequestType = "connect"
	RequestTypeDisconnect     RequestType = "disconnect"
	RequestTypePublishTrack   RequestType = "publish_track"
	RequestTypeUnpublishTrack RequestType = "unpublish_track"
	RequestTypeSetSubscribed  RequestType = "set_subscribed"
	RequestTypePublishData    RequestType = "publish_data"
	RequestTypeStreamHeader   RequestType = "stream_header"
	RequestTypeStreamChunk    RequestType = "stream_chunk"
	RequestTypeStreamTrailer  RequestType = "stream_trailer"
	RequestTypePerformRPC     RequestType = "perform_rpc"
	RequestTypeRPCResponse    RequestType = "rpc_response"
	RequestTypeDrop           RequestType = "drop"
)

type EventType string

const (
	EventTypeConnectResult     EventType = "connect_result"
	EventTypeDisconnected      EventType = "disconnected"
	EventTypeParticipantJoined EventType = "participant_joined"
	EventTypeParticipantLeft   EventType = "participant_left"
	EventTypeTrackPublished    EventType = "track_published"
	EventTypeTrackUnpublished  EventType = "track_unpublished"
	EventTypeTrackSubscribed   EventType = "track_subscribed"
	EventTypeTrackMuted        EventType = "track_muted"
	EventTypeTrackUnmuted      EventType = "track_unmuted"
	EventTypeDataReceived      EventType = "data_received"
	EventTypeStreamHeader      EventType = "stream_header"
	EventTypeStreamChunk       EventType = "stream_chunk"
	EventTypeStreamTrailer     EventType = "stream_trailer"
	EventTypeRPCInvocation     EventType = "rpc_invocation"
	EventTypeRPCResult         EventType = "rpc_result"
	EventTypeAudioFrame        EventType = "audio_frame"
	EventTypeQualityChanged    EventType = "quality_changed"
	EventTypeActiveSpeakers    EventType = "active_speakers"
	EventTypePublishResult     EventType = "publish_result"
)

// ErrorInfo is the engine's structured operation error, reported either
// inline in a Response or inside a correlated result event.
type ErrorInfo struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type ParticipantInfo struct {
	SID        string            `json:"sid"`
	Identity   string            `json:"identity"`
	Name       string            `json:"name,omitempty"`
	Metadata   string            `json:"metadata,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

type TrackInfo struct {
	SID    string    `json:"sid"`
	Name   string    `json:"name,omitempty"`
	Kind   TrackKind `json:"kind"`
	Muted  bool      `json:"muted,omitempty"`
	Source string    `json:"source,omitempty"`
}

type ConnectRequest struct {
	URL           string `json:"url"`
	Token         string `json:"token"`
	AutoSubscribe bool   `json:"auto_subscribe"`
}

type DisconnectRequest struct {
	RoomHandle uint64 `json:"room_handle"`
}

type PublishTrackRequest struct {
	RoomHandle uint64    `json:"room_handle"`
	Name       string    `json:"name"`
	Kind       TrackKind `json:"kind"`
	Source     string    `json:"source,omitempty"`
}

type UnpublishTrackRequest struct {
	RoomHandle uint64 `json:"room_handle"`
	TrackSID   string `json:"track_sid"`
}

type SetSubscribedRequest struct {
	RoomHandle uint64 `json:"room_handle"`
	TrackSID   string `json:"track_sid"`
	Subscribed bool   `json:"subscribed"`
}

type PublishDataRequest struct {
	RoomHandle   uint64   `json:"room_handle"`
	Payload      []byte   `json:"payload"`
	Topic        string   `json:"topic,omitempty"`
	Reliable     bool     `json:"reliable"`
	Destinations []string `json:"destinations,omitempty"`
}

type StreamHeader struct {
	StreamID    string            `json:"stream_id"`
	MimeType    string            `json:"mime_type"`
	Topic       string            `json:"topic"`
	Timestamp   int64             `json:"timestamp"`
	TotalLength *uint64           `json:"total_length,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Sender      string            `json:"sender,omitempty"`
}

type StreamChunk struct {
	StreamID   string `json:"stream_id"`
	ChunkIndex uint64 `json:"chunk_index"`
	Content    []byte `json:"content"`
}

type StreamTrailer struct {
	StreamID   string            `json:"stream_id"`
	Reason     string            `json:"reason,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type StreamHeaderRequest struct {
	RoomHandle   uint64       `json:"room_handle"`
	Header       StreamHeader `json:"header"`
	Destinations []string     `json:"destinations,omitempty"`
}

type StreamChunkRequest struct {
	RoomHandle uint64      `json:"room_handle"`
	Chunk      StreamChunk `json:"chunk"`
}

type StreamTrailerRequest struct {
	RoomHandle uint64        `json:"room_handle"`
	Trailer    StreamTrailer `json:"trailer"`
}

type PerformRPCRequest struct {
	RoomHandle          uint64 `json:"room_handle"`
	DestinationIdentity string `json:"destination_identity"`
	Method              string `json:"method"`
	Payload             string `json:"payload"`
	TimeoutMs           uint32 `json:"timeout_ms"`
}

// RPCResponseRequest carries the local handler's outcome for an incoming
// invocation back to the engine. Exactly one of Payload or Error is set.
type RPCResponseRequest struct {
	RoomHandle   uint64     `json:"room_handle"`
	InvocationID uint64     `json:"invocation_id"`
	Payload      string     `json:"payload,omitempty"`
	Error        *ErrorInfo `json:"error,omitempty"`
}

type DropRequest struct {
	Handle uint64 `json:"handle"`
}

// Request is the envelope sent across the engine boundary. Type selects
// which payload pointer is populated.
type Request struct {
	RequestID string      `json:"request_id"`
	Type      RequestType `json:"type"`

	Connect        *ConnectRequest        `json:"connect,omitempty"`
	Disconnect     *DisconnectRequest     `json:"disconnect,omitempty"`
	PublishTrack   *PublishTrackRequest   `json:"publish_track,omitempty"`
	UnpublishTrack *UnpublishTrackRequest `json:"unpublish_track,omitempty"`
	SetSubscribed  *SetSubscribedRequest  `json:"set_subscribed,omitempty"`
	PublishData    *PublishDataRequest    `json:"publish_data,omitempty"`
	StreamHeader   *StreamHeaderRequest   `json:"stream_header,omitempty"`
	StreamChunk    *StreamChunkRequest    `json:"stream_chunk,omitempty"`
	StreamTrailer  *StreamTrailerRequest  `json:"stream_trailer,omitempty"`
	PerformRPC     *PerformRPCRequest     `json:"perform_rpc,omitempty"`
	RPCResponse    *RPCResponseRequest    `json:"rpc_response,omitempty"`
	Drop           *DropRequest           `json:"drop,omitempty"`
}

// Response is the engine's immediate reply. A populated Error means the
// operation failed synchronously and no correlated event will follow. A
// non-zero AsyncID means the real outcome arrives later as an Event tagged
// with the same id.
type Response struct {
	RequestID string      `json:"request_id"`
	Type      RequestType `json:"type"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	AsyncID   uint64      `json:"async_id,omitempty"`
	Handle    uint64      `json:"handle,omitempty"`
}

type ConnectResult struct {
	RoomHandle   uint64             `json:"room_handle"`
	RoomSID      string             `json:"room_sid"`
	RoomName     string             `json:"room_name"`
	Local        *ParticipantInfo   `json:"local"`
	Participants []*ParticipantInfo `json:"participants,omitempty"`
	Error        *ErrorInfo         `json:"error,omitempty"`
}

type PublishResult struct {
	Track *TrackInfo `json:"track,omitempty"`
	Error *ErrorInfo `json:"error,omitempty"`
}

type DataReceived struct {
	Payload        []byte `json:"payload"`
	Topic          string `json:"topic,omitempty"`
	SenderIdentity string `json:"sender_identity"`
}

type RPCInvocation struct {
	InvocationID   uint64 `json:"invocation_id"`
	Method         string `json:"method"`
	Payload        string `json:"payload"`
	CallerIdentity string `json:"caller_identity"`
	TimeoutMs      uint32 `json:"timeout_ms"`
}

type RPCResult struct {
	Payload string     `json:"payload,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// AudioFrame carries one block of interleaved PCM16 samples for a
// subscribed track, little-endian encoded in Data.
type AudioFrame struct {
	TrackSID   string `json:"track_sid"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Data       []byte `json:"data"`
}

type QualityUpdate struct {
	ParticipantIdentity string `json:"participant_identity"`
	Quality             string `json:"quality"`
}

// Event is the envelope delivered out-of-band by the engine. AsyncID is
// non-zero when the event is the correlated outcome of an earlier request.
type Event struct {
	Type    EventType `json:"type"`
	AsyncID uint64    `json:"async_id,omitempty"`

	ConnectResult  *ConnectResult   `json:"connect_result,omitempty"`
	PublishResult  *PublishResult   `json:"publish_result,omitempty"`
	Participant    *ParticipantInfo `json:"participant,omitempty"`
	Track          *TrackInfo       `json:"track,omitempty"`
	TrackSID       string           `json:"track_sid,omitempty"`
	Data           *DataReceived    `json:"data,omitempty"`
	StreamHeader   *StreamHeader    `json:"stream_header,omitempty"`
	StreamChunk    *StreamChunk     `json:"stream_chunk,omitempty"`
	StreamTrailer  *StreamTrailer   `json:"stream_trailer,omitempty"`
	RPCInvocation  *RPCInvocation   `json:"rpc_invocation,omitempty"`
	RPCResult      *RPCResult       `json:"rpc_result,omitempty"`
	AudioFrame     *AudioFrame      `json:"audio_frame,omitempty"`
	Quality        *QualityUpdate   `json:"quality,omitempty"`
	ActiveSpeakers []string         `json:"active_speakers,omitempty"`
	Reason         string           `json:"reason,omitempty"`
}

func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

func DecodeResponse(data []byte) (*Response, error) {
	var res Response
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
