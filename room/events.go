package room

import "github.com/eleven-am/roomkit/ffi"

// Callback receives room events. Every field is optional; nil callbacks are
// skipped. All callbacks fire on the room's ordered event queue, one at a
// time, in arrival order, so a slow callback delays later events but never
// reorders them. Each Room has its own Callback: events from one room are
// never delivered to another.
type Callback struct {
	OnParticipantConnected    func(p *RemoteParticipant)
	OnParticipantDisconnected func(p *RemoteParticipant)

	OnTrackPublished   func(track ffi.TrackInfo, p *RemoteParticipant)
	OnTrackUnpublished func(trackSID string, p *RemoteParticipant)
	OnTrackSubscribed  func(track ffi.TrackInfo, p *RemoteParticipant)
	OnTrackMuted       func(trackSID string, p *RemoteParticipant)
	OnTrackUnmuted     func(trackSID string, p *RemoteParticipant)

	OnDataReceived             func(payload []byte, topic, senderIdentity string)
	OnConnectionQualityChanged func(identity, quality string)
	OnActiveSpeakersChanged    func(identities []string)

	OnDisconnected func(reason string)
}
