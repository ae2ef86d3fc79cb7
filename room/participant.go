package room

import (
	"sync"

	"github.com/eleven-am/roomkit/ffi"
)

// RemoteParticipant is the room's live view of another participant. Accessors
// return snapshots; the room updates the underlying state from its ordered
// event queue.
type RemoteParticipant struct {
	mu     sync.RWMutex
	info   ffi.ParticipantInfo
	tracks map[string]ffi.TrackInfo
}

func newRemoteParticipant(info *ffi.ParticipantInfo) *RemoteParticipant {
	p := &RemoteParticipant{tracks: make(map[string]ffi.TrackInfo)}
	if info != nil {
		p.info = *info
	}
	return p
}

func (p *RemoteParticipant) Identity() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info.Identity
}

func (p *RemoteParticipant) SID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info.SID
}

func (p *RemoteParticipant) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info.Name
}

func (p *RemoteParticipant) Metadata() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info.Metadata
}

func (p *RemoteParticipant) Attributes() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.info.Attributes))
	for k, v := range p.info.Attributes {
		out[k] = v
	}
	return out
}

// Tracks returns a snapshot of the participant's published tracks.
func (p *RemoteParticipant) Tracks() []ffi.TrackInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ffi.TrackInfo, 0, len(p.tracks))
	for _, t := range p.tracks {
		out = append(out, t)
	}
	return out
}

// Track looks up one published track by sid.
func (p *RemoteParticipant) Track(sid string) (ffi.TrackInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tracks[sid]
	return t, ok
}

func (p *RemoteParticipant) updateInfo(info *ffi.ParticipantInfo) {
	if info == nil {
		return
	}
	p.mu.Lock()
	p.info = *info
	p.mu.Unlock()
}

func (p *RemoteParticipant) addTrack(track *ffi.TrackInfo) {
	if track == nil {
		return
	}
	p.mu.Lock()
	p.tracks[track.SID] = *track
	p.mu.Unlock()
}

func (p *RemoteParticipant) removeTrack(sid string) {
	p.mu.Lock()
	delete(p.tracks, sid)
	p.mu.Unlock()
}

func (p *RemoteParticipant) setMuted(sid string, muted bool) {
	p.mu.Lock()
	if t, ok := p.tracks[sid]; ok {
		t.Muted = muted
		p.tracks[sid] = t
	}
	p.mu.Unlock()
}
