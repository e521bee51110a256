// Package room adapts the room runtime to the session orchestrator.
//
// The gateway delivers structured room events and participant audio over a
// signalling WebSocket plus a WebRTC audio track; this package turns those
// into typed events and PCM frames delivered in arrival order.
package room

import "time"

// EventKind identifies a room-level event.
type EventKind int

const (
	// EventParticipantConnected fires when a participant joins the room.
	EventParticipantConnected EventKind = iota

	// EventParticipantDisconnected fires when a participant leaves.
	EventParticipantDisconnected

	// EventTrackPublished fires when a participant publishes a media track.
	EventTrackPublished

	// EventTrackUnpublished fires when a media track is removed.
	EventTrackUnpublished

	// EventRoomDisconnected fires when the room itself goes away.
	EventRoomDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventParticipantConnected:
		return "participant_connected"
	case EventParticipantDisconnected:
		return "participant_disconnected"
	case EventTrackPublished:
		return "track_published"
	case EventTrackUnpublished:
		return "track_unpublished"
	case EventRoomDisconnected:
		return "room_disconnected"
	default:
		return "unknown"
	}
}

// Event is one room-level notification.
type Event struct {
	Kind        EventKind
	Room        string
	Participant string // participant identity, if applicable
	TrackSource string // "microphone", "camera", "screenshare", if applicable
	Metadata    string // opaque participant metadata, present at join time
	Time        time.Time
}
