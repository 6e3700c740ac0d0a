package playback

import "github.com/osa030/plexbox/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted  EventType = iota // Track started playing
	EventTrackEnded                     // Track finished playing
	EventTrackSkipped                   // Track was skipped
	EventTrackFailed                    // Track could not be played
	EventStateChanged                   // Playback state changed
	EventQueueCleared                   // Queue was cleared
	EventDisconnected                   // Voice connection released
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackSkipped:
		return "track_skipped"
	case EventTrackFailed:
		return "track_failed"
	case EventStateChanged:
		return "state_changed"
	case EventQueueCleared:
		return "queue_cleared"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type  EventType
	Track *track.QueuedTrack // Subject track (nil for some events)
	State State              // State after the event
	Err   error              // Failure cause for EventTrackFailed
}
