// Package playback provides the per-guild playback controller and its queue.
package playback

import "github.com/osa030/plexbox/internal/domain/track"

// State represents the playback state.
type State int

const (
	StateIdle         State = iota // No voice connection
	StateAwaitingNext              // Connected, waiting on the queue or the idle timer
	StatePlaying                   // Track is streaming
	StatePaused                    // Track is suspended
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingNext:
		return "awaiting_next"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Active reports whether a track occupies the current slot.
func (s State) Active() bool {
	return s == StatePlaying || s == StatePaused
}

// LoopMode is either off or locked on one track.
type LoopMode struct {
	locked *track.QueuedTrack
}

// LoopOn returns a mode that replays qt on every cycle.
func LoopOn(qt track.QueuedTrack) LoopMode {
	return LoopMode{locked: &qt}
}

// On reports whether loop mode is on.
func (m LoopMode) On() bool {
	return m.locked != nil
}

// Track returns the locked track.
func (m LoopMode) Track() (track.QueuedTrack, bool) {
	if m.locked == nil {
		return track.QueuedTrack{}, false
	}
	return *m.locked, true
}

// Status is a published snapshot of the controller.
type Status struct {
	State    State
	Current  *track.QueuedTrack // nil unless Playing or Paused
	Looping  bool
	Endpoint Endpoint // zero value when Idle
}
