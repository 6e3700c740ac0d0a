package session

import (
	"github.com/osa030/plexbox/internal/domain/playlist"
	"github.com/osa030/plexbox/internal/domain/track"
)

// OutcomeKind classifies the result of a command.
type OutcomeKind string

const (
	OutcomeStarted    OutcomeKind = "started"      // Playback will begin with the request
	OutcomeQueued     OutcomeKind = "queued"       // Request waits behind an active track
	OutcomeNotFound   OutcomeKind = "not_found"    // Library search missed
	OutcomeNotInVoice OutcomeKind = "not_in_voice" // Caller is not in a voice channel
	OutcomeNoOp       OutcomeKind = "no_op"        // Nothing to act on
	OutcomeDone       OutcomeKind = "done"         // Control command succeeded
	OutcomeRejected   OutcomeKind = "rejected"     // A request filter refused
	OutcomeFailed     OutcomeKind = "failed"       // Voice sink or backend failure
)

// Outcome is the result of a command.
type Outcome struct {
	Kind      OutcomeKind
	Message   string             // Reply text; empty when the command answers through notices
	Code      string             // Filter return code for rejections
	Track     *track.Track       // Subject track, when there is one
	Count     int                // Tracks affected
	Lines     []string           // Extra replies, one message each
	Playlists []playlist.Summary // Playlist listing
}

func outcome(kind OutcomeKind, message string) Outcome {
	return Outcome{Kind: kind, Message: message}
}
