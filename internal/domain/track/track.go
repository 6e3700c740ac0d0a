// Package track provides the Track domain entity.
package track

import (
	"strings"
	"time"
)

// Track represents a playable item from the media library.
// Values are built by the library and never modified afterwards.
type Track struct {
	ID        string        // Library rating key
	Title     string        // Track title
	Artist    string        // Artist name
	Album     string        // Album title
	SourceURL string        // Stream locator handed to the voice sink
	ThumbURL  string        // Album art URL (may carry credentials, never posted as-is)
	Duration  time.Duration // Track duration
}

// RequesterType represents how a track entered the queue.
type RequesterType string

const (
	RequesterTypeUser     RequesterType = "USER"
	RequesterTypeAlbum    RequesterType = "ALBUM"
	RequesterTypePlaylist RequesterType = "PLAYLIST"
)

// Requester represents the chat user who asked for the track.
type Requester struct {
	ID   string        // Discord user ID
	Name string        // Display name
	Type RequesterType // How the track was requested
}

// QueuedTrack represents a track in the playback queue.
type QueuedTrack struct {
	Track     Track     // Library track info
	Requester Requester // Requester info
	AddedAt   time.Time // Time when added to queue
	ChannelID string    // Text channel that notices for this track go to
}

// Describe returns "Album - Artist", skipping empty parts.
func (t *Track) Describe() string {
	parts := make([]string, 0, 2)
	if t.Album != "" {
		parts = append(parts, t.Album)
	}
	if t.Artist != "" {
		parts = append(parts, t.Artist)
	}
	return strings.Join(parts, " - ")
}

// String returns the track title with its artist.
func (t Track) String() string {
	if t.Artist == "" {
		return t.Title
	}
	return t.Title + " by " + t.Artist
}
