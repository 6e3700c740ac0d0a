// Package playlist provides the Playlist domain entity.
package playlist

import (
	"fmt"
	"strings"
	"time"

	"github.com/osa030/plexbox/internal/domain/track"
)

// Summary describes a playlist without its items.
type Summary struct {
	ID         string        // Library rating key
	Title      string        // Playlist title
	ThumbURL   string        // Composite artwork URL
	Duration   time.Duration // Total duration reported by the library
	TrackCount int           // Number of items
}

// Playlist represents a library playlist with its playable tracks.
type Playlist struct {
	Summary
	Tracks []track.Track // Track items only, in playlist order
}

// TrackIDs returns all track IDs in the playlist.
func (p *Playlist) TrackIDs() []string {
	ids := make([]string, len(p.Tracks))
	for i, t := range p.Tracks {
		ids[i] = t.ID
	}
	return ids
}

// TotalDuration returns the sum of the track durations.
func (p *Playlist) TotalDuration() time.Duration {
	var total time.Duration
	for _, t := range p.Tracks {
		total += t.Duration
	}
	return total
}

// MatchesAny reports whether the title contains any of the words.
// An empty word list matches every playlist.
func (s *Summary) MatchesAny(words []string) bool {
	if len(words) == 0 {
		return true
	}
	for _, w := range words {
		if strings.Contains(s.Title, w) {
			return true
		}
	}
	return false
}

// FormatDuration renders d as zero-padded HH:MM:SS.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := d % time.Hour / time.Minute
	s := d % time.Minute / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
