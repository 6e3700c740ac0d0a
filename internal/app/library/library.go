// Package library defines the media catalog consumed by the command surface.
package library

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/plexbox/internal/domain/playlist"
	"github.com/osa030/plexbox/internal/domain/track"
)

// ErrNotFound is returned when a search has no match.
var ErrNotFound = errors.New("not found")

// Album is an album with its tracks in disc order.
type Album struct {
	ID       string
	Title    string
	Artist   string
	ThumbURL string
	Tracks   []track.Track
}

// Library searches a music catalog. Lookups return the single best match.
type Library interface {
	FindTrack(ctx context.Context, title string) (track.Track, error)
	FindAlbum(ctx context.Context, title string) (Album, error)
	FindPlaylist(ctx context.Context, name string) (playlist.Playlist, error)
	ListPlaylists(ctx context.Context) ([]playlist.Summary, error)
}

// ArtFetcher downloads artwork for a track. Thumbnail URLs carry credentials
// and are never posted to chat directly.
type ArtFetcher interface {
	FetchArt(ctx context.Context, thumbURL string) ([]byte, error)
}

// Lyrics looks up song lyrics.
type Lyrics interface {
	Find(ctx context.Context, t track.Track) (string, error)
}
