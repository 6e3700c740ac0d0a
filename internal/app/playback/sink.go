package playback

import (
	"context"

	"github.com/osa030/plexbox/internal/domain/track"
)

// Endpoint identifies a voice channel.
type Endpoint struct {
	GuildID   string
	ChannelID string
}

// VoiceSink joins voice endpoints.
type VoiceSink interface {
	Connect(ctx context.Context, ep Endpoint) (Connection, error)
}

// Connection streams audio into a joined voice channel.
//
// onComplete fires exactly once per successful Play, on natural end,
// on Stop, or when the stream fails. It may be called from any goroutine.
type Connection interface {
	Play(source string, onComplete func(error)) error
	Stop() error
	Pause() error
	Resume() error
	IsPlaying() bool
	Disconnect() error
}

// NoticeKind selects the notification payload.
type NoticeKind int

const (
	NoticeNowPlaying    NoticeKind = iota // Track started
	NoticeQueued                          // Track appended behind a playing one
	NoticeUpNext                          // Queue listing entry
	NoticeAlbumQueued                     // Whole album appended
	NoticePlaylistQueued                  // Whole playlist appended
)

// String returns the string representation of the notice kind.
func (k NoticeKind) String() string {
	switch k {
	case NoticeNowPlaying:
		return "now_playing"
	case NoticeQueued:
		return "queued"
	case NoticeUpNext:
		return "up_next"
	case NoticeAlbumQueued:
		return "album_queued"
	case NoticePlaylistQueued:
		return "playlist_queued"
	default:
		return "unknown"
	}
}

// Notice is a status message to post into a text channel.
type Notice struct {
	Kind      NoticeKind
	ChannelID string
	Track     track.Track // Subject track; first track for collections
	Heading   string      // Album or playlist title for collection notices
	Count     int         // Number of tracks for collection notices
}

// MessageHandle references a posted notice.
type MessageHandle struct {
	ChannelID string
	MessageID string
}

// Notifier posts and retracts notices.
// Retract returns ErrMessageGone when the message no longer exists.
type Notifier interface {
	Post(ctx context.Context, n Notice) (MessageHandle, error)
	Retract(ctx context.Context, h MessageHandle) error
}
