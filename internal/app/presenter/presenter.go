// Package presenter renders playback notices and replies as chat content.
package presenter

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/osa030/plexbox/internal/app/playback"
	"github.com/osa030/plexbox/internal/domain/playlist"
)

const (
	Author          = "Plex"
	ColorRed        = 0xe74c3c
	ArtFileName     = "image0.png"
	LyricsChunkSize = 1950 // Discord caps messages at 2000 characters
)

// Card is an embed payload.
type Card struct {
	Title       string
	Description string
	Author      string
	Footer      string
	Color       int
	Thumbnail   string // Attachment file name; empty when no art is attached
}

// WithArt points the card thumbnail at the attached album art.
func (c Card) WithArt() Card {
	c.Thumbnail = ArtFileName
	return c
}

// ThumbnailURL returns the attachment URL of the thumbnail, if any.
func (c Card) ThumbnailURL() string {
	if c.Thumbnail == "" {
		return ""
	}
	return "attachment://" + c.Thumbnail
}

// NoticeCard builds the card for a playback notice.
func NoticeCard(n playback.Notice) Card {
	card := Card{
		Author:      Author,
		Color:       ColorRed,
		Description: n.Track.Describe(),
	}

	switch n.Kind {
	case playback.NoticeNowPlaying:
		card.Title = "Now Playing - " + n.Track.Title
	case playback.NoticeQueued:
		card.Title = "Added to queue - " + n.Track.Title
	case playback.NoticeUpNext:
		card.Title = "Next in line - " + n.Track.Title
	case playback.NoticeAlbumQueued:
		card.Title = "Added album to queue"
		card.Description = joinNonEmpty(" - ", n.Heading, n.Track.Artist)
		card.Footer = countLabel(n.Count)
	case playback.NoticePlaylistQueued:
		card.Title = "Added playlist to queue"
		card.Description = n.Heading
		card.Footer = countLabel(n.Count)
	default:
		card.Title = n.Track.Title
	}
	return card
}

// PlaylistCard builds the card listing one playlist.
func PlaylistCard(s playlist.Summary) Card {
	return Card{
		Title:       s.Title,
		Description: playlist.FormatDuration(s.Duration),
		Author:      Author,
		Color:       ColorRed,
		Footer:      countLabel(s.TrackCount),
	}
}

// QueueOverflow returns the line shown after a truncated queue listing.
func QueueOverflow(hidden int, total time.Duration) string {
	if hidden <= 0 {
		return ""
	}
	return fmt.Sprintf("...and %s more (%s queued in total)",
		humanize.Comma(int64(hidden)), playlist.FormatDuration(total))
}

// LyricsBlocks splits lyrics into code blocks that fit in one message each.
func LyricsBlocks(lyrics string) []string {
	chunks := Split(lyrics, LyricsChunkSize)
	blocks := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		blocks = append(blocks, "```"+chunk+"```")
	}
	return blocks
}

// Split breaks text into chunks of at most size runes.
func Split(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// HelpText returns the command reference for the given prefix.
func HelpText(prefix string) string {
	p := prefix
	return "```" + `
General:
    ` + p + `kill [silent] - Halt the bot [silently].
    ` + p + `help - Print this help message.
    ` + p + `cleanup [limit] - Delete old messages from the bot.

Plex:
    ` + p + `play <SONG_NAME> - Play a song from the plex server.
    ` + p + `album <ALBUM_NAME> - Queue an entire album to play.
    ` + p + `playlist <PLAYLIST_NAME> - Queue an entire playlist to play.
    ` + p + `show_playlists <ARG> <ARG> - Query for playlists with a name matching any of the arguments.
    ` + p + `lyrics - Print the lyrics of the song.
    ` + p + `np - Print the current playing song.
    ` + p + `q - Print the current queue.
    ` + p + `history [n] - Print recently played songs.
    ` + p + `stop - Halt playback and leave vc.
    ` + p + `loop - Loop the current song.
    ` + p + `unloop - Disable looping.
    ` + p + `pause - Pause playback.
    ` + p + `resume - Resume playback.
    ` + p + `skip [n] - Skip the current song. Give a number as argument to skip more than 1.
    ` + p + `clear - Clear play queue.

[] - Optional args.
` + "```"
}

func countLabel(n int) string {
	switch {
	case n <= 0:
		return ""
	case n == 1:
		return "1 track"
	default:
		return humanize.Comma(int64(n)) + " tracks"
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
