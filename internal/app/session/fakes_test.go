package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/plexbox/internal/app/library"
	"github.com/osa030/plexbox/internal/app/playback"
	"github.com/osa030/plexbox/internal/domain/playlist"
	"github.com/osa030/plexbox/internal/domain/track"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func song(id, title, artist string) track.Track {
	return track.Track{
		ID:        id,
		Title:     title,
		Artist:    artist,
		Album:     "Album " + id,
		SourceURL: "src-" + id,
		Duration:  3 * time.Minute,
	}
}

type fakeLibrary struct {
	tracks    map[string]track.Track
	albums    map[string]library.Album
	playlists map[string]playlist.Playlist
	summaries []playlist.Summary
	err       error
}

func (l *fakeLibrary) FindTrack(ctx context.Context, title string) (track.Track, error) {
	if l.err != nil {
		return track.Track{}, l.err
	}
	if t, ok := l.tracks[title]; ok {
		return t, nil
	}
	return track.Track{}, library.ErrNotFound
}

func (l *fakeLibrary) FindAlbum(ctx context.Context, title string) (library.Album, error) {
	if a, ok := l.albums[title]; ok {
		return a, nil
	}
	return library.Album{}, library.ErrNotFound
}

func (l *fakeLibrary) FindPlaylist(ctx context.Context, name string) (playlist.Playlist, error) {
	if p, ok := l.playlists[name]; ok {
		return p, nil
	}
	return playlist.Playlist{}, library.ErrNotFound
}

func (l *fakeLibrary) ListPlaylists(ctx context.Context) ([]playlist.Summary, error) {
	return l.summaries, l.err
}

// fakeVoice maps user IDs to voice channels.
type fakeVoice map[string]string

func (v fakeVoice) VoiceChannel(ctx context.Context, guildID, userID string) (string, error) {
	if ch, ok := v[userID]; ok {
		return ch, nil
	}
	return "", ErrNotInVoice
}

type fakeConn struct {
	mu         sync.Mutex
	played     []string
	onComplete func(error)
}

func (f *fakeConn) Play(source string, onComplete func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, source)
	f.onComplete = onComplete
	return nil
}

func (f *fakeConn) Stop() error {
	f.complete(nil)
	return nil
}

func (f *fakeConn) Pause() error      { return nil }
func (f *fakeConn) Resume() error     { return nil }
func (f *fakeConn) IsPlaying() bool   { return true }
func (f *fakeConn) Disconnect() error { return nil }

func (f *fakeConn) complete(err error) {
	f.mu.Lock()
	cb := f.onComplete
	f.onComplete = nil
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (f *fakeConn) Played() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.played...)
}

type fakeSink struct {
	mu       sync.Mutex
	conn     *fakeConn
	err      error
	connects int
}

func (s *fakeSink) Connect(ctx context.Context, ep playback.Endpoint) (playback.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.connects++
	return s.conn, nil
}

func (s *fakeSink) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

type fakeNotifier struct {
	mu     sync.Mutex
	ops    []string
	nextID int
}

func (n *fakeNotifier) Post(ctx context.Context, notice playback.Notice) (playback.MessageHandle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := fmt.Sprintf("m%d", n.nextID)
	subject := notice.Track.ID
	if notice.Heading != "" {
		subject = fmt.Sprintf("%s(%d)", notice.Heading, notice.Count)
	}
	n.ops = append(n.ops, fmt.Sprintf("post:%s:%s", notice.Kind, subject))
	return playback.MessageHandle{ChannelID: notice.ChannelID, MessageID: id}, nil
}

func (n *fakeNotifier) Retract(ctx context.Context, h playback.MessageHandle) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ops = append(n.ops, "retract:"+h.MessageID)
	return nil
}

func (n *fakeNotifier) Ops() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ops...)
}

// OpsWithPrefix returns operations starting with prefix.
func (n *fakeNotifier) OpsWithPrefix(prefix string) []string {
	var out []string
	for _, op := range n.Ops() {
		if strings.HasPrefix(op, prefix) {
			out = append(out, op)
		}
	}
	return out
}

type fakeLyrics struct {
	text string
	err  error
}

func (l *fakeLyrics) Find(ctx context.Context, t track.Track) (string, error) {
	return l.text, l.err
}

type catalog map[string]string

func (c catalog) GetMessage(code string) string {
	if msg, ok := c[code]; ok {
		return msg
	}
	return "error: " + code
}

var errBackend = errors.New("backend down")
