// Package session provides the per-guild command surface over playback.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/plexbox/internal/app/filter"
	"github.com/osa030/plexbox/internal/app/library"
	"github.com/osa030/plexbox/internal/app/notification"
	"github.com/osa030/plexbox/internal/app/playback"
	"github.com/osa030/plexbox/internal/app/presenter"
	"github.com/osa030/plexbox/internal/domain/playlist"
	"github.com/osa030/plexbox/internal/domain/track"
)

// ErrNotInVoice is returned by a VoiceLocator when the user is not in a voice channel.
var ErrNotInVoice = errors.New("user is not in a voice channel")

const (
	defaultQueueDisplayLimit = 10
	defaultHistoryLimit      = 10
	noticeTimeout            = 10 * time.Second
)

// VoiceLocator finds the voice channel a user is connected to.
type VoiceLocator interface {
	VoiceChannel(ctx context.Context, guildID, userID string) (string, error)
}

// History records and lists played tracks.
type History interface {
	Record(ctx context.Context, e track.PlayRecord) error
	Recent(ctx context.Context, guildID string, limit int) ([]track.PlayRecord, error)
}

// MessageCatalog resolves reply codes to user-facing text.
type MessageCatalog interface {
	GetMessage(code string) string
}

// Deps holds the collaborators shared by every guild session.
type Deps struct {
	Library  library.Library
	Lyrics   library.Lyrics // nil disables the lyrics command
	History  History        // nil disables the history command
	Voice    VoiceLocator
	Filters  *filter.Chain // nil accepts every request
	Messages MessageCatalog
	Sink     playback.VoiceSink
	Notifier playback.Notifier
	Hub      *notification.Manager // nil disables event broadcasting

	Playback          playback.Config
	QueueDisplayLimit int
	HistoryLimit      int
}

// Caller identifies who issued a command and where.
type Caller struct {
	UserID    string
	Name      string
	ChannelID string // Text channel the command came from
}

// Manager is the command surface of one guild.
type Manager struct {
	sessionID  string
	guildID    string
	startedAt  time.Time
	controller *playback.Controller
	deps       Deps

	mu      sync.Mutex
	listing []playback.MessageHandle // Last queue listing
}

func newManager(sessionID, guildID string, deps Deps) *Manager {
	cfg := deps.Playback
	cfg.GuildID = guildID
	return &Manager{
		sessionID:  sessionID,
		guildID:    guildID,
		startedAt:  time.Now(),
		controller: playback.NewController(cfg, deps.Sink, deps.Notifier),
		deps:       deps,
	}
}

// SessionID returns the session ID.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// GuildID returns the guild this session serves.
func (m *Manager) GuildID() string {
	return m.guildID
}

// StartedAt returns when the session was created.
func (m *Manager) StartedAt() time.Time {
	return m.startedAt
}

// Controller returns the playback controller.
func (m *Manager) Controller() *playback.Controller {
	return m.controller
}

// Status returns the playback status.
func (m *Manager) Status() playback.Status {
	return m.controller.Status()
}

// Queue returns the pending queue.
func (m *Manager) Queue() []track.QueuedTrack {
	return m.controller.Snapshot()
}

// Recent returns the guild's latest plays.
func (m *Manager) Recent(ctx context.Context, limit int) ([]track.PlayRecord, error) {
	if m.deps.History == nil {
		return nil, nil
	}
	return m.deps.History.Recent(ctx, m.guildID, limit)
}

// Play searches a track and starts or queues it.
func (m *Manager) Play(ctx context.Context, caller Caller, title string) Outcome {
	t, err := m.deps.Library.FindTrack(ctx, title)
	if err != nil {
		return m.searchFailed(err, "song", title)
	}

	ep, out, ok := m.locate(ctx, caller)
	if !ok {
		return out
	}

	req := filter.TrackRequest{GuildID: m.guildID, RequesterID: caller.UserID, RequesterType: track.RequesterTypeUser}
	if result := m.check(ctx, req, t, m.controller); !result.Accepted {
		return m.rejected(result.Code, &t)
	}

	qt := m.queued(caller, t, track.RequesterTypeUser)
	active, err := m.controller.Submit(ctx, ep, []track.QueuedTrack{qt}, nil)
	if err != nil {
		return m.joinFailed(ep, err)
	}
	if active {
		zlog.Info().Msgf("track queued: guild_id=%s track=%q requester=%s", m.guildID, t.String(), caller.Name)
		return Outcome{Kind: OutcomeQueued, Track: &t, Count: 1}
	}
	zlog.Info().Msgf("track requested: guild_id=%s track=%q requester=%s", m.guildID, t.String(), caller.Name)
	return Outcome{Kind: OutcomeStarted, Track: &t, Count: 1}
}

// Album searches an album and queues all of its tracks.
func (m *Manager) Album(ctx context.Context, caller Caller, title string) Outcome {
	album, err := m.deps.Library.FindAlbum(ctx, title)
	if err != nil {
		return m.searchFailed(err, "album", title)
	}
	if len(album.Tracks) == 0 {
		return outcome(OutcomeNoOp, fmt.Sprintf("Album %s seems to be empty!", album.Title))
	}

	notice := playback.Notice{Kind: playback.NoticeAlbumQueued, Heading: album.Title}
	return m.enqueueCollection(ctx, caller, album.Tracks, track.RequesterTypeAlbum, notice, album.ThumbURL)
}

// Playlist finds a playlist by name and queues its tracks.
func (m *Manager) Playlist(ctx context.Context, caller Caller, name string) Outcome {
	pl, err := m.deps.Library.FindPlaylist(ctx, name)
	if err != nil {
		return m.searchFailed(err, "playlist", name)
	}
	if len(pl.Tracks) == 0 {
		return outcome(OutcomeNoOp, fmt.Sprintf("Playlist %s seems to be empty!", name))
	}

	notice := playback.Notice{Kind: playback.NoticePlaylistQueued, Heading: pl.Title}
	return m.enqueueCollection(ctx, caller, pl.Tracks, track.RequesterTypePlaylist, notice, pl.ThumbURL)
}

// ListPlaylists lists playlists whose title contains any of the words.
// Playlists without a duration are left out.
func (m *Manager) ListPlaylists(ctx context.Context, words ...string) Outcome {
	all, err := m.deps.Library.ListPlaylists(ctx)
	if err != nil {
		zlog.Error().Msgf("failed to list playlists: guild_id=%s err=%v", m.guildID, err)
		return outcome(OutcomeFailed, m.message("default_error"))
	}

	matched := make([]playlist.Summary, 0, len(all))
	for i := range all {
		if all[i].Duration <= 0 || !all[i].MatchesAny(words) {
			continue
		}
		matched = append(matched, all[i])
	}
	if len(matched) == 0 {
		return outcome(OutcomeNoOp, "No matching playlists.")
	}
	return Outcome{Kind: OutcomeDone, Playlists: matched, Count: len(matched)}
}

// Stop halts playback and leaves the voice channel.
func (m *Manager) Stop(ctx context.Context) Outcome {
	if m.controller.State() == playback.StateIdle {
		return outcome(OutcomeNoOp, "")
	}
	if err := m.controller.Stop(ctx); err != nil {
		return m.controlFailed("stop", err)
	}
	return outcome(OutcomeDone, ":stop_button: Stopped")
}

// Pause pauses playback.
func (m *Manager) Pause(ctx context.Context) Outcome {
	if err := m.controller.Pause(ctx); err != nil {
		return m.controlFailed("pause", err)
	}
	return outcome(OutcomeDone, ":play_pause: Paused")
}

// Resume resumes playback.
func (m *Manager) Resume(ctx context.Context) Outcome {
	if err := m.controller.Resume(ctx); err != nil {
		return m.controlFailed("resume", err)
	}
	return outcome(OutcomeDone, ":play_pause: Resumed")
}

// Loop replays the current track until Unloop or Skip.
func (m *Manager) Loop(ctx context.Context) Outcome {
	if err := m.controller.Loop(ctx); err != nil {
		return m.controlFailed("loop", err)
	}
	out := outcome(OutcomeDone, ":repeat_one: Looping")
	if qt, ok := m.controller.Current(); ok {
		out.Track = &qt.Track
		out.Message += " " + qt.Track.Title
	}
	return out
}

// Unloop disables looping.
func (m *Manager) Unloop(ctx context.Context) Outcome {
	if err := m.controller.Unloop(ctx); err != nil {
		return m.controlFailed("unloop", err)
	}
	return outcome(OutcomeDone, ":arrow_right: Loop disabled")
}

// Skip skips the current track and n-1 queued ones.
func (m *Manager) Skip(ctx context.Context, n int) Outcome {
	if err := m.controller.Skip(ctx, n); err != nil {
		return m.controlFailed("skip", err)
	}
	out := outcome(OutcomeDone, ":track_next: Skipped")
	if n > 1 {
		out.Message = fmt.Sprintf(":track_next: Skipped %d", n)
	}
	out.Count = n
	return out
}

// NowPlaying re-posts the now playing notice into the caller's channel.
func (m *Manager) NowPlaying(ctx context.Context, caller Caller) Outcome {
	if err := m.controller.Reannounce(ctx, caller.ChannelID); err != nil {
		return m.controlFailed("now playing", err)
	}
	qt, _ := m.controller.Current()
	return Outcome{Kind: OutcomeDone, Track: &qt.Track}
}

// ShowQueue replaces the previous queue listing with one notice per queued track.
func (m *Manager) ShowQueue(ctx context.Context, caller Caller) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retractListing(ctx)

	items := m.controller.Snapshot()
	if len(items) == 0 {
		return outcome(OutcomeNoOp, "The queue is empty.")
	}

	limit := m.deps.QueueDisplayLimit
	if limit <= 0 {
		limit = defaultQueueDisplayLimit
	}
	shown := items
	if len(shown) > limit {
		shown = shown[:limit]
	}

	for _, qt := range shown {
		h, err := m.post(ctx, playback.Notice{Kind: playback.NoticeUpNext, ChannelID: caller.ChannelID, Track: qt.Track})
		if err != nil {
			continue
		}
		m.listing = append(m.listing, h)
	}

	var total time.Duration
	for _, qt := range items {
		total += qt.Track.Duration
	}
	return Outcome{
		Kind:    OutcomeDone,
		Message: presenter.QueueOverflow(len(items)-len(shown), total),
		Count:   len(items),
	}
}

// Clear empties the queue.
func (m *Manager) Clear(ctx context.Context) Outcome {
	removed := m.controller.Clear()
	zlog.Info().Msgf("queue cleared: guild_id=%s removed=%d", m.guildID, len(removed))
	return Outcome{Kind: OutcomeDone, Message: ":boom: Queue cleared.", Count: len(removed)}
}

// Lyrics returns the lyrics of the current track as message blocks.
func (m *Manager) Lyrics(ctx context.Context) Outcome {
	if m.deps.Lyrics == nil {
		return outcome(OutcomeNoOp, "Lyrics are disabled.")
	}
	qt, ok := m.controller.Current()
	if !ok {
		return outcome(OutcomeNoOp, "Nothing is playing.")
	}

	text, err := m.deps.Lyrics.Find(ctx, qt.Track)
	if errors.Is(err, library.ErrNotFound) {
		zlog.Info().Msgf("could not find lyrics: track=%q", qt.Track.String())
		return outcome(OutcomeNotFound, "Can't find lyrics for this song.")
	}
	if err != nil {
		zlog.Error().Msgf("lyrics lookup failed: track=%q err=%v", qt.Track.String(), err)
		return outcome(OutcomeFailed, m.message("default_error"))
	}

	blocks := presenter.LyricsBlocks(text)
	if len(blocks) == 0 {
		return outcome(OutcomeNotFound, "Can't find lyrics for this song.")
	}
	return Outcome{Kind: OutcomeDone, Track: &qt.Track, Lines: blocks, Count: len(blocks)}
}

// History lists the latest plays of this guild.
func (m *Manager) History(ctx context.Context, n int) Outcome {
	if m.deps.History == nil {
		return outcome(OutcomeNoOp, "History is disabled.")
	}
	if n <= 0 {
		n = m.deps.HistoryLimit
	}
	if n <= 0 {
		n = defaultHistoryLimit
	}

	entries, err := m.deps.History.Recent(ctx, m.guildID, n)
	if err != nil {
		zlog.Error().Msgf("failed to read history: guild_id=%s err=%v", m.guildID, err)
		return outcome(OutcomeFailed, m.message("default_error"))
	}
	if len(entries) == 0 {
		return outcome(OutcomeNoOp, "Nothing has been played yet.")
	}

	now := time.Now()
	lines := make([]string, 0, len(entries))
	for i, e := range entries {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, e.Describe(now)))
	}
	return Outcome{Kind: OutcomeDone, Lines: lines, Count: len(lines)}
}

func (m *Manager) enqueueCollection(ctx context.Context, caller Caller, tracks []track.Track, typ track.RequesterType, notice playback.Notice, thumbURL string) Outcome {
	ep, out, ok := m.locate(ctx, caller)
	if !ok {
		return out
	}

	req := filter.TrackRequest{GuildID: m.guildID, RequesterID: caller.UserID, RequesterType: typ}
	view := &pendingView{QueueView: m.controller}
	var firstCode string
	for _, t := range tracks {
		result := m.check(ctx, req, t, view)
		if !result.Accepted {
			if firstCode == "" {
				firstCode = result.Code
			}
			continue
		}
		view.pending = append(view.pending, m.queued(caller, t, typ))
	}
	if len(view.pending) == 0 {
		return m.rejected(firstCode, nil)
	}

	notice.ChannelID = caller.ChannelID
	notice.Track = view.pending[0].Track
	if thumbURL != "" {
		notice.Track.ThumbURL = thumbURL
	}
	notice.Count = len(view.pending)

	active, err := m.controller.Submit(ctx, ep, view.pending, &notice)
	if err != nil {
		return m.joinFailed(ep, err)
	}
	kind := OutcomeStarted
	if active {
		kind = OutcomeQueued
	}
	zlog.Info().Msgf("collection queued: guild_id=%s type=%s title=%q count=%d skipped=%d",
		m.guildID, typ, notice.Heading, len(view.pending), len(tracks)-len(view.pending))
	return Outcome{Kind: kind, Count: len(view.pending)}
}

// locate finds the caller's voice channel. Nothing is joined yet.
func (m *Manager) locate(ctx context.Context, caller Caller) (playback.Endpoint, Outcome, bool) {
	channelID, err := m.deps.Voice.VoiceChannel(ctx, m.guildID, caller.UserID)
	if err != nil {
		if errors.Is(err, ErrNotInVoice) {
			zlog.Debug().Msgf("requester not in voice channel: guild_id=%s user_id=%s", m.guildID, caller.UserID)
			return playback.Endpoint{}, outcome(OutcomeNotInVoice, m.message("not_in_voice")), false
		}
		zlog.Error().Msgf("failed to locate voice channel: guild_id=%s err=%v", m.guildID, err)
		return playback.Endpoint{}, outcome(OutcomeFailed, m.message("default_error")), false
	}
	return playback.Endpoint{GuildID: m.guildID, ChannelID: channelID}, Outcome{}, true
}

func (m *Manager) joinFailed(ep playback.Endpoint, err error) Outcome {
	zlog.Error().Msgf("failed to join voice channel: guild_id=%s channel_id=%s err=%v", m.guildID, ep.ChannelID, err)
	return outcome(OutcomeFailed, "Can't connect to your voice channel.")
}

func (m *Manager) check(ctx context.Context, req filter.TrackRequest, t track.Track, q filter.QueueView) filter.Result {
	if m.deps.Filters == nil {
		return filter.Accept()
	}
	return m.deps.Filters.Execute(ctx, req, t, q)
}

func (m *Manager) queued(caller Caller, t track.Track, typ track.RequesterType) track.QueuedTrack {
	return track.QueuedTrack{
		Track:     t,
		Requester: track.Requester{ID: caller.UserID, Name: caller.Name, Type: typ},
		AddedAt:   time.Now(),
		ChannelID: caller.ChannelID,
	}
}

func (m *Manager) rejected(code string, t *track.Track) Outcome {
	zlog.Info().Msgf("request rejected: guild_id=%s code=%s", m.guildID, code)
	return Outcome{Kind: OutcomeRejected, Code: code, Message: m.message(code), Track: t}
}

func (m *Manager) searchFailed(err error, kind, query string) Outcome {
	if errors.Is(err, library.ErrNotFound) {
		zlog.Debug().Msgf("library search missed: kind=%s query=%q", kind, query)
		return outcome(OutcomeNotFound, fmt.Sprintf("Can't find %s: %s", kind, query))
	}
	zlog.Error().Msgf("library search failed: kind=%s query=%q err=%v", kind, query, err)
	return outcome(OutcomeFailed, m.message("default_error"))
}

func (m *Manager) controlFailed(op string, err error) Outcome {
	switch {
	case errors.Is(err, playback.ErrNoTrack), errors.Is(err, playback.ErrNotPlaying):
		return outcome(OutcomeNoOp, "Nothing is playing.")
	case errors.Is(err, playback.ErrNotPaused):
		return outcome(OutcomeNoOp, "Playback is not paused.")
	case errors.Is(err, playback.ErrAlreadyPaused):
		return outcome(OutcomeNoOp, "Playback is already paused.")
	case errors.Is(err, playback.ErrNotLooping):
		return outcome(OutcomeNoOp, "Not looping.")
	}
	zlog.Error().Msgf("command failed: guild_id=%s op=%s err=%v", m.guildID, op, err)
	return outcome(OutcomeFailed, m.message("default_error"))
}

func (m *Manager) post(ctx context.Context, n playback.Notice) (playback.MessageHandle, error) {
	if m.deps.Notifier == nil || n.ChannelID == "" {
		return playback.MessageHandle{}, errors.New("no notifier")
	}
	nctx, cancel := context.WithTimeout(ctx, noticeTimeout)
	defer cancel()

	h, err := m.deps.Notifier.Post(nctx, n)
	if err != nil {
		zlog.Warn().Msgf("failed to post notice: guild_id=%s kind=%s err=%v", m.guildID, n.Kind, err)
	}
	return h, err
}

// retractListing removes the previous queue listing. Caller holds m.mu.
func (m *Manager) retractListing(ctx context.Context) {
	if m.deps.Notifier == nil {
		m.listing = nil
		return
	}
	for _, h := range m.listing {
		if err := m.deps.Notifier.Retract(ctx, h); err != nil {
			zlog.Debug().Msgf("failed to retract queue listing: message_id=%s gone=%t err=%v",
				h.MessageID, errors.Is(err, playback.ErrMessageGone), err)
		}
	}
	m.listing = nil
}

func (m *Manager) message(code string) string {
	if m.deps.Messages == nil {
		return code
	}
	return m.deps.Messages.GetMessage(code)
}

// pendingView extends a queue view with tracks accepted but not yet enqueued.
type pendingView struct {
	filter.QueueView
	pending []track.QueuedTrack
}

func (v *pendingView) Snapshot() []track.QueuedTrack {
	return append(v.QueueView.Snapshot(), v.pending...)
}

func (v *pendingView) Len() int {
	return v.QueueView.Len() + len(v.pending)
}
