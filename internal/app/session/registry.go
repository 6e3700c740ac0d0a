package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/plexbox/internal/app/notification"
	"github.com/osa030/plexbox/internal/app/playback"
	"github.com/osa030/plexbox/internal/domain/track"
)

// ErrRegistryClosed is returned once the registry has been closed.
var ErrRegistryClosed = errors.New("session registry closed")

const recordTimeout = 5 * time.Second

// Registry holds one independent session per guild.
type Registry struct {
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Manager
	closed   bool
}

// NewRegistry creates a new session registry.
func NewRegistry(deps Deps) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Manager),
	}
}

// Get returns the guild's session, starting it on first use.
func (r *Registry) Get(guildID string) (*Manager, error) {
	r.mu.RLock()
	m, ok := r.sessions[guildID]
	closed := r.closed
	r.mu.RUnlock()
	if ok {
		return m, nil
	}
	if closed {
		return nil, ErrRegistryClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if m, ok := r.sessions[guildID]; ok {
		return m, nil
	}

	m = newManager(uuid.New().String(), guildID, r.deps)
	r.sessions[guildID] = m

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		if err := m.controller.Run(r.ctx); err != nil {
			zlog.Error().Msgf("playback loop exited: guild_id=%s err=%v", guildID, err)
		}
	}()
	go func() {
		defer r.wg.Done()
		r.consume(m)
	}()

	zlog.Info().Msgf("session started: guild_id=%s session_id=%s", guildID, m.sessionID)
	return m, nil
}

// Lookup returns the guild's session if it exists.
func (r *Registry) Lookup(guildID string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.sessions[guildID]
	return m, ok
}

// Guilds returns the IDs of guilds with a session, sorted.
func (r *Registry) Guilds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close stops every session and waits for their loops to exit.
// Voice connections are released on the way out.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	zlog.Info().Msg("all sessions closed")
}

// consume forwards playback events to history and subscribers until the
// controller stops.
func (r *Registry) consume(m *Manager) {
	defer func() {
		if rec := recover(); rec != nil {
			zlog.Error().Msgf("event consumer panicked: guild_id=%s panic=%v", m.guildID, rec)
		}
	}()

	events := m.controller.Events()
	for {
		select {
		case e := <-events:
			r.handleEvent(m, e)
		case <-m.controller.Done():
			// Drain what the loop emitted while shutting down.
			for {
				select {
				case e := <-events:
					r.handleEvent(m, e)
				default:
					return
				}
			}
		}
	}
}

func (r *Registry) handleEvent(m *Manager, e playback.Event) {
	zlog.Debug().Msgf("playback event: guild_id=%s type=%s state=%s", m.guildID, e.Type, e.State)

	if e.Type == playback.EventTrackStarted && e.Track != nil && r.deps.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		err := r.deps.History.Record(ctx, track.PlayRecord{
			GuildID:   m.guildID,
			Track:     e.Track.Track,
			Requester: e.Track.Requester,
			PlayedAt:  time.Now(),
		})
		cancel()
		if err != nil {
			zlog.Warn().Msgf("failed to record play: guild_id=%s err=%v", m.guildID, err)
		}
	}

	if r.deps.Hub != nil {
		r.deps.Hub.Broadcast(notification.FromEvent(m.guildID, e))
	}
}
