// Package notification provides the notification manager for broadcasting events.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/plexbox/internal/app/playback"
	"github.com/osa030/plexbox/internal/domain/track"
)

const sendTimeout = 500 * time.Millisecond

// TrackInfo is the wire form of a queued track.
type TrackInfo struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Artist        string `json:"artist"`
	Album         string `json:"album"`
	DurationMs    int64  `json:"duration_ms"`
	RequesterID   string `json:"requester_id"`
	RequesterName string `json:"requester_name"`
	RequesterType string `json:"requester_type"`
}

// NewTrackInfo converts a queued track to its wire form.
func NewTrackInfo(qt track.QueuedTrack) *TrackInfo {
	return &TrackInfo{
		ID:            qt.Track.ID,
		Title:         qt.Track.Title,
		Artist:        qt.Track.Artist,
		Album:         qt.Track.Album,
		DurationMs:    qt.Track.Duration.Milliseconds(),
		RequesterID:   qt.Requester.ID,
		RequesterName: qt.Requester.Name,
		RequesterType: string(qt.Requester.Type),
	}
}

// Notification is one broadcast playback event.
type Notification struct {
	SequenceNo uint64     `json:"sequence_no"`
	Type       string     `json:"type"`
	GuildID    string     `json:"guild_id"`
	State      string     `json:"state"`
	Track      *TrackInfo `json:"track,omitempty"`
	Error      string     `json:"error,omitempty"`
	Time       time.Time  `json:"time"`
}

// FromEvent builds the notification for a guild's playback event.
func FromEvent(guildID string, e playback.Event) *Notification {
	n := &Notification{
		Type:    e.Type.String(),
		GuildID: guildID,
		State:   e.State.String(),
		Time:    time.Now(),
	}
	if e.Track != nil {
		n.Track = NewTrackInfo(*e.Track)
	}
	if e.Err != nil {
		n.Error = e.Err.Error()
	}
	return n
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id      string
	guildID string // empty receives every guild
	stream  Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
// An empty guildID subscribes to all guilds.
func (m *Manager) Subscribe(guildID string, stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:      id,
		guildID: guildID,
		stream:  stream,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// NextSequenceNo returns the next sequence number and increments the counter.
func (m *Manager) NextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Broadcast sends a notification to every subscriber of its guild.
// Each stream send is done in a goroutine with a timeout to prevent blocking.
func (m *Manager) Broadcast(n *Notification) {
	n.SequenceNo = m.NextSequenceNo()

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		if sub.guildID == "" || sub.guildID == n.GuildID {
			subs = append(subs, sub)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(n)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Msgf("notification send failed, unsubscribing: subscription_id=%s err=%v", s.id, err)
					m.Unsubscribe(s.id)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification send timed out: subscription_id=%s", s.id)
			}
		}(sub)
	}

	wg.Wait()
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
