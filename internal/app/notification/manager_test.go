package notification

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/plexbox/internal/app/playback"
	"github.com/osa030/plexbox/internal/domain/track"
)

type recordingStream struct {
	mu       sync.Mutex
	received []*Notification
	err      error
	delay    time.Duration
}

func (s *recordingStream) Send(n *Notification) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.received = append(s.received, n)
	return nil
}

func (s *recordingStream) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func TestManager_BroadcastByGuild(t *testing.T) {
	m := NewManager()
	all := &recordingStream{}
	guildA := &recordingStream{}
	guildB := &recordingStream{}

	m.Subscribe("", all)
	m.Subscribe("a", guildA)
	m.Subscribe("b", guildB)
	require.Equal(t, 3, m.SubscriberCount())

	m.Broadcast(&Notification{Type: "track_started", GuildID: "a"})
	m.Broadcast(&Notification{Type: "track_ended", GuildID: "a"})

	assert.Equal(t, 2, all.count())
	assert.Equal(t, 2, guildA.count())
	assert.Equal(t, 0, guildB.count())
	assert.Equal(t, uint64(1), guildA.received[0].SequenceNo)
	assert.Equal(t, uint64(2), guildA.received[1].SequenceNo)
}

func TestManager_FailingStreamIsDropped(t *testing.T) {
	m := NewManager()
	m.Subscribe("", &recordingStream{err: errors.New("closed")})
	ok := &recordingStream{}
	m.Subscribe("", ok)

	m.Broadcast(&Notification{Type: "state_changed"})

	assert.Equal(t, 1, m.SubscriberCount())
	assert.Equal(t, 1, ok.count())
}

func TestManager_SlowStreamDoesNotBlock(t *testing.T) {
	m := NewManager()
	m.Subscribe("", &recordingStream{delay: 2 * time.Second})

	start := time.Now()
	m.Broadcast(&Notification{Type: "state_changed"})
	assert.Less(t, time.Since(start), time.Second)
}

func TestManager_UnsubscribeAndClose(t *testing.T) {
	m := NewManager()
	s := &recordingStream{}
	id := m.Subscribe("", s)
	m.Subscribe("", &recordingStream{})

	m.Unsubscribe(id)
	m.Broadcast(&Notification{Type: "state_changed"})
	assert.Equal(t, 0, s.count())

	m.Close()
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestFromEvent(t *testing.T) {
	qt := track.QueuedTrack{
		Track:     track.Track{ID: "1", Title: "So What", Artist: "Miles Davis", Duration: 9 * time.Minute},
		Requester: track.Requester{ID: "u1", Name: "alice", Type: track.RequesterTypeUser},
	}

	n := FromEvent("g1", playback.Event{Type: playback.EventTrackFailed, Track: &qt, State: playback.StateAwaitingNext, Err: errors.New("boom")})
	assert.Equal(t, "track_failed", n.Type)
	assert.Equal(t, "g1", n.GuildID)
	assert.Equal(t, "awaiting_next", n.State)
	assert.Equal(t, "boom", n.Error)
	require.NotNil(t, n.Track)
	assert.Equal(t, int64(540000), n.Track.DurationMs)
	assert.Equal(t, "USER", n.Track.RequesterType)

	n = FromEvent("g1", playback.Event{Type: playback.EventDisconnected, State: playback.StateIdle})
	assert.Nil(t, n.Track)
	assert.Empty(t, n.Error)
}
