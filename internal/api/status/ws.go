package status

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/olahol/melody"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/plexbox/internal/app/notification"
)

const (
	subscriptionKey = "subscription_id"
	initialState    = "initial_state"
)

// wsStream forwards notifications to one websocket client.
type wsStream struct {
	s *melody.Session
}

func (w *wsStream) Send(n *notification.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "failed to encode notification")
	}
	return w.s.Write(data)
}

// setupWs subscribes every websocket client to the notification hub.
// The optional guild_id query parameter narrows the stream to one guild.
func (s *Server) setupWs() {
	s.ws.HandleConnect(func(ms *melody.Session) {
		guildID := ms.Request.URL.Query().Get("guild_id")
		stream := &wsStream{s: ms}

		// Current state first, like a fresh subscriber would see it.
		for _, n := range s.snapshot(guildID) {
			if err := stream.Send(n); err != nil {
				zlog.Debug().Msgf("failed to send initial state: err=%v", err)
				return
			}
		}

		if s.hub == nil {
			return
		}
		id := s.hub.Subscribe(guildID, stream)
		ms.Set(subscriptionKey, id)
		zlog.Debug().Msgf("websocket subscribed: subscription_id=%s guild_id=%s", id, guildID)
	})

	s.ws.HandleDisconnect(func(ms *melody.Session) {
		v, ok := ms.Get(subscriptionKey)
		if !ok || s.hub == nil {
			return
		}
		id, _ := v.(string)
		s.hub.Unsubscribe(id)
		zlog.Debug().Msgf("websocket unsubscribed: subscription_id=%s", id)
	})

	// ping command for heartbeat operation
	s.ws.HandleMessage(func(ms *melody.Session, msg []byte) {
		if bytes.Equal(bytes.TrimSpace(msg), []byte("ping")) {
			if err := ms.Write([]byte("pong")); err != nil {
				zlog.Debug().Msgf("failed to send pong: err=%v", err)
			}
		}
	})
}

// snapshot builds initial state notifications for the selected guilds.
func (s *Server) snapshot(guildID string) []*notification.Notification {
	guilds := []string{guildID}
	if guildID == "" {
		guilds = s.sessions.Guilds()
	}

	var out []*notification.Notification
	for _, id := range guilds {
		m, ok := s.sessions.Lookup(id)
		if !ok {
			continue
		}
		st := m.Status()
		n := &notification.Notification{
			Type:    initialState,
			GuildID: id,
			State:   st.State.String(),
			Time:    time.Now(),
		}
		if s.hub != nil {
			n.SequenceNo = s.hub.NextSequenceNo()
		}
		if st.Current != nil {
			n.Track = notification.NewTrackInfo(*st.Current)
		}
		out = append(out, n)
	}
	return out
}
