package status

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/osa030/plexbox/internal/app/notification"
)

// GuildSummary describes one guild session.
type GuildSummary struct {
	GuildID     string    `json:"guild_id"`
	SessionID   string    `json:"session_id"`
	State       string    `json:"state"`
	QueueLength int       `json:"queue_length"`
	StartedAt   time.Time `json:"started_at"`
}

// GuildsResponse lists guild sessions.
type GuildsResponse struct {
	Guilds []GuildSummary `json:"guilds"`
}

func (*GuildsResponse) Render(w http.ResponseWriter, r *http.Request) error { return nil }

// StatusResponse is the playback status of one guild.
type StatusResponse struct {
	GuildID         string                  `json:"guild_id"`
	SessionID       string                  `json:"session_id"`
	State           string                  `json:"state"`
	Looping         bool                    `json:"looping"`
	VoiceChannelID  string                  `json:"voice_channel_id,omitempty"`
	Current         *notification.TrackInfo `json:"current,omitempty"`
	QueueLength     int                     `json:"queue_length"`
	QueueDurationMs int64                   `json:"queue_duration_ms"`
}

func (*StatusResponse) Render(w http.ResponseWriter, r *http.Request) error { return nil }

// QueueResponse is the pending queue of one guild.
type QueueResponse struct {
	GuildID         string                    `json:"guild_id"`
	Items           []*notification.TrackInfo `json:"items"`
	TotalDurationMs int64                     `json:"total_duration_ms"`
}

func (*QueueResponse) Render(w http.ResponseWriter, r *http.Request) error { return nil }

// HistoryEntry is one past play.
type HistoryEntry struct {
	Title         string    `json:"title"`
	Artist        string    `json:"artist"`
	Album         string    `json:"album"`
	RequesterName string    `json:"requester_name"`
	PlayedAt      time.Time `json:"played_at"`
	Ago           string    `json:"ago"`
}

// HistoryResponse lists the latest plays of one guild.
type HistoryResponse struct {
	GuildID string         `json:"guild_id"`
	Entries []HistoryEntry `json:"entries"`
}

func (*HistoryResponse) Render(w http.ResponseWriter, r *http.Request) error { return nil }

// ErrResponse is the body of a failed request.
type ErrResponse struct {
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	ErrorText      string `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

// ErrNotFound reports a guild without a session.
func ErrNotFound(guildID string) render.Renderer {
	return &ErrResponse{
		HTTPStatusCode: http.StatusNotFound,
		StatusText:     "Not found.",
		ErrorText:      "no session for guild " + guildID,
	}
}

// ErrInvalidRequest reports a bad query parameter.
func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{
		HTTPStatusCode: http.StatusBadRequest,
		StatusText:     "Invalid request.",
		ErrorText:      err.Error(),
	}
}

// ErrInternal reports a backend failure.
func ErrInternal(err error) render.Renderer {
	return &ErrResponse{
		HTTPStatusCode: http.StatusInternalServerError,
		StatusText:     "Internal error.",
		ErrorText:      err.Error(),
	}
}
