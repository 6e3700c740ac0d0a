// Package status serves a read-only HTTP API over guild sessions and
// streams playback events over a websocket.
package status

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/olahol/melody"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/plexbox/internal/app/notification"
	"github.com/osa030/plexbox/internal/app/session"
)

const (
	RequestTimeout      = 30 * time.Second
	shutdownTimeout     = 5 * time.Second
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// Sessions exposes the guild sessions to the API.
type Sessions interface {
	Guilds() []string
	Lookup(guildID string) (*session.Manager, bool)
}

// Config holds the API settings.
type Config struct {
	Addr           string
	AllowedOrigins []string
}

// Server is the status HTTP server.
type Server struct {
	cfg      Config
	sessions Sessions
	hub      *notification.Manager
	ws       *melody.Melody
	router   chi.Router
}

// New creates a new status server.
func New(cfg Config, sessions Sessions, hub *notification.Manager) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		hub:      hub,
		ws:       melody.New(),
	}
	s.router = s.routes()
	s.setupWs()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://*", "https://*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Use(middleware.Timeout(RequestTimeout))
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/guilds", s.handleGuilds)
		r.Route("/guilds/{guildID}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/queue", s.handleQueue)
			r.Get("/history", s.handleHistory)
		})
	})

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := s.ws.HandleRequest(w, r); err != nil {
			zlog.Error().Msgf("failed to handle websocket request: err=%v", err)
		}
	})
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("status API listening: addr=%s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "status API failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.ws.Close(); err != nil {
		zlog.Warn().Msgf("failed to close websocket hub: err=%v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down status API")
	}
	zlog.Info().Msg("status API stopped")
	return nil
}

func (s *Server) handleGuilds(w http.ResponseWriter, r *http.Request) {
	resp := &GuildsResponse{Guilds: make([]GuildSummary, 0)}
	for _, id := range s.sessions.Guilds() {
		m, ok := s.sessions.Lookup(id)
		if !ok {
			continue
		}
		resp.Guilds = append(resp.Guilds, GuildSummary{
			GuildID:     id,
			SessionID:   m.SessionID(),
			State:       m.Status().State.String(),
			QueueLength: m.Controller().Len(),
			StartedAt:   m.StartedAt(),
		})
	}
	s.respond(w, r, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookup(w, r)
	if !ok {
		return
	}

	st := m.Status()
	queue := m.Queue()
	resp := &StatusResponse{
		GuildID:        m.GuildID(),
		SessionID:      m.SessionID(),
		State:          st.State.String(),
		Looping:        st.Looping,
		VoiceChannelID: st.Endpoint.ChannelID,
		QueueLength:    len(queue),
	}
	if st.Current != nil {
		resp.Current = notification.NewTrackInfo(*st.Current)
	}
	for _, qt := range queue {
		resp.QueueDurationMs += qt.Track.Duration.Milliseconds()
	}
	s.respond(w, r, resp)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookup(w, r)
	if !ok {
		return
	}

	queue := m.Queue()
	resp := &QueueResponse{
		GuildID: m.GuildID(),
		Items:   make([]*notification.TrackInfo, 0, len(queue)),
	}
	for _, qt := range queue {
		resp.Items = append(resp.Items, notification.NewTrackInfo(qt))
		resp.TotalDurationMs += qt.Track.Duration.Milliseconds()
	}
	s.respond(w, r, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookup(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			s.fail(w, r, ErrInvalidRequest(errors.Newf("limit must be between 1 and %d", maxHistoryLimit)))
			return
		}
		limit = n
	}

	entries, err := m.Recent(r.Context(), limit)
	if err != nil {
		zlog.Error().Msgf("failed to read history: guild_id=%s err=%v", m.GuildID(), err)
		s.fail(w, r, ErrInternal(err))
		return
	}

	now := time.Now()
	resp := &HistoryResponse{GuildID: m.GuildID(), Entries: make([]HistoryEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, HistoryEntry{
			Title:         e.Track.Title,
			Artist:        e.Track.Artist,
			Album:         e.Track.Album,
			RequesterName: e.Requester.Name,
			PlayedAt:      e.PlayedAt,
			Ago:           humanize.RelTime(e.PlayedAt, now, "ago", "from now"),
		})
	}
	s.respond(w, r, resp)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Manager, bool) {
	guildID := chi.URLParam(r, "guildID")
	m, ok := s.sessions.Lookup(guildID)
	if !ok {
		s.fail(w, r, ErrNotFound(guildID))
		return nil, false
	}
	return m, true
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, v render.Renderer) {
	if err := render.Render(w, r, v); err != nil {
		zlog.Error().Msgf("failed to encode response: path=%s err=%v", r.URL.Path, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, v render.Renderer) {
	if err := render.Render(w, r, v); err != nil {
		zlog.Error().Msgf("failed to encode error: path=%s err=%v", r.URL.Path, err)
	}
}
