package discord

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/osa030/plexbox/internal/app/presenter"
	"github.com/osa030/plexbox/internal/app/session"
)

const (
	defaultCleanupLimit = 250
	maxMessageLength    = 2000
)

var errBadArgs = errors.New("bad command arguments")

var usages = map[string]string{
	"play":     "play <SONG_NAME>",
	"album":    "album <ALBUM_NAME>",
	"playlist": "playlist <PLAYLIST_NAME>",
	"skip":     "skip [n]",
	"history":  "history [n]",
	"cleanup":  "cleanup [limit]",
}

// Command is a parsed prefix command.
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits a message into a command when it starts with prefix.
func ParseCommand(prefix, content string) (Command, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return Command{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

// Text returns the arguments joined back into one string.
func (c Command) Text() string {
	return strings.Join(c.Args, " ")
}

// Sessions hands out the per-guild command surface.
type Sessions interface {
	Get(guildID string) (*session.Manager, error)
}

// Purger deletes recent chat noise in a channel.
type Purger interface {
	Purge(ctx context.Context, channelID, userID string, limit int) (int, error)
}

// reply is one outgoing message: plain text or a card.
type reply struct {
	Text  string
	Card  *presenter.Card
	Thumb string // Art to attach to the card
}

// result is what the router wants done after a command.
type result struct {
	replies  []reply
	shutdown bool
}

type sessionHandler func(ctx context.Context, m *session.Manager, caller session.Caller, cmd Command) (session.Outcome, error)

// router maps commands onto sessions and renders their outcomes.
type router struct {
	prefix   string
	sessions Sessions
	purger   Purger
	isAdmin  func(userID string) bool
	log      zerolog.Logger

	handlers map[string]sessionHandler
}

func newRouter(prefix string, sessions Sessions, purger Purger, isAdmin func(string) bool, log zerolog.Logger) *router {
	r := &router{
		prefix:   prefix,
		sessions: sessions,
		purger:   purger,
		isAdmin:  isAdmin,
		log:      log,
	}
	r.handlers = map[string]sessionHandler{
		"play": requireText(func(ctx context.Context, m *session.Manager, c session.Caller, text string) session.Outcome {
			return m.Play(ctx, c, text)
		}),
		"album": requireText(func(ctx context.Context, m *session.Manager, c session.Caller, text string) session.Outcome {
			return m.Album(ctx, c, text)
		}),
		"playlist": requireText(func(ctx context.Context, m *session.Manager, c session.Caller, text string) session.Outcome {
			return m.Playlist(ctx, c, text)
		}),
		"show_playlists": func(ctx context.Context, m *session.Manager, c session.Caller, cmd Command) (session.Outcome, error) {
			return m.ListPlaylists(ctx, cmd.Args...), nil
		},
		"np": func(ctx context.Context, m *session.Manager, c session.Caller, cmd Command) (session.Outcome, error) {
			return m.NowPlaying(ctx, c), nil
		},
		"q": func(ctx context.Context, m *session.Manager, c session.Caller, cmd Command) (session.Outcome, error) {
			return m.ShowQueue(ctx, c), nil
		},
		"stop":   control((*session.Manager).Stop),
		"pause":  control((*session.Manager).Pause),
		"resume": control((*session.Manager).Resume),
		"loop":   control((*session.Manager).Loop),
		"unloop": control((*session.Manager).Unloop),
		"clear":  control((*session.Manager).Clear),
		"lyrics": control((*session.Manager).Lyrics),
		"skip": func(ctx context.Context, m *session.Manager, c session.Caller, cmd Command) (session.Outcome, error) {
			n, err := optionalInt(cmd.Args, 1)
			if err != nil {
				return session.Outcome{}, err
			}
			return m.Skip(ctx, n), nil
		},
		"history": func(ctx context.Context, m *session.Manager, c session.Caller, cmd Command) (session.Outcome, error) {
			n, err := optionalInt(cmd.Args, 0)
			if err != nil {
				return session.Outcome{}, err
			}
			return m.History(ctx, n), nil
		},
	}
	return r
}

// handle runs one command. Unknown commands are ignored.
func (r *router) handle(ctx context.Context, guildID string, caller session.Caller, cmd Command) result {
	switch cmd.Name {
	case "help":
		return result{replies: []reply{{Text: presenter.HelpText(r.prefix)}}}
	case "kill":
		return r.kill(caller, cmd)
	case "cleanup":
		return r.cleanup(ctx, caller, cmd)
	}

	h, ok := r.handlers[cmd.Name]
	if !ok {
		r.log.Debug().Msgf("unknown command: name=%s", cmd.Name)
		return result{}
	}

	m, err := r.sessions.Get(guildID)
	if err != nil {
		r.log.Warn().Msgf("no session for guild: guild_id=%s err=%v", guildID, err)
		return result{}
	}

	out, err := h(ctx, m, caller, cmd)
	if err != nil {
		return result{replies: []reply{r.usage(cmd.Name)}}
	}
	r.log.Debug().Msgf("command handled: guild_id=%s command=%s outcome=%s", guildID, cmd.Name, out.Kind)
	return result{replies: render(out)}
}

func (r *router) kill(caller session.Caller, cmd Command) result {
	if r.isAdmin != nil && !r.isAdmin(caller.UserID) {
		return result{replies: []reply{{Text: "You are not allowed to stop the bot."}}}
	}
	r.log.Info().Msgf("shutdown requested: user=%s", caller.Name)
	if len(cmd.Args) > 0 && cmd.Args[0] == "silent" {
		return result{shutdown: true}
	}
	return result{
		replies:  []reply{{Text: fmt.Sprintf("Stopping upon the request of <@%s>", caller.UserID)}},
		shutdown: true,
	}
}

func (r *router) cleanup(ctx context.Context, caller session.Caller, cmd Command) result {
	limit, err := optionalInt(cmd.Args, defaultCleanupLimit)
	if err != nil {
		return result{replies: []reply{r.usage(cmd.Name)}}
	}
	if r.purger == nil {
		return result{}
	}
	n, err := r.purger.Purge(ctx, caller.ChannelID, caller.UserID, limit)
	if err != nil {
		r.log.Warn().Msgf("cleanup failed: channel_id=%s deleted=%d err=%v", caller.ChannelID, n, err)
		return result{}
	}
	r.log.Info().Msgf("cleanup done: channel_id=%s deleted=%d", caller.ChannelID, n)
	return result{}
}

// render turns an outcome into messages. Short lines are packed together.
func render(out session.Outcome) []reply {
	var replies []reply
	if out.Message != "" {
		replies = append(replies, reply{Text: out.Message})
	}
	for _, text := range pack(out.Lines, maxMessageLength) {
		replies = append(replies, reply{Text: text})
	}
	for _, p := range out.Playlists {
		card := presenter.PlaylistCard(p)
		replies = append(replies, reply{Card: &card, Thumb: p.ThumbURL})
	}
	return replies
}

// pack joins lines with newlines into messages of at most size characters.
// A line longer than size gets a message of its own.
func pack(lines []string, size int) []string {
	var (
		out []string
		cur strings.Builder
	)
	for _, line := range lines {
		if cur.Len() > 0 && cur.Len()+1+len(line) > size {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func (r *router) usage(name string) reply {
	return reply{Text: fmt.Sprintf("Usage: %s%s", r.prefix, usages[name])}
}

func requireText(fn func(ctx context.Context, m *session.Manager, c session.Caller, text string) session.Outcome) sessionHandler {
	return func(ctx context.Context, m *session.Manager, c session.Caller, cmd Command) (session.Outcome, error) {
		if len(cmd.Args) == 0 {
			return session.Outcome{}, errBadArgs
		}
		return fn(ctx, m, c, cmd.Text()), nil
	}
}

func control(fn func(m *session.Manager, ctx context.Context) session.Outcome) sessionHandler {
	return func(ctx context.Context, m *session.Manager, c session.Caller, cmd Command) (session.Outcome, error) {
		return fn(m, ctx), nil
	}
}

func optionalInt(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, errors.Wrapf(errBadArgs, "expected a number, got %q", args[0])
	}
	return n, nil
}
