// Package discord connects sessions to Discord: gateway commands, voice
// streaming and message notices.
package discord

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/osa030/plexbox/internal/app/library"
	"github.com/osa030/plexbox/internal/app/playback"
	"github.com/osa030/plexbox/internal/app/session"
)

const (
	commandTimeout = 60 * time.Second
	pageSize       = 100
)

// Config holds the Discord settings.
type Config struct {
	Token          string
	Prefix         string
	FFmpegPath     string
	BitrateKbps    int
	PostRatePerSec float64
}

// Options wires the bot to the rest of the application.
type Options struct {
	Sessions Sessions
	IsAdmin  func(userID string) bool
	Shutdown func() // Called after an allowed kill command
}

// Bot is a Discord bot serving prefix commands.
type Bot struct {
	cfg      Config
	session  *discordgo.Session
	notifier *Notifier
	sink     *Sink
	voice    *VoiceLocator
	router   *router
	shutdown func()
	log      zerolog.Logger
}

// New creates a new bot. The gateway is not opened until Open.
func New(cfg Config, art library.ArtFetcher, log zerolog.Logger) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Discord session")
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent

	return &Bot{
		cfg:      cfg,
		session:  s,
		notifier: NewNotifier(s, art, cfg.PostRatePerSec, log),
		sink:     NewSink(s, cfg.FFmpegPath, cfg.BitrateKbps, log),
		voice:    NewVoiceLocator(s),
		log:      log,
	}, nil
}

// Sink returns the voice sink.
func (b *Bot) Sink() playback.VoiceSink {
	return b.sink
}

// Notifier returns the notice poster.
func (b *Bot) Notifier() playback.Notifier {
	return b.notifier
}

// Voice returns the voice channel locator.
func (b *Bot) Voice() session.VoiceLocator {
	return b.voice
}

// Open connects to the gateway and starts serving commands.
// A bad token fails here.
func (b *Bot) Open(opts Options) error {
	b.router = newRouter(b.cfg.Prefix, opts.Sessions, b, opts.IsAdmin, b.log)
	b.shutdown = opts.Shutdown

	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)

	if err := b.session.Open(); err != nil {
		return errors.Wrap(err, "failed to open Discord session")
	}
	return nil
}

// Serve blocks until ctx is done, then closes the gateway.
func (b *Bot) Serve(ctx context.Context) error {
	<-ctx.Done()
	b.log.Info().Msg("closing Discord session")
	if err := b.session.Close(); err != nil {
		return errors.Wrap(err, "failed to close Discord session")
	}
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info().Msgf("logged in: user=%s guilds=%d", r.User.String(), len(r.Guilds))
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	cmd, ok := ParseCommand(b.cfg.Prefix, m.Content)
	if !ok {
		return
	}
	b.log.Debug().Msgf("command received: guild_id=%s user=%s command=%s args=%q", m.GuildID, m.Author.Username, cmd.Name, cmd.Args)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	caller := session.Caller{UserID: m.Author.ID, Name: m.Author.Username, ChannelID: m.ChannelID}
	res := b.router.handle(ctx, m.GuildID, caller, cmd)
	for _, r := range res.replies {
		b.deliver(ctx, m.ChannelID, r)
	}
	if res.shutdown && b.shutdown != nil {
		b.shutdown()
	}
}

func (b *Bot) deliver(ctx context.Context, channelID string, r reply) {
	var err error
	if r.Card != nil {
		_, err = b.notifier.SendCard(ctx, channelID, *r.Card, r.Thumb)
	} else {
		_, err = b.notifier.Say(ctx, channelID, r.Text)
	}
	if err != nil {
		b.log.Warn().Msgf("failed to reply: channel_id=%s err=%v", channelID, err)
	}
}

// Purge deletes the bot's own messages and the user's prefixed commands
// among the latest limit messages of the channel.
func (b *Bot) Purge(ctx context.Context, channelID, userID string, limit int) (int, error) {
	botID := b.session.State.User.ID

	deleted, seen := 0, 0
	before := ""
	for seen < limit {
		batch := min(pageSize, limit-seen)
		msgs, err := b.session.ChannelMessages(channelID, batch, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return deleted, errors.Wrap(err, "failed to list messages")
		}
		for _, msg := range msgs {
			if !purgeable(msg, botID, userID, b.cfg.Prefix) {
				continue
			}
			err := b.notifier.Retract(ctx, playback.MessageHandle{ChannelID: channelID, MessageID: msg.ID})
			if err != nil && !errors.Is(err, playback.ErrMessageGone) {
				return deleted, err
			}
			deleted++
		}
		seen += len(msgs)
		if len(msgs) < batch {
			break
		}
		before = msgs[len(msgs)-1].ID
	}
	return deleted, nil
}

// purgeable reports whether cleanup removes msg.
func purgeable(msg *discordgo.Message, botID, userID, prefix string) bool {
	if msg.Author == nil {
		return false
	}
	if msg.Author.ID == botID {
		return true
	}
	return msg.Author.ID == userID && strings.HasPrefix(msg.Content, prefix)
}
