package discord

import (
	"bytes"
	"context"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/osa030/plexbox/internal/app/library"
	"github.com/osa030/plexbox/internal/app/playback"
	"github.com/osa030/plexbox/internal/app/presenter"
)

// messenger is the part of the Discord REST API the notifier uses.
type messenger interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// Notifier posts notices and replies into text channels.
// Every post waits on a shared rate limiter.
type Notifier struct {
	api     messenger
	art     library.ArtFetcher
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewNotifier creates a new notifier. art may be nil.
func NewNotifier(s *discordgo.Session, art library.ArtFetcher, perSec float64, log zerolog.Logger) *Notifier {
	return newNotifier(s, art, perSec, log)
}

func newNotifier(api messenger, art library.ArtFetcher, perSec float64, log zerolog.Logger) *Notifier {
	limit := rate.Inf
	if perSec > 0 {
		limit = rate.Limit(perSec)
	}
	return &Notifier{
		api:     api,
		art:     art,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

// Post sends the card for a playback notice, with album art when available.
func (n *Notifier) Post(ctx context.Context, notice playback.Notice) (playback.MessageHandle, error) {
	return n.SendCard(ctx, notice.ChannelID, presenter.NoticeCard(notice), notice.Track.ThumbURL)
}

// Retract deletes a posted message.
func (n *Notifier) Retract(ctx context.Context, h playback.MessageHandle) error {
	err := n.api.ChannelMessageDelete(h.ChannelID, h.MessageID, discordgo.WithContext(ctx))
	if err == nil {
		return nil
	}
	if isUnknownMessage(err) {
		return playback.ErrMessageGone
	}
	return errors.Wrapf(err, "failed to delete message %s", h.MessageID)
}

// SendCard posts a card. thumbURL is downloaded and attached, never linked.
func (n *Notifier) SendCard(ctx context.Context, channelID string, card presenter.Card, thumbURL string) (playback.MessageHandle, error) {
	msg := &discordgo.MessageSend{}
	if art := n.fetchArt(ctx, thumbURL); art != nil {
		card = card.WithArt()
		msg.Files = []*discordgo.File{{
			Name:        presenter.ArtFileName,
			ContentType: "image/png",
			Reader:      bytes.NewReader(art),
		}}
	}
	msg.Embeds = []*discordgo.MessageEmbed{embed(card)}
	return n.send(ctx, channelID, msg)
}

// Say posts plain text.
func (n *Notifier) Say(ctx context.Context, channelID, text string) (playback.MessageHandle, error) {
	return n.send(ctx, channelID, &discordgo.MessageSend{Content: text})
}

func (n *Notifier) send(ctx context.Context, channelID string, msg *discordgo.MessageSend) (playback.MessageHandle, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return playback.MessageHandle{}, errors.Wrap(err, "rate limiter")
	}
	m, err := n.api.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	if err != nil {
		return playback.MessageHandle{}, errors.Wrapf(err, "failed to send message to %s", channelID)
	}
	return playback.MessageHandle{ChannelID: m.ChannelID, MessageID: m.ID}, nil
}

func (n *Notifier) fetchArt(ctx context.Context, thumbURL string) []byte {
	if n.art == nil || thumbURL == "" {
		return nil
	}
	art, err := n.art.FetchArt(ctx, thumbURL)
	if err != nil {
		n.log.Debug().Msgf("album art unavailable: err=%v", err)
		return nil
	}
	return art
}

func embed(card presenter.Card) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       card.Title,
		Description: card.Description,
		Color:       card.Color,
	}
	if card.Author != "" {
		e.Author = &discordgo.MessageEmbedAuthor{Name: card.Author}
	}
	if card.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: card.Footer}
	}
	if u := card.ThumbnailURL(); u != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: u}
	}
	return e
}

func isUnknownMessage(err error) bool {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return false
	}
	if rest.Message != nil && rest.Message.Code == discordgo.ErrCodeUnknownMessage {
		return true
	}
	return rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound
}
