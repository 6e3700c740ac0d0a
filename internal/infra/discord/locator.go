package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	"github.com/osa030/plexbox/internal/app/session"
)

// guildState is the part of the discordgo state cache the locator reads.
type guildState interface {
	Guild(guildID string) (*discordgo.Guild, error)
}

// VoiceLocator finds users in voice channels from the gateway state cache.
type VoiceLocator struct {
	state guildState
}

// NewVoiceLocator creates a new voice locator.
func NewVoiceLocator(s *discordgo.Session) *VoiceLocator {
	return &VoiceLocator{state: s.State}
}

// VoiceChannel returns the voice channel the user is connected to.
func (l *VoiceLocator) VoiceChannel(ctx context.Context, guildID, userID string) (string, error) {
	guild, err := l.state.Guild(guildID)
	if err != nil {
		return "", errors.Wrapf(err, "failed to load guild %s", guildID)
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, nil
		}
	}
	return "", session.ErrNotInVoice
}
