package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/plexbox/internal/domain/track"
)

// BlockedUserConfig represents the configuration for BlockedUserFilter.
type BlockedUserConfig struct {
	UserIDs []string `mapstructure:"user_ids"`
}

// BlockedUserFilter rejects requests from blocked Discord users.
type BlockedUserFilter struct {
	blocked map[string]bool
}

func (f *BlockedUserFilter) Name() string {
	return "blocked_user_filter"
}

func (f *BlockedUserFilter) Description() string {
	return "Rejects requests from blocked users"
}

func (f *BlockedUserFilter) ReturnCodes() []string {
	return []string{"blocked"}
}

func (f *BlockedUserFilter) ValidateConfig(settings map[string]any) error {
	var config BlockedUserConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	f.blocked = make(map[string]bool, len(config.UserIDs))
	for _, id := range config.UserIDs {
		f.blocked[id] = true
	}
	return nil
}

func (f *BlockedUserFilter) AppliesTo(requesterType track.RequesterType) bool {
	// Blocked users cannot queue anything, albums and playlists included
	return true
}

func (f *BlockedUserFilter) Check(ctx context.Context, req TrackRequest, t track.Track, q QueueView) Result {
	if f.blocked[req.RequesterID] {
		return Reject("blocked")
	}
	return Accept()
}

func init() {
	Register("blocked_user_filter", func() Filter {
		return &BlockedUserFilter{}
	})
}
