package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/plexbox/internal/domain/track"
)

// UserPendingConfig represents the configuration for UserPendingFilter.
type UserPendingConfig struct {
	MaxPending int      `mapstructure:"max_pending" default:"5" validate:"gte=1"`
	VIPUserIDs []string `mapstructure:"vip_user_ids"`
}

// UserPendingFilter caps how many tracks one user may have waiting.
type UserPendingFilter struct {
	config UserPendingConfig
	vip    map[string]bool
}

func (f *UserPendingFilter) Name() string {
	return "user_pending_filter"
}

func (f *UserPendingFilter) Description() string {
	return "Rejects requests from users who already have too many tracks waiting"
}

func (f *UserPendingFilter) ReturnCodes() []string {
	return []string{"user_pending"}
}

func (f *UserPendingFilter) ValidateConfig(settings map[string]any) error {
	var config UserPendingConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}

	f.config = config
	f.vip = make(map[string]bool, len(config.VIPUserIDs))
	for _, id := range config.VIPUserIDs {
		f.vip[id] = true
	}
	return nil
}

func (f *UserPendingFilter) AppliesTo(requesterType track.RequesterType) bool {
	// Album and playlist additions are bulk by nature
	return requesterType == track.RequesterTypeUser
}

func (f *UserPendingFilter) Check(ctx context.Context, req TrackRequest, t track.Track, q QueueView) Result {
	if f.vip[req.RequesterID] || f.config.MaxPending <= 0 {
		return Accept()
	}

	if q.CountRequestedBy(req.RequesterID) >= f.config.MaxPending {
		return Reject("user_pending")
	}
	return Accept()
}

func init() {
	Register("user_pending_filter", func() Filter {
		return &UserPendingFilter{}
	})
}
