package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/plexbox/internal/domain/track"
)

// Settings is the per-filter configuration.
type Settings struct {
	Enabled  bool
	Settings map[string]any
}

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// Build creates a chain with every enabled registered filter, in name order.
// Unknown filter names are an error.
func Build(configs map[string]Settings) (*Chain, error) {
	for name := range configs {
		if _, ok := registry[name]; !ok {
			return nil, errors.Newf("unknown filter: %s", name)
		}
	}

	chain := NewChain()
	for _, name := range RegisteredNames() {
		cfg, ok := configs[name]
		if !ok || !cfg.Enabled {
			continue
		}
		f := registry[name]()
		if err := f.ValidateConfig(cfg.Settings); err != nil {
			return nil, errors.Wrapf(err, "invalid settings for %s", name)
		}
		chain.Add(f)
		zlog.Info().Msgf("filter enabled: name=%s", name)
	}
	return chain, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the request.
// Filters are only applied if they declare they apply to the requester type.
func (c *Chain) Execute(ctx context.Context, req TrackRequest, t track.Track, q QueueView) Result {
	for _, f := range c.filters {
		if !f.AppliesTo(req.RequesterType) {
			continue
		}

		result := f.Check(ctx, req, t, q)
		if !result.Accepted {
			zlog.Debug().Msgf("request rejected: filter=%s code=%s track=%q requester=%s", f.Name(), result.Code, t.String(), req.RequesterID)
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
