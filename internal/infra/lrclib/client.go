// Package lrclib provides a client for the lrclib.net lyrics API.
package lrclib

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/plexbox/internal/app/library"
	"github.com/osa030/plexbox/internal/domain/track"
)

const (
	defaultBaseURL = "https://lrclib.net/api"
	userAgent      = "plexbox/1.0 (https://github.com/osa030/plexbox)"
)

// Config represents lrclib client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is an lrclib.net API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// LyricsResult represents a lyrics record.
type LyricsResult struct {
	ID           int     `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

// New creates a new lrclib client.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Find returns plain lyrics for t, falling back to a free-text search
// when the exact signature lookup misses.
func (c *Client) Find(ctx context.Context, t track.Track) (string, error) {
	result, err := c.Get(ctx, t.Artist, t.Title, t.Album, t.Duration)
	if err == nil && result.PlainLyrics != "" {
		return result.PlainLyrics, nil
	}
	if err != nil && !errors.Is(err, library.ErrNotFound) {
		return "", err
	}

	zlog.Debug().Msgf("exact lyrics lookup missed, searching: track=%q", t.String())
	results, err := c.Search(ctx, strings.TrimSpace(t.Artist+" "+t.Title))
	if err != nil {
		return "", err
	}
	for _, r := range results {
		if r.PlainLyrics != "" {
			return r.PlainLyrics, nil
		}
	}
	return "", errors.Wrapf(library.ErrNotFound, "lyrics for %q", t.String())
}

// Get fetches lyrics by track signature. Duration is sent in whole seconds.
func (c *Client) Get(ctx context.Context, artist, title, album string, duration time.Duration) (*LyricsResult, error) {
	params := url.Values{}
	params.Set("artist_name", artist)
	params.Set("track_name", title)
	if album != "" {
		params.Set("album_name", album)
	}
	if duration > 0 {
		params.Set("duration", fmt.Sprintf("%.0f", duration.Seconds()))
	}

	var result LyricsResult
	if err := c.get(ctx, "/get", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Search searches lyrics matching the query.
func (c *Client) Search(ctx context.Context, query string) ([]LyricsResult, error) {
	params := url.Values{}
	params.Set("q", query)

	var results []LyricsResult
	if err := c.get(ctx, "/search", params, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return library.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("lrclib API error: status=%s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}
