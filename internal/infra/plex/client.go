// Package plex provides a client for the Plex Media Server HTTP API.
package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/plexbox/internal/app/library"
	"github.com/osa030/plexbox/internal/domain/playlist"
	"github.com/osa030/plexbox/internal/domain/track"
)

// Errors
var (
	ErrUnauthorized    = errors.New("plex token rejected")
	ErrLibraryNotFound = errors.New("plex library section not found")
)

// Plex metadata type codes used by the section filter API.
const (
	typeAlbum = 9
	typeTrack = 10
)

const maxArtCacheEntries = 64

// Config represents Plex client configuration.
type Config struct {
	BaseURL     string
	Token       string
	LibraryName string
	Timeout     time.Duration
	LogLevel    zerolog.Level
}

// Client is a Plex API client bound to one music library section.
type Client struct {
	baseURL     string
	token       string
	libraryName string
	httpClient  *http.Client
	log         zerolog.Logger

	sectionMu  sync.RWMutex
	sectionKey string

	// Cache for downloaded artwork
	artCache map[string][]byte
	artOrder []string
	cacheMu  sync.Mutex
}

type mediaContainerResponse struct {
	MediaContainer struct {
		Size      int         `json:"size"`
		Directory []directory `json:"Directory"`
		Metadata  []metadata  `json:"Metadata"`
	} `json:"MediaContainer"`
}

type directory struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type metadata struct {
	RatingKey        string  `json:"ratingKey"`
	Type             string  `json:"type"`
	Title            string  `json:"title"`
	ParentTitle      string  `json:"parentTitle"`
	GrandparentTitle string  `json:"grandparentTitle"`
	OriginalTitle    string  `json:"originalTitle"`
	Thumb            string  `json:"thumb"`
	ParentThumb      string  `json:"parentThumb"`
	Composite        string  `json:"composite"`
	Duration         int64   `json:"duration"`
	LeafCount        int     `json:"leafCount"`
	PlaylistType     string  `json:"playlistType"`
	Media            []media `json:"Media"`
}

type media struct {
	Part []struct {
		Key string `json:"key"`
	} `json:"Part"`
}

// New creates a new Plex client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("plex base URL is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("plex token is required")
	}
	if cfg.LibraryName == "" {
		return nil, errors.New("plex library name is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		libraryName: cfg.LibraryName,
		httpClient:  &http.Client{Timeout: timeout},
		log:         zlog.With().Str("component", "plex").Logger().Level(cfg.LogLevel),
		artCache:    make(map[string][]byte),
	}, nil
}

// Connect checks the token and resolves the configured music library section.
func (c *Client) Connect(ctx context.Context) error {
	var resp mediaContainerResponse
	if err := c.get(ctx, "/library/sections", nil, &resp); err != nil {
		return errors.Wrap(err, "failed to list library sections")
	}

	for _, d := range resp.MediaContainer.Directory {
		if d.Title == c.libraryName {
			if d.Type != "artist" {
				return errors.Newf("library %q is not a music library (type=%s)", c.libraryName, d.Type)
			}
			c.sectionMu.Lock()
			c.sectionKey = d.Key
			c.sectionMu.Unlock()
			c.log.Info().Msgf("connected to plex library: name=%s key=%s", d.Title, d.Key)
			return nil
		}
	}
	return errors.Wrapf(ErrLibraryNotFound, "library %q", c.libraryName)
}

func (c *Client) section() (string, error) {
	c.sectionMu.RLock()
	defer c.sectionMu.RUnlock()
	if c.sectionKey == "" {
		return "", errors.New("plex client is not connected")
	}
	return c.sectionKey, nil
}

// FindTrack returns the best match for title.
func (c *Client) FindTrack(ctx context.Context, title string) (track.Track, error) {
	items, err := c.search(ctx, typeTrack, title)
	if err != nil {
		return track.Track{}, err
	}
	for _, m := range items {
		if t, ok := c.toTrack(m); ok {
			c.log.Debug().Msgf("track found: query=%q track=%q", title, t.String())
			return t, nil
		}
	}
	return track.Track{}, errors.Wrapf(library.ErrNotFound, "track %q", title)
}

// FindAlbum returns the best matching album with its tracks.
func (c *Client) FindAlbum(ctx context.Context, title string) (library.Album, error) {
	items, err := c.search(ctx, typeAlbum, title)
	if err != nil {
		return library.Album{}, err
	}
	if len(items) == 0 {
		return library.Album{}, errors.Wrapf(library.ErrNotFound, "album %q", title)
	}

	m := items[0]
	var children mediaContainerResponse
	if err := c.get(ctx, "/library/metadata/"+url.PathEscape(m.RatingKey)+"/children", nil, &children); err != nil {
		return library.Album{}, errors.Wrap(err, "failed to load album tracks")
	}

	album := library.Album{
		ID:       m.RatingKey,
		Title:    m.Title,
		Artist:   m.ParentTitle,
		ThumbURL: c.assetURL(m.Thumb),
		Tracks:   make([]track.Track, 0, len(children.MediaContainer.Metadata)),
	}
	for _, child := range children.MediaContainer.Metadata {
		if t, ok := c.toTrack(child); ok {
			album.Tracks = append(album.Tracks, t)
		}
	}
	c.log.Debug().Msgf("album found: query=%q album=%q tracks=%d", title, album.Title, len(album.Tracks))
	return album, nil
}

// FindPlaylist returns the audio playlist titled exactly name, with its track items.
func (c *Client) FindPlaylist(ctx context.Context, name string) (playlist.Playlist, error) {
	all, err := c.playlists(ctx)
	if err != nil {
		return playlist.Playlist{}, err
	}

	for _, m := range all {
		if m.Title != name {
			continue
		}
		var items mediaContainerResponse
		if err := c.get(ctx, "/playlists/"+url.PathEscape(m.RatingKey)+"/items", nil, &items); err != nil {
			return playlist.Playlist{}, errors.Wrap(err, "failed to load playlist items")
		}

		p := playlist.Playlist{
			Summary: c.toSummary(m),
			Tracks:  make([]track.Track, 0, len(items.MediaContainer.Metadata)),
		}
		for _, item := range items.MediaContainer.Metadata {
			if item.Type != "track" {
				continue
			}
			if t, ok := c.toTrack(item); ok {
				p.Tracks = append(p.Tracks, t)
			}
		}
		c.log.Debug().Msgf("playlist found: name=%q tracks=%d", name, len(p.Tracks))
		return p, nil
	}
	return playlist.Playlist{}, errors.Wrapf(library.ErrNotFound, "playlist %q", name)
}

// ListPlaylists returns all audio playlists.
func (c *Client) ListPlaylists(ctx context.Context) ([]playlist.Summary, error) {
	all, err := c.playlists(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]playlist.Summary, 0, len(all))
	for _, m := range all {
		result = append(result, c.toSummary(m))
	}
	return result, nil
}

// FetchArt downloads artwork. Results are cached by URL.
func (c *Client) FetchArt(ctx context.Context, thumbURL string) ([]byte, error) {
	if thumbURL == "" {
		return nil, errors.New("thumbnail URL is required")
	}

	c.cacheMu.Lock()
	if data, ok := c.artCache[thumbURL]; ok {
		c.cacheMu.Unlock()
		return data, nil
	}
	c.cacheMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, thumbURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("artwork request failed: status=%d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	c.cacheMu.Lock()
	if _, ok := c.artCache[thumbURL]; !ok {
		c.artCache[thumbURL] = data
		c.artOrder = append(c.artOrder, thumbURL)
		if len(c.artOrder) > maxArtCacheEntries {
			delete(c.artCache, c.artOrder[0])
			c.artOrder = c.artOrder[1:]
		}
	}
	c.cacheMu.Unlock()
	return data, nil
}

func (c *Client) search(ctx context.Context, typ int, title string) ([]metadata, error) {
	key, err := c.section()
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("type", fmt.Sprintf("%d", typ))
	params.Set("title", title)
	params.Set("X-Plex-Container-Start", "0")
	params.Set("X-Plex-Container-Size", "10")

	var resp mediaContainerResponse
	if err := c.get(ctx, "/library/sections/"+url.PathEscape(key)+"/all", params, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to search library")
	}
	return resp.MediaContainer.Metadata, nil
}

func (c *Client) playlists(ctx context.Context) ([]metadata, error) {
	params := url.Values{}
	params.Set("playlistType", "audio")

	var resp mediaContainerResponse
	if err := c.get(ctx, "/playlists", params, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to list playlists")
	}
	return resp.MediaContainer.Metadata, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("X-Plex-Product", "plexbox")

	c.log.Debug().Msgf("plex request: path=%s", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return library.ErrNotFound
	default:
		return errors.Newf("plex API error: status=%d path=%s", resp.StatusCode, path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}

func (c *Client) toTrack(m metadata) (track.Track, bool) {
	if len(m.Media) == 0 || len(m.Media[0].Part) == 0 || m.Media[0].Part[0].Key == "" {
		return track.Track{}, false
	}

	artist := m.OriginalTitle
	if artist == "" {
		artist = m.GrandparentTitle
	}
	thumb := m.ParentThumb
	if thumb == "" {
		thumb = m.Thumb
	}

	return track.Track{
		ID:        m.RatingKey,
		Title:     m.Title,
		Artist:    artist,
		Album:     m.ParentTitle,
		SourceURL: c.assetURL(m.Media[0].Part[0].Key),
		ThumbURL:  c.assetURL(thumb),
		Duration:  time.Duration(m.Duration) * time.Millisecond,
	}, true
}

func (c *Client) toSummary(m metadata) playlist.Summary {
	thumb := m.Composite
	if thumb == "" {
		thumb = m.Thumb
	}
	return playlist.Summary{
		ID:         m.RatingKey,
		Title:      m.Title,
		ThumbURL:   c.assetURL(thumb),
		Duration:   time.Duration(m.Duration) * time.Millisecond,
		TrackCount: m.LeafCount,
	}
}

// assetURL turns a server-relative path into an authenticated absolute URL.
func (c *Client) assetURL(path string) string {
	if path == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return c.baseURL + path + sep + "X-Plex-Token=" + url.QueryEscape(c.token)
}
