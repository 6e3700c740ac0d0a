package plex

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/plexbox/internal/app/library"
)

const sectionsJSON = `{"MediaContainer":{"size":2,"Directory":[
	{"key":"1","title":"Movies","type":"movie"},
	{"key":"3","title":"Music","type":"artist"}
]}}`

func newTestServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Plex-Token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, server *httptest.Server, token string) *Client {
	t.Helper()
	client, err := New(Config{BaseURL: server.URL + "/", Token: token, LibraryName: "Music"})
	require.NoError(t, err)
	return client
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing base URL", cfg: Config{Token: "t", LibraryName: "Music"}},
		{name: "missing token", cfg: Config{BaseURL: "http://plex", LibraryName: "Music"}},
		{name: "missing library", cfg: Config{BaseURL: "http://plex", Token: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestConnect(t *testing.T) {
	server := newTestServer(t, map[string]string{"/library/sections": sectionsJSON})

	t.Run("resolves music section", func(t *testing.T) {
		client := newTestClient(t, server, "secret")
		require.NoError(t, client.Connect(context.Background()))
		key, err := client.section()
		require.NoError(t, err)
		assert.Equal(t, "3", key)
	})

	t.Run("bad token", func(t *testing.T) {
		client := newTestClient(t, server, "wrong")
		err := client.Connect(context.Background())
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("unknown library", func(t *testing.T) {
		client, err := New(Config{BaseURL: server.URL, Token: "secret", LibraryName: "Podcasts"})
		require.NoError(t, err)
		assert.ErrorIs(t, client.Connect(context.Background()), ErrLibraryNotFound)
	})

	t.Run("not a music library", func(t *testing.T) {
		client, err := New(Config{BaseURL: server.URL, Token: "secret", LibraryName: "Movies"})
		require.NoError(t, err)
		assert.Error(t, client.Connect(context.Background()))
	})
}

func TestFindTrack(t *testing.T) {
	var query atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/library/sections":
			fmt.Fprint(w, sectionsJSON)
		case "/library/sections/3/all":
			query.Store(r.URL.Query())
			if r.URL.Query().Get("title") == "nothing" {
				fmt.Fprint(w, `{"MediaContainer":{"size":0}}`)
				return
			}
			fmt.Fprint(w, `{"MediaContainer":{"size":1,"Metadata":[{
				"ratingKey":"101","type":"track","title":"Blue in Green",
				"parentTitle":"Kind of Blue","grandparentTitle":"Miles Davis",
				"parentThumb":"/library/metadata/100/thumb/1","duration":337000,
				"Media":[{"Part":[{"key":"/library/parts/55/file.flac"}]}]
			}]}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, "secret")
	ctx := context.Background()

	_, err := client.FindTrack(ctx, "anything")
	require.Error(t, err, "searching before Connect must fail")

	require.NoError(t, client.Connect(ctx))

	got, err := client.FindTrack(ctx, "blue in green")
	require.NoError(t, err)
	assert.Equal(t, "101", got.ID)
	assert.Equal(t, "Blue in Green", got.Title)
	assert.Equal(t, "Miles Davis", got.Artist)
	assert.Equal(t, "Kind of Blue", got.Album)
	assert.Equal(t, 337*time.Second, got.Duration)
	assert.Equal(t, server.URL+"/library/parts/55/file.flac?X-Plex-Token=secret", got.SourceURL)
	assert.Equal(t, server.URL+"/library/metadata/100/thumb/1?X-Plex-Token=secret", got.ThumbURL)

	params := query.Load().(url.Values)
	assert.Equal(t, "10", params.Get("type"))
	assert.Equal(t, "blue in green", params.Get("title"))

	_, err = client.FindTrack(ctx, "nothing")
	assert.ErrorIs(t, err, library.ErrNotFound)
}

func TestFindAlbum(t *testing.T) {
	server := newTestServer(t, map[string]string{
		"/library/sections": sectionsJSON,
		"/library/sections/3/all": `{"MediaContainer":{"Metadata":[{
			"ratingKey":"100","type":"album","title":"Kind of Blue","parentTitle":"Miles Davis",
			"thumb":"/library/metadata/100/thumb/1"
		}]}}`,
		"/library/metadata/100/children": `{"MediaContainer":{"Metadata":[
			{"ratingKey":"101","type":"track","title":"So What","grandparentTitle":"Miles Davis","duration":562000,
			 "Media":[{"Part":[{"key":"/library/parts/51/file.flac"}]}]},
			{"ratingKey":"102","type":"track","title":"Freddie Freeloader","grandparentTitle":"Miles Davis","duration":589000,
			 "Media":[{"Part":[{"key":"/library/parts/52/file.flac"}]}]},
			{"ratingKey":"103","type":"track","title":"No Media"}
		]}}`,
	})

	client := newTestClient(t, server, "secret")
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx))

	album, err := client.FindAlbum(ctx, "kind of blue")
	require.NoError(t, err)
	assert.Equal(t, "Kind of Blue", album.Title)
	assert.Equal(t, "Miles Davis", album.Artist)
	require.Len(t, album.Tracks, 2)
	assert.Equal(t, "So What", album.Tracks[0].Title)
	assert.Equal(t, "Freddie Freeloader", album.Tracks[1].Title)
}

func TestPlaylists(t *testing.T) {
	server := newTestServer(t, map[string]string{
		"/library/sections": sectionsJSON,
		"/playlists": `{"MediaContainer":{"Metadata":[
			{"ratingKey":"900","type":"playlist","title":"Road Trip","composite":"/playlists/900/composite/1","duration":7200000,"leafCount":3},
			{"ratingKey":"901","type":"playlist","title":"Empty"}
		]}}`,
		"/playlists/900/items": `{"MediaContainer":{"Metadata":[
			{"ratingKey":"1","type":"track","title":"One","Media":[{"Part":[{"key":"/library/parts/1/a.mp3"}]}]},
			{"ratingKey":"2","type":"episode","title":"Podcast","Media":[{"Part":[{"key":"/library/parts/2/b.mp3"}]}]},
			{"ratingKey":"3","type":"track","title":"Three","Media":[{"Part":[{"key":"/library/parts/3/c.mp3"}]}]}
		]}}`,
	})

	client := newTestClient(t, server, "secret")
	ctx := context.Background()

	summaries, err := client.ListPlaylists(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "Road Trip", summaries[0].Title)
	assert.Equal(t, 2*time.Hour, summaries[0].Duration)
	assert.Equal(t, 3, summaries[0].TrackCount)
	assert.Equal(t, time.Duration(0), summaries[1].Duration)

	p, err := client.FindPlaylist(ctx, "Road Trip")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, p.TrackIDs())

	_, err = client.FindPlaylist(ctx, "road trip")
	assert.ErrorIs(t, err, library.ErrNotFound)
}

func TestFetchArt_Cached(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	client := newTestClient(t, server, "secret")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		data, err := client.FetchArt(ctx, server.URL+"/thumb?X-Plex-Token=secret")
		require.NoError(t, err)
		assert.Equal(t, []byte("png-bytes"), data)
	}
	assert.Equal(t, int32(1), hits.Load())

	_, err := client.FetchArt(ctx, "")
	assert.Error(t, err)
}

func TestAssetURL(t *testing.T) {
	client, err := New(Config{BaseURL: "http://plex:32400/", Token: "a b", LibraryName: "Music"})
	require.NoError(t, err)

	assert.Equal(t, "", client.assetURL(""))
	assert.Equal(t, "http://plex:32400/thumb?X-Plex-Token=a+b", client.assetURL("/thumb"))
	assert.Equal(t, "http://plex:32400/thumb?w=1&X-Plex-Token=a+b", client.assetURL("/thumb?w=1"))
}
