package lrclib

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/plexbox/internal/app/library"
	"github.com/osa030/plexbox/internal/domain/track"
)

func TestFind_ExactMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get", r.URL.Path)
		assert.Equal(t, "Miles Davis", r.URL.Query().Get("artist_name"))
		assert.Equal(t, "So What", r.URL.Query().Get("track_name"))
		assert.Equal(t, "Kind of Blue", r.URL.Query().Get("album_name"))
		assert.Equal(t, "562", r.URL.Query().Get("duration"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		fmt.Fprint(w, `{"id":1,"trackName":"So What","plainLyrics":"(instrumental)"}`)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	lyrics, err := client.Find(context.Background(), track.Track{
		Title: "So What", Artist: "Miles Davis", Album: "Kind of Blue", Duration: 562 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "(instrumental)", lyrics)
}

func TestFind_FallsBackToSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/get":
			w.WriteHeader(http.StatusNotFound)
		case "/search":
			assert.Equal(t, "Artist Song", r.URL.Query().Get("q"))
			fmt.Fprint(w, `[{"id":1,"plainLyrics":""},{"id":2,"plainLyrics":"la la la"}]`)
		}
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	lyrics, err := client.Find(context.Background(), track.Track{Title: "Song", Artist: "Artist"})
	require.NoError(t, err)
	assert.Equal(t, "la la la", lyrics)
}

func TestFind_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/get" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	_, err := client.Find(context.Background(), track.Track{Title: "Song", Artist: "Artist"})
	assert.ErrorIs(t, err, library.ErrNotFound)
}

func TestFind_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL})
	_, err := client.Find(context.Background(), track.Track{Title: "Song"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, library.ErrNotFound)
}
