package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrack_Describe(t *testing.T) {
	tests := []struct {
		name     string
		track    Track
		expected string
	}{
		{
			name:     "album and artist",
			track:    Track{Title: "Song", Album: "Album", Artist: "Artist"},
			expected: "Album - Artist",
		},
		{
			name:     "artist only",
			track:    Track{Title: "Song", Artist: "Artist"},
			expected: "Artist",
		},
		{
			name:     "album only",
			track:    Track{Title: "Song", Album: "Album"},
			expected: "Album",
		},
		{
			name:     "no metadata",
			track:    Track{Title: "Song"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.track.Describe())
		})
	}
}

func TestTrack_String(t *testing.T) {
	tests := []struct {
		name     string
		track    Track
		expected string
	}{
		{
			name:     "with artist",
			track:    Track{ID: "1", Title: "Song", Artist: "Artist", Duration: 3 * time.Minute},
			expected: "Song by Artist",
		},
		{
			name:     "without artist",
			track:    Track{ID: "2", Title: "Song"},
			expected: "Song",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.track.String())
		})
	}
}
