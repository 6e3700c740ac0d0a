package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg := Config{
		Discord: DiscordConfig{Token: "discord-token"},
		Plex: PlexConfig{
			BaseURL:     "http://plex.local:32400",
			Token:       "plex-token",
			LibraryName: "Music",
		},
	}
	require.NoError(t, defaults.Set(&cfg))
	return cfg
}

func TestConfig_Validate_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing discord token",
			mutate:  func(c *Config) { c.Discord.Token = "" },
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name:    "missing plex token",
			mutate:  func(c *Config) { c.Plex.Token = "" },
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name:    "invalid plex url",
			mutate:  func(c *Config) { c.Plex.BaseURL = "not a url" },
			wantErr: true,
			errMsg:  "BaseURL",
		},
		{
			name:    "missing library",
			mutate:  func(c *Config) { c.Plex.LibraryName = "" },
			wantErr: true,
			errMsg:  "LibraryName",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: true,
			errMsg:  "Level",
		},
		{
			name:    "bitrate out of range",
			mutate:  func(c *Config) { c.Discord.BitrateKbps = 1024 },
			wantErr: true,
			errMsg:  "BitrateKbps",
		},
		{
			name: "lyrics enabled without url",
			mutate: func(c *Config) {
				c.Lyrics.Enabled = true
				c.Lyrics.BaseURL = ""
			},
			wantErr: true,
			errMsg:  "lyrics.base_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
discord:
  token: from-file
  prefix: "!"
plex:
  base_url: http://plex.local:32400
  token: plex-token
  library_name: Music
playback:
  idle_timeout_sec: 30
filters:
  duplicate_track_filter:
    enabled: true
  duration_limit_filter:
    enabled: false
    settings:
      max_minutes: 10
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Discord.Token)
	assert.Equal(t, "!", cfg.Discord.Prefix)
	assert.Equal(t, "ffmpeg", cfg.Discord.FFmpegPath)
	assert.Equal(t, 128, cfg.Discord.BitrateKbps)
	assert.Equal(t, 30*time.Second, cfg.Playback.IdleTimeout())
	assert.Equal(t, 2*time.Second, cfg.Playback.StopGrace())
	assert.Equal(t, 10, cfg.Playback.QueueDisplayLimit)
	assert.Equal(t, 10*time.Second, cfg.Plex.Timeout())
	assert.Equal(t, "https://lrclib.net/api", cfg.Lyrics.BaseURL)
	assert.True(t, cfg.IsFilterEnabled("duplicate_track_filter"))
	assert.False(t, cfg.IsFilterEnabled("duration_limit_filter"))
	assert.False(t, cfg.IsFilterEnabled("queue_limit_filter"))
	assert.Equal(t, 10, cfg.Filters["duration_limit_filter"].Settings["max_minutes"])
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
plex:
  base_url: http://plex.local:32400
  library_name: Music
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv("DISCORD_TOKEN", "env-discord")
	t.Setenv("PLEX_TOKEN", "env-plex")
	t.Setenv("PLEX_BASE_URL", "https://plex.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-discord", cfg.Discord.Token)
	assert.Equal(t, "env-plex", cfg.Plex.Token)
	assert.Equal(t, "https://plex.example.com", cfg.Plex.BaseURL)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discord: [unclosed"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestConfig_GetMessage(t *testing.T) {
	cfg := validConfig(t)
	cfg.Messages.QueueFull = "custom full"

	assert.Equal(t, "custom full", cfg.GetMessage("queue_full"))
	assert.Equal(t, "Join a voice channel first!", cfg.GetMessage("not_in_voice"))
	assert.Equal(t, cfg.Messages.DefaultError, cfg.GetMessage("no_such_code"))
}

func TestConfig_IsAdmin(t *testing.T) {
	cfg := validConfig(t)
	assert.True(t, cfg.IsAdmin("anyone"))

	cfg.Discord.AdminUserIDs = []string{"42"}
	assert.True(t, cfg.IsAdmin("42"))
	assert.False(t, cfg.IsAdmin("43"))
}
