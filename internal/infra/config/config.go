// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Log      LogConfig               `yaml:"log"`
	Discord  DiscordConfig           `yaml:"discord"`
	Plex     PlexConfig              `yaml:"plex"`
	Lyrics   LyricsConfig            `yaml:"lyrics"`
	Playback PlaybackConfig          `yaml:"playback"`
	History  HistoryConfig           `yaml:"history"`
	API      APIConfig               `yaml:"api"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Messages MessagesConfig          `yaml:"messages"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	Output     string `yaml:"output" default:"stdout"`
	File       string `yaml:"file" default:"plexbox.log"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"50" validate:"gte=1"`
	MaxBackups int    `yaml:"max_backups" default:"3" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" default:"28" validate:"gte=0"`
}

// DiscordConfig represents Discord bot configuration.
type DiscordConfig struct {
	Token          string   `yaml:"token" validate:"required"`
	Prefix         string   `yaml:"prefix" default:"?" validate:"required"`
	LogLevel       string   `yaml:"log_level" default:"info" validate:"oneof=debug info warn warning error"`
	FFmpegPath     string   `yaml:"ffmpeg_path" default:"ffmpeg"`
	BitrateKbps    int      `yaml:"bitrate_kbps" default:"128" validate:"gte=8,lte=512"`
	PostRatePerSec float64  `yaml:"post_rate_per_sec" default:"2" validate:"gt=0"`
	AdminUserIDs   []string `yaml:"admin_user_ids"`
}

// PlexConfig represents Plex server configuration.
type PlexConfig struct {
	BaseURL     string `yaml:"base_url" validate:"required,url"`
	Token       string `yaml:"token" validate:"required"`
	LibraryName string `yaml:"library_name" validate:"required"`
	LogLevel    string `yaml:"log_level" default:"info" validate:"oneof=debug info warn warning error"`
	TimeoutSec  int    `yaml:"timeout_sec" default:"10" validate:"gte=1,lte=120"`
}

// LyricsConfig represents lyrics lookup configuration.
type LyricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url" default:"https://lrclib.net/api" validate:"omitempty,url"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	IdleTimeoutSec    int `yaml:"idle_timeout_sec" default:"15" validate:"gte=1,lte=3600"`
	StopGraceMs       int `yaml:"stop_grace_ms" default:"2000" validate:"gte=0,lte=30000"`
	QueueDisplayLimit int `yaml:"queue_display_limit" default:"10" validate:"gte=1,lte=50"`
}

// HistoryConfig represents play history configuration.
type HistoryConfig struct {
	Path         string `yaml:"path"` // Empty disables history
	DisplayLimit int    `yaml:"display_limit" default:"10" validate:"gte=1,lte=100"`
}

// APIConfig represents the status API configuration.
type APIConfig struct {
	Addr           string   `yaml:"addr"` // Empty disables the API
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing messages.
type MessagesConfig struct {
	DefaultError          string `yaml:"default_error" default:"Something went wrong."`
	NotInVoice            string `yaml:"not_in_voice" default:"Join a voice channel first!"`
	UserPending           string `yaml:"user_pending" default:"You already have too many songs waiting."`
	DuplicateTrack        string `yaml:"duplicate_track" default:"That song is already playing or queued."`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"That song is too long or too short."`
	QueueFull             string `yaml:"queue_full" default:"The queue is full."`
	Blocked               string `yaml:"blocked" default:"You are not allowed to queue songs."`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("PLEX_TOKEN"); v != "" {
		c.Plex.Token = v
	}
	if v := os.Getenv("PLEX_BASE_URL"); v != "" {
		c.Plex.BaseURL = v
	}
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "not_in_voice":
		return c.Messages.NotInVoice
	case "user_pending":
		return c.Messages.UserPending
	case "duplicate_track":
		return c.Messages.DuplicateTrack
	case "duration_limit_exceeded":
		return c.Messages.DurationLimitExceeded
	case "queue_full":
		return c.Messages.QueueFull
	case "blocked":
		return c.Messages.Blocked
	default:
		return c.Messages.DefaultError
	}
}

// IsAdmin reports whether the user may run admin commands.
// Everyone is an admin when no admin IDs are configured.
func (c *Config) IsAdmin(userID string) bool {
	if len(c.Discord.AdminUserIDs) == 0 {
		return true
	}
	for _, id := range c.Discord.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	if c.Lyrics.Enabled && c.Lyrics.BaseURL == "" {
		return errors.New("lyrics.base_url is required when lyrics are enabled")
	}
	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// IdleTimeout returns the voice idle timeout.
func (c *PlaybackConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// StopGrace returns how long a halt waits for the stream to end.
func (c *PlaybackConfig) StopGrace() time.Duration {
	return time.Duration(c.StopGraceMs) * time.Millisecond
}

// Timeout returns the Plex request timeout.
func (c *PlexConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}
