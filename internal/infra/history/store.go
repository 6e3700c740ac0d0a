// Package history persists played tracks in SQLite.
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/osa030/plexbox/internal/domain/track"
)

const schema = `
CREATE TABLE IF NOT EXISTS plays (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id       TEXT    NOT NULL,
	track_id       TEXT    NOT NULL,
	title          TEXT    NOT NULL,
	artist         TEXT    NOT NULL DEFAULT '',
	album          TEXT    NOT NULL DEFAULT '',
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	requester_id   TEXT    NOT NULL DEFAULT '',
	requester_name TEXT    NOT NULL DEFAULT '',
	requester_type TEXT    NOT NULL DEFAULT '',
	played_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plays_guild_played ON plays (guild_id, played_at DESC);
`

// Store is a play history backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create history directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open history database")
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize history schema")
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a play.
func (s *Store) Record(ctx context.Context, e track.PlayRecord) error {
	if e.PlayedAt.IsZero() {
		e.PlayedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plays (guild_id, track_id, title, artist, album, duration_ms,
			requester_id, requester_name, requester_type, played_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.GuildID, e.Track.ID, e.Track.Title, e.Track.Artist, e.Track.Album,
		e.Track.Duration.Milliseconds(),
		e.Requester.ID, e.Requester.Name, string(e.Requester.Type),
		e.PlayedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to record play")
	}
	return nil
}

// Recent returns up to limit plays for the guild, newest first.
func (s *Store) Recent(ctx context.Context, guildID string, limit int) ([]track.PlayRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT track_id, title, artist, album, duration_ms,
			requester_id, requester_name, requester_type, played_at
		FROM plays
		WHERE guild_id = ?
		ORDER BY played_at DESC, id DESC
		LIMIT ?`, guildID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query history")
	}
	defer rows.Close()

	entries := make([]track.PlayRecord, 0, limit)
	for rows.Next() {
		var (
			e             track.PlayRecord
			durationMS    int64
			playedAtMS    int64
			requesterType string
		)
		if err := rows.Scan(&e.Track.ID, &e.Track.Title, &e.Track.Artist, &e.Track.Album, &durationMS,
			&e.Requester.ID, &e.Requester.Name, &requesterType, &playedAtMS); err != nil {
			return nil, errors.Wrap(err, "failed to scan history row")
		}
		e.GuildID = guildID
		e.Track.Duration = time.Duration(durationMS) * time.Millisecond
		e.Requester.Type = track.RequesterType(requesterType)
		e.PlayedAt = time.UnixMilli(playedAtMS)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate history rows")
	}
	return entries, nil
}

// Count returns the number of plays recorded for the guild.
func (s *Store) Count(ctx context.Context, guildID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM plays WHERE guild_id = ?`, guildID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count history")
	}
	return n, nil
}
