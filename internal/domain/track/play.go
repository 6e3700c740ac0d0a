package track

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// PlayRecord is one finished play of a track in a guild.
type PlayRecord struct {
	GuildID   string
	Track     Track
	Requester Requester
	PlayedAt  time.Time
}

// Describe renders the play relative to now, e.g. "So What by Miles Davis (alice, 3 minutes ago)".
func (p PlayRecord) Describe(now time.Time) string {
	who := p.Requester.Name
	if who == "" {
		who = "unknown"
	}
	return fmt.Sprintf("%s (%s, %s)", p.Track.String(), who, humanize.RelTime(p.PlayedAt, now, "ago", "from now"))
}
