// Package main provides the status CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/osa030/plexbox/internal/api/status"
	"github.com/osa030/plexbox/internal/app/notification"
)

var (
	app    = kingpin.New("plexctl", "plexbox status client")
	server = app.Flag("server", "Status API address").Default("http://localhost:8080").Envar("PLEXBOX_SERVER").String()

	// guilds command
	guildsCmd = app.Command("guilds", "List guild sessions").Alias("list")

	// status command
	statusCmd   = app.Command("status", "Show playback status of a guild")
	statusGuild = statusCmd.Arg("guild-id", "Guild ID").Required().String()

	// queue command
	queueCmd   = app.Command("queue", "Show the queue of a guild")
	queueGuild = queueCmd.Arg("guild-id", "Guild ID").Required().String()

	// history command
	historyCmd   = app.Command("history", "Show recently played tracks of a guild")
	historyGuild = historyCmd.Arg("guild-id", "Guild ID").Required().String()
	historyLimit = historyCmd.Flag("limit", "Number of entries").Default("10").Int()

	// watch command
	watchCmd   = app.Command("watch", "Stream playback events")
	watchGuild = watchCmd.Arg("guild-id", "Guild ID (all guilds when omitted)").String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := &apiClient{base: strings.TrimRight(*server, "/"), http: &http.Client{Timeout: status.RequestTimeout}}
	ctx := context.Background()

	var err error
	switch command {
	case guildsCmd.FullCommand():
		err = guilds(ctx, client)
	case statusCmd.FullCommand():
		err = showStatus(ctx, client, *statusGuild)
	case queueCmd.FullCommand():
		err = showQueue(ctx, client, *queueGuild)
	case historyCmd.FullCommand():
		err = showHistory(ctx, client, *historyGuild, *historyLimit)
	case watchCmd.FullCommand():
		err = watch(client.base, *watchGuild)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

type apiClient struct {
	base string
	http *http.Client
}

// get decodes the JSON body of path into v.
func (c *apiClient) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e status.ErrResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.ErrorText != "" {
			return errors.Newf("%s (%d)", e.ErrorText, resp.StatusCode)
		}
		return errors.Newf("unexpected status: %s", resp.Status)
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(v), "failed to decode response")
}

func guilds(ctx context.Context, c *apiClient) error {
	var resp status.GuildsResponse
	if err := c.get(ctx, "/api/guilds", &resp); err != nil {
		return err
	}

	fmt.Printf("Guilds (%d):\n", len(resp.Guilds))
	for _, g := range resp.Guilds {
		fmt.Printf("  %s: %s (queued: %d, since %s)\n",
			g.GuildID, g.State, g.QueueLength, humanize.Time(g.StartedAt))
	}
	return nil
}

func showStatus(ctx context.Context, c *apiClient, guildID string) error {
	var s status.StatusResponse
	if err := c.get(ctx, "/api/guilds/"+url.PathEscape(guildID)+"/status", &s); err != nil {
		return err
	}

	fmt.Println("\n=== GUILD STATUS ===")
	fmt.Printf("Guild ID: %s\n", s.GuildID)
	fmt.Printf("Session ID: %s\n", s.SessionID)
	fmt.Printf("State: %s\n", s.State)
	fmt.Printf("Looping: %v\n", s.Looping)
	if s.VoiceChannelID != "" {
		fmt.Printf("Voice Channel: %s\n", s.VoiceChannelID)
	}
	fmt.Printf("Queue: %d tracks (%s)\n", s.QueueLength, formatMs(s.QueueDurationMs))

	if s.Current != nil {
		fmt.Printf("\nCurrently Playing:\n")
		printTrack("  ", s.Current)
	} else {
		fmt.Println("\nNo track currently playing")
	}
	fmt.Println()
	return nil
}

func showQueue(ctx context.Context, c *apiClient, guildID string) error {
	var q status.QueueResponse
	if err := c.get(ctx, "/api/guilds/"+url.PathEscape(guildID)+"/queue", &q); err != nil {
		return err
	}

	if len(q.Items) == 0 {
		fmt.Println("The queue is empty")
		return nil
	}
	fmt.Printf("Queue (%d tracks, %s):\n", len(q.Items), formatMs(q.TotalDurationMs))
	for i, t := range q.Items {
		fmt.Printf("  %d. %s - %s [%s] (requested by %s)\n",
			i+1, t.Title, t.Artist, formatMs(t.DurationMs), t.RequesterName)
	}
	return nil
}

func showHistory(ctx context.Context, c *apiClient, guildID string, limit int) error {
	var h status.HistoryResponse
	path := "/api/guilds/" + url.PathEscape(guildID) + "/history?limit=" + strconv.Itoa(limit)
	if err := c.get(ctx, path, &h); err != nil {
		return err
	}

	if len(h.Entries) == 0 {
		fmt.Println("Nothing has been played yet")
		return nil
	}
	fmt.Printf("History (%d):\n", len(h.Entries))
	for _, e := range h.Entries {
		fmt.Printf("  %s by %s (%s, %s)\n", e.Title, e.Artist, e.RequesterName, e.Ago)
	}
	return nil
}

// watch prints websocket events until interrupted.
func watch(base, guildID string) error {
	u, err := url.Parse(base)
	if err != nil {
		return errors.Wrap(err, "invalid server address")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	if guildID != "" {
		u.RawQuery = url.Values{"guild_id": {guildID}}.Encode()
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "failed to connect")
	}
	defer conn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	fmt.Printf("Watching %s (Ctrl+C to stop)\n", u.String())
	for {
		var n notification.Notification
		if err := conn.ReadJSON(&n); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "connection lost")
		}
		printEvent(&n)
	}
}

func printEvent(n *notification.Notification) {
	line := fmt.Sprintf("[%s] #%d %s guild=%s", n.Time.Local().Format(time.TimeOnly), n.SequenceNo, n.Type, n.GuildID)
	if n.State != "" {
		line += " state=" + n.State
	}
	if n.Track != nil {
		line += fmt.Sprintf(" track=%q by %s", n.Track.Title, n.Track.Artist)
	}
	fmt.Println(line)
}

func printTrack(indent string, t *notification.TrackInfo) {
	fmt.Printf("%sTitle: %s\n", indent, t.Title)
	fmt.Printf("%sArtist: %s\n", indent, t.Artist)
	fmt.Printf("%sAlbum: %s\n", indent, t.Album)
	fmt.Printf("%sDuration: %s\n", indent, formatMs(t.DurationMs))
	fmt.Printf("%sRequested by: %s (%s)\n", indent, t.RequesterName, t.RequesterType)
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}
