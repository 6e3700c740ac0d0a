package discord

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/osa030/plexbox/internal/app/playback"
)

// ErrNotStreaming is returned by Pause when nothing is streaming.
var ErrNotStreaming = errors.New("not streaming")

// streamOpener starts an Ogg Opus stream for a source URL.
// wait reaps the producer once the stream is drained or abandoned.
type streamOpener func(ctx context.Context, source string) (stream io.ReadCloser, wait func() error, err error)

// voiceLink is the part of a discordgo voice connection the player drives.
type voiceLink interface {
	Speaking(b bool) error
	Disconnect() error
}

// Sink joins Discord voice channels and streams through ffmpeg.
type Sink struct {
	session *discordgo.Session
	open    streamOpener
	log     zerolog.Logger
}

// NewSink creates a new voice sink.
func NewSink(s *discordgo.Session, ffmpegPath string, bitrateKbps int, log zerolog.Logger) *Sink {
	return &Sink{
		session: s,
		open:    ffmpegStream(ffmpegPath, bitrateKbps, log),
		log:     log,
	}
}

// Connect joins the voice channel, deafened.
func (s *Sink) Connect(ctx context.Context, ep playback.Endpoint) (playback.Connection, error) {
	vc, err := s.session.ChannelVoiceJoin(ep.GuildID, ep.ChannelID, false, true)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to join voice channel %s", ep.ChannelID)
	}
	s.log.Debug().Msgf("joined voice channel: guild_id=%s channel_id=%s", ep.GuildID, ep.ChannelID)
	return newConnection(vc, vc.OpusSend, s.open), nil
}

// connection streams one track at a time into a voice channel.
type connection struct {
	link voiceLink
	send chan<- []byte
	open streamOpener

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	resume  chan struct{} // Non-nil while paused
	playing bool
}

func newConnection(link voiceLink, send chan<- []byte, open streamOpener) *connection {
	return &connection{link: link, send: send, open: open}
}

// Play starts streaming source. A stream still running is stopped first.
func (c *connection) Play(source string, onComplete func(error)) error {
	c.stopAndWait()

	ctx, cancel := context.WithCancel(context.Background())
	stream, wait, err := c.open(ctx, source)
	if err != nil {
		cancel()
		return errors.Wrap(err, "failed to open stream")
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.resume = nil
	c.playing = true
	c.mu.Unlock()

	go c.run(ctx, stream, wait, done, onComplete)
	return nil
}

func (c *connection) run(ctx context.Context, stream io.ReadCloser, wait func() error, done chan struct{}, onComplete func(error)) {
	defer close(done)

	err := c.pump(ctx, NewOggReader(stream))
	stream.Close()
	if werr := wait(); err == nil && ctx.Err() == nil && werr != nil {
		err = errors.Wrap(werr, "stream producer failed")
	}
	_ = c.link.Speaking(false)

	c.mu.Lock()
	if c.done == done {
		c.cancel = nil
		c.done = nil
		c.resume = nil
		c.playing = false
	}
	c.mu.Unlock()

	onComplete(err)
}

// pump forwards packets until the stream ends or ctx is canceled.
// Cancellation is a normal end.
func (c *connection) pump(ctx context.Context, r *OggReader) error {
	speaking := false
	for {
		if err := c.waitResumed(ctx); err != nil {
			return nil
		}

		packet, err := r.ReadPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if !speaking {
			_ = c.link.Speaking(true)
			speaking = true
		}
		select {
		case c.send <- packet:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *connection) waitResumed(ctx context.Context) error {
	c.mu.Lock()
	gate := c.resume
	c.mu.Unlock()
	if gate == nil {
		return ctx.Err()
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the running stream. Its completion callback fires with nil.
func (c *connection) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *connection) stopAndWait() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Pause holds the stream until Resume.
func (c *connection) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return ErrNotStreaming
	}
	if c.resume == nil {
		c.resume = make(chan struct{})
	}
	return nil
}

// Resume releases a paused stream.
func (c *connection) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resume != nil {
		close(c.resume)
		c.resume = nil
	}
	return nil
}

// IsPlaying reports whether audio is flowing.
func (c *connection) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing && c.resume == nil
}

// Disconnect stops streaming and leaves the channel.
func (c *connection) Disconnect() error {
	c.stopAndWait()
	if err := c.link.Disconnect(); err != nil {
		return errors.Wrap(err, "failed to leave voice channel")
	}
	return nil
}

// ffmpegStream transcodes sources into 48kHz stereo Opus in an Ogg container.
func ffmpegStream(path string, bitrateKbps int, log zerolog.Logger) streamOpener {
	return func(ctx context.Context, source string) (io.ReadCloser, func() error, error) {
		cmd := exec.CommandContext(ctx, path,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-i", source,
			"-vn",
			"-map", "0:a",
			"-c:a", "libopus",
			"-b:a", fmt.Sprintf("%dk", bitrateKbps),
			"-ar", "48000",
			"-ac", "2",
			"-frame_duration", "20",
			"-application", "audio",
			"-f", "ogg",
			"-loglevel", "warning",
			"pipe:1",
		)
		cmd.Stderr = log.With().Str("source", "ffmpeg").Logger()

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, nil, errors.Wrap(err, "stdout pipe error")
		}
		if err := cmd.Start(); err != nil {
			return nil, nil, errors.Wrap(err, "failed to start ffmpeg")
		}
		return stdout, cmd.Wait, nil
	}
}
