package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/plexbox/internal/domain/track"
)

// ErrNotLooping is returned by Unloop when loop mode is already off.
var ErrNotLooping = errors.New("not looping")

const (
	defaultIdleTimeout = 15 * time.Second
	defaultStopGrace   = 2 * time.Second
	defaultEventBuffer = 32
	noticeTimeout      = 10 * time.Second
)

// Config holds controller configuration.
type Config struct {
	GuildID     string        // Log label only
	IdleTimeout time.Duration // Disconnect after this long with nothing to play
	StopGrace   time.Duration // Max wait for the completion signal after a halt
	EventBuffer int           // Event channel capacity
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.StopGrace <= 0 {
		c.StopGrace = defaultStopGrace
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	return c
}

type request struct {
	ctx   context.Context
	op    string
	fn    func(ctx context.Context) error
	reply chan error
}

// Controller coordinates playback of one guild's queue through a voice sink.
//
// Run drives a single control loop. Every other method is safe for
// concurrent use. Queue mutations go straight to the queue; everything that
// touches the connection, the current slot, the loop lock or the now playing
// notice is sent into the loop as a request.
type Controller struct {
	queue    *Queue
	sink     VoiceSink
	notifier Notifier
	config   Config

	requests chan request
	eventCh  chan Event
	done     chan struct{}

	mu     sync.RWMutex
	status Status

	// Owned by the control loop.
	conn       Connection
	endpoint   Endpoint
	state      State
	current    *track.QueuedTrack
	loop       LoopMode
	handle     *MessageHandle
	completion chan error
	idle       *time.Timer
}

// NewController creates a new playback controller.
func NewController(config Config, sink VoiceSink, notifier Notifier) *Controller {
	config = config.withDefaults()
	return &Controller{
		queue:    NewQueue(),
		sink:     sink,
		notifier: notifier,
		config:   config,
		requests: make(chan request),
		eventCh:  make(chan Event, config.EventBuffer),
		done:     make(chan struct{}),
		state:    StateIdle,
		status:   Status{State: StateIdle},
	}
}

// Events returns the event channel.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Queue returns the pending queue.
func (c *Controller) Queue() *Queue {
	return c.queue
}

// Run executes the control loop until ctx is done. It must be called once.
// On return the connection is released and the state is Idle.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.shutdown()

	zlog.Debug().Msgf("playback loop started: guild_id=%s", c.config.GuildID)
	for {
		c.advance(ctx)

		select {
		case <-ctx.Done():
			zlog.Debug().Msgf("playback loop stopping: guild_id=%s", c.config.GuildID)
			return nil
		case req := <-c.requests:
			c.serve(req)
		case err := <-c.completion:
			c.finish(ctx, err)
		case <-c.readyCh():
		case <-c.idleCh():
			c.onIdle()
		}
	}
}

// Connect joins the endpoint if the controller is Idle.
// An existing connection is kept as is.
func (c *Controller) Connect(ctx context.Context, ep Endpoint) error {
	return c.do(ctx, "connect", func(ctx context.Context) error {
		return c.join(ctx, ep)
	})
}

// Submit joins the endpoint when Idle and appends items in one step of the
// control loop, so the idle timer cannot release the connection in between.
// On a connect failure nothing is enqueued. A non-nil notice is posted before
// the items become playable; otherwise a single item waiting behind an active
// one gets an "added to queue" notice from the caller's goroutine.
// It reports whether the items wait behind an active track.
func (c *Controller) Submit(ctx context.Context, ep Endpoint, items []track.QueuedTrack, notice *Notice) (bool, error) {
	var active bool
	err := c.do(ctx, "submit", func(ctx context.Context) error {
		if err := c.join(ctx, ep); err != nil {
			return err
		}
		active = c.state.Active()
		if notice != nil {
			c.post(ctx, *notice)
		}
		c.queue.Enqueue(items...)
		return nil
	})
	if err != nil {
		return false, err
	}
	if active && notice == nil && len(items) == 1 {
		qt := items[0]
		c.post(ctx, Notice{Kind: NoticeQueued, ChannelID: qt.ChannelID, Track: qt.Track})
	}
	return active, nil
}

// Enqueue appends a track and reports whether it is waiting behind an active one.
// When it is, an "added to queue" notice is posted from the caller's goroutine.
func (c *Controller) Enqueue(ctx context.Context, qt track.QueuedTrack) bool {
	c.queue.Enqueue(qt)
	if !c.State().Active() {
		return false
	}
	c.post(ctx, Notice{Kind: NoticeQueued, ChannelID: qt.ChannelID, Track: qt.Track})
	return true
}

// EnqueueAll appends tracks without posting per-track notices.
func (c *Controller) EnqueueAll(items []track.QueuedTrack) bool {
	c.queue.Enqueue(items...)
	return c.State().Active()
}

// Snapshot returns the pending queue.
func (c *Controller) Snapshot() []track.QueuedTrack {
	return c.queue.Snapshot()
}

// Len returns the number of queued items.
func (c *Controller) Len() int {
	return c.queue.Len()
}

// CountRequestedBy returns how many queued items the user requested directly.
func (c *Controller) CountRequestedBy(userID string) int {
	return c.queue.CountRequestedBy(userID)
}

// Clear empties the pending queue. A track already dequeued keeps playing.
func (c *Controller) Clear() []track.QueuedTrack {
	removed := c.queue.Clear()
	c.sendEvent(Event{Type: EventQueueCleared, State: c.State()})
	return removed
}

// Stop halts playback, drops the current track and loop lock, and disconnects.
// Queued items are kept. Stopping an Idle controller does nothing.
func (c *Controller) Stop(ctx context.Context) error {
	return c.do(ctx, "stop", func(ctx context.Context) error {
		if c.state == StateIdle {
			return nil
		}
		c.halt()
		c.current = nil
		c.loop = LoopMode{}
		c.retract(ctx)
		c.disarmIdle()
		c.disconnect()
		c.setState(StateIdle)
		return nil
	})
}

// Skip halts the current track and discards n-1 queued items from the head.
// Discards past the end of the queue are capped. Skip releases the loop lock.
func (c *Controller) Skip(ctx context.Context, n int) error {
	return c.do(ctx, "skip", func(ctx context.Context) error {
		if !c.state.Active() || c.current == nil {
			return ErrNotPlaying
		}
		if n < 1 {
			n = 1
		}
		skipped := c.current
		c.halt()
		c.current = nil
		c.loop = LoopMode{}
		c.retract(ctx)
		discarded := c.queue.Discard(n - 1)
		zlog.Info().Msgf("track skipped: guild_id=%s track=%q discarded=%d", c.config.GuildID, skipped.Track.String(), discarded)
		c.state = StateAwaitingNext
		c.publish()
		c.sendEvent(Event{Type: EventTrackSkipped, Track: skipped, State: c.state})
		return nil
	})
}

// Pause suspends the current track.
func (c *Controller) Pause(ctx context.Context) error {
	return c.do(ctx, "pause", func(ctx context.Context) error {
		switch c.state {
		case StatePlaying:
		case StatePaused:
			return ErrAlreadyPaused
		default:
			return ErrNoTrack
		}
		if err := callSafely(c.conn.Pause); err != nil {
			return &SinkError{Op: "pause", Err: err}
		}
		c.setState(StatePaused)
		return nil
	})
}

// Resume continues a paused track.
func (c *Controller) Resume(ctx context.Context) error {
	return c.do(ctx, "resume", func(ctx context.Context) error {
		switch c.state {
		case StatePaused:
		case StatePlaying:
			return ErrNotPaused
		default:
			return ErrNoTrack
		}
		if err := callSafely(c.conn.Resume); err != nil {
			return &SinkError{Op: "resume", Err: err}
		}
		c.setState(StatePlaying)
		return nil
	})
}

// Loop locks the current track so that it replays on every cycle.
func (c *Controller) Loop(ctx context.Context) error {
	return c.do(ctx, "loop", func(ctx context.Context) error {
		if c.current == nil {
			return ErrNoTrack
		}
		c.loop = LoopOn(*c.current)
		c.publish()
		return nil
	})
}

// Unloop releases the loop lock. The current track finishes normally.
func (c *Controller) Unloop(ctx context.Context) error {
	return c.do(ctx, "unloop", func(ctx context.Context) error {
		if !c.loop.On() {
			return ErrNotLooping
		}
		c.loop = LoopMode{}
		c.publish()
		return nil
	})
}

// Reannounce retracts the live now playing notice and posts a fresh one.
// An empty channelID reuses the channel the track was requested from.
func (c *Controller) Reannounce(ctx context.Context, channelID string) error {
	return c.do(ctx, "reannounce", func(ctx context.Context) error {
		if c.current == nil {
			return ErrNoTrack
		}
		if channelID == "" {
			channelID = c.current.ChannelID
		}
		c.announce(ctx, c.current.Track, channelID)
		return nil
	})
}

// Status returns the last published status.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// State returns the current state.
func (c *Controller) State() State {
	return c.Status().State
}

// Current returns the track in the current slot.
func (c *Controller) Current() (track.QueuedTrack, bool) {
	st := c.Status()
	if st.Current == nil {
		return track.QueuedTrack{}, false
	}
	return *st.Current, true
}

// Looping reports whether loop mode is on.
func (c *Controller) Looping() bool {
	return c.Status().Looping
}

func (c *Controller) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	reply := make(chan error, 1)
	select {
	case c.requests <- request{ctx: ctx, op: op, fn: fn, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// join connects when Idle. A connected controller restarts its idle timer.
func (c *Controller) join(ctx context.Context, ep Endpoint) error {
	if c.state != StateIdle {
		c.disarmIdle()
		return nil
	}
	var conn Connection
	err := callSafely(func() error {
		var err error
		conn, err = c.sink.Connect(ctx, ep)
		return err
	})
	if err != nil {
		return &SinkError{Op: "connect", Err: err}
	}
	c.conn = conn
	c.endpoint = ep
	zlog.Info().Msgf("voice connected: guild_id=%s channel_id=%s", ep.GuildID, ep.ChannelID)
	c.setState(StateAwaitingNext)
	return nil
}

func (c *Controller) serve(req request) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Newf("%s: panic: %v", req.op, r)
				zlog.Error().Msgf("recovered from panic: guild_id=%s op=%s panic=%v", c.config.GuildID, req.op, r)
			}
		}()
		err = req.fn(req.ctx)
	}()
	req.reply <- err
}

// advance starts the next item while AwaitingNext, arming the idle timer
// when there is nothing to play.
func (c *Controller) advance(ctx context.Context) {
	for c.state == StateAwaitingNext {
		next, fresh, ok := c.next()
		if !ok {
			c.armIdle()
			return
		}
		c.disarmIdle()

		if err := c.start(ctx, next, fresh); err != nil {
			zlog.Warn().Msgf("failed to play track: guild_id=%s track=%q err=%v", c.config.GuildID, next.Track.String(), err)
			if !fresh {
				c.loop = LoopMode{}
				c.publish()
			}
			c.sendEvent(Event{Type: EventTrackFailed, Track: &next, State: c.state, Err: err})
		}
	}
}

func (c *Controller) next() (track.QueuedTrack, bool, bool) {
	if locked, ok := c.loop.Track(); ok {
		return locked, false, true
	}
	qt, ok := c.queue.TryDequeue()
	return qt, true, ok
}

func (c *Controller) start(ctx context.Context, qt track.QueuedTrack, fresh bool) error {
	done := make(chan error, 1)
	var once sync.Once
	onComplete := func(err error) {
		once.Do(func() { done <- err })
	}

	err := callSafely(func() error {
		return c.conn.Play(qt.Track.SourceURL, onComplete)
	})
	if err != nil {
		return &SinkError{Op: "play", Err: err}
	}

	c.completion = done
	c.current = &qt
	c.state = StatePlaying
	c.publish()
	zlog.Info().Msgf("track started: guild_id=%s track=%q requester=%s loop=%t", c.config.GuildID, qt.Track.String(), qt.Requester.Name, !fresh)

	if fresh {
		c.announce(ctx, qt.Track, qt.ChannelID)
	}
	c.sendEvent(Event{Type: EventTrackStarted, Track: &qt, State: c.state})
	return nil
}

// finish handles the completion signal of the current track.
func (c *Controller) finish(ctx context.Context, err error) {
	c.completion = nil
	finished := c.current
	c.current = nil
	c.state = StateAwaitingNext
	c.retract(ctx)

	if err != nil {
		zlog.Warn().Msgf("track stream failed: guild_id=%s err=%v", c.config.GuildID, err)
		// A locked track that cannot stream would replay forever.
		c.loop = LoopMode{}
		c.publish()
		c.sendEvent(Event{Type: EventTrackFailed, Track: finished, State: c.state, Err: err})
		return
	}
	c.publish()
	c.sendEvent(Event{Type: EventTrackEnded, Track: finished, State: c.state})
}

// halt stops the sink and waits up to StopGrace for the completion signal.
func (c *Controller) halt() {
	if c.completion == nil {
		return
	}
	if err := callSafely(c.conn.Stop); err != nil {
		zlog.Warn().Msgf("failed to stop playback: guild_id=%s err=%v", c.config.GuildID, &SinkError{Op: "stop", Err: err})
	}
	select {
	case <-c.completion:
	case <-time.After(c.config.StopGrace):
		zlog.Warn().Msgf("completion signal not received within grace: guild_id=%s grace=%v", c.config.GuildID, c.config.StopGrace)
	}
	c.completion = nil
}

func (c *Controller) onIdle() {
	c.idle = nil
	if c.state != StateAwaitingNext || c.loop.On() || c.queue.Len() > 0 {
		return
	}
	zlog.Info().Msgf("idle timeout reached, disconnecting: guild_id=%s timeout=%v", c.config.GuildID, c.config.IdleTimeout)
	c.disconnect()
	c.setState(StateIdle)
}

// disconnect releases the connection even when the sink reports an error.
func (c *Controller) disconnect() {
	if c.conn == nil {
		return
	}
	conn := c.conn
	c.conn = nil
	c.endpoint = Endpoint{}

	if err := callSafely(conn.Disconnect); err != nil {
		zlog.Warn().Msgf("failed to disconnect: guild_id=%s err=%v", c.config.GuildID, &SinkError{Op: "disconnect", Err: err})
	}
	zlog.Info().Msgf("voice disconnected: guild_id=%s", c.config.GuildID)
	c.sendEvent(Event{Type: EventDisconnected, State: StateIdle})
}

func (c *Controller) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), noticeTimeout)
	defer cancel()

	c.disarmIdle()
	c.halt()
	c.current = nil
	c.loop = LoopMode{}
	c.retract(ctx)
	c.disconnect()
	c.state = StateIdle
	c.publish()
}

func (c *Controller) readyCh() <-chan struct{} {
	if c.state != StateAwaitingNext || c.loop.On() {
		return nil
	}
	return c.queue.Ready()
}

func (c *Controller) idleCh() <-chan time.Time {
	if c.idle == nil {
		return nil
	}
	return c.idle.C
}

func (c *Controller) armIdle() {
	if c.idle != nil {
		return
	}
	c.idle = time.NewTimer(c.config.IdleTimeout)
}

func (c *Controller) disarmIdle() {
	if c.idle == nil {
		return
	}
	c.idle.Stop()
	c.idle = nil
}

// announce replaces the live now playing notice.
func (c *Controller) announce(ctx context.Context, t track.Track, channelID string) {
	c.retract(ctx)
	if c.notifier == nil || channelID == "" {
		return
	}

	nctx, cancel := context.WithTimeout(ctx, noticeTimeout)
	defer cancel()

	var h MessageHandle
	err := callSafely(func() error {
		var err error
		h, err = c.notifier.Post(nctx, Notice{Kind: NoticeNowPlaying, ChannelID: channelID, Track: t})
		return err
	})
	if err != nil {
		zlog.Warn().Msgf("failed to post now playing notice: guild_id=%s err=%v", c.config.GuildID, err)
		return
	}
	c.handle = &h
}

// retract removes the live now playing notice. Failures are ignored.
func (c *Controller) retract(ctx context.Context) {
	if c.handle == nil || c.notifier == nil {
		return
	}
	h := *c.handle
	c.handle = nil

	nctx, cancel := context.WithTimeout(ctx, noticeTimeout)
	defer cancel()

	err := callSafely(func() error {
		return c.notifier.Retract(nctx, h)
	})
	if err != nil {
		zlog.Debug().Msgf("failed to retract notice: guild_id=%s message_id=%s gone=%t err=%v",
			c.config.GuildID, h.MessageID, errors.Is(err, ErrMessageGone), err)
	}
}

// post sends a notice that is not tracked for retraction.
func (c *Controller) post(ctx context.Context, n Notice) {
	if c.notifier == nil || n.ChannelID == "" {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, noticeTimeout)
	defer cancel()

	err := callSafely(func() error {
		_, err := c.notifier.Post(nctx, n)
		return err
	})
	if err != nil {
		zlog.Warn().Msgf("failed to post notice: guild_id=%s kind=%s err=%v", c.config.GuildID, n.Kind, err)
	}
}

func (c *Controller) setState(s State) {
	c.state = s
	c.publish()
	c.sendEvent(Event{Type: EventStateChanged, Track: c.current, State: s})
}

func (c *Controller) publish() {
	st := Status{State: c.state, Looping: c.loop.On()}
	if c.current != nil {
		cp := *c.current
		st.Current = &cp
	}
	if c.state != StateIdle {
		st.Endpoint = c.endpoint
	}

	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
}

// sendEvent sends an event without blocking.
// Events are dropped when the channel is full.
func (c *Controller) sendEvent(e Event) {
	select {
	case c.eventCh <- e:
	default:
		zlog.Debug().Msgf("event dropped: guild_id=%s type=%s", c.config.GuildID, e.Type)
	}
}

// callSafely runs fn, turning a panic into an error.
func callSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
		}
	}()
	return fn()
}
