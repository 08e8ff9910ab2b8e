package transcriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	DefaultConnectTimeout       = 10 * time.Second
	DefaultMaxReconnectAttempts = 3
	DefaultReconnectBackoff     = 500 * time.Millisecond

	eventBufferSize = 64
)

var ErrConnectTimeout = errors.New("transcriber: connect timed out")

type EventKind int

const (
	EventInterim EventKind = iota
	EventFinal
	EventDropped
)

func (k EventKind) String() string {
	switch k {
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	case EventDropped:
		return "dropped"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event carries the generation of the stream that produced it so consumers
// can ignore interim text from a stream that has since been replaced.
type Event struct {
	Kind       EventKind
	Text       string
	Generation uint64
	Err        error
}

type ChannelConfig struct {
	SessionID            string
	Language             string
	ConnectTimeout       time.Duration
	MaxReconnectAttempts int
	// Backoff returns the wait before reconnect attempt n (1-based).
	Backoff func(attempt int) time.Duration
}

// Channel owns at most one live ASR stream for a session and multiplexes
// results from successive streams onto a single event channel.
type Channel struct {
	transcriber Transcriber
	cfg         ChannelConfig
	logger      *slog.Logger

	mu         sync.Mutex
	writer     StreamWriter
	cancel     context.CancelFunc
	generation uint64
	recording  bool
	closed     bool

	events chan Event
	done   chan struct{}
}

func NewChannel(t Transcriber, cfg ChannelConfig, logger *slog.Logger) *Channel {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = func(int) time.Duration { return DefaultReconnectBackoff }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		transcriber: t,
		cfg:         cfg,
		logger:      logger.With("session_id", cfg.SessionID),
		events:      make(chan Event, eventBufferSize),
		done:        make(chan struct{}),
	}
}

func (c *Channel) Events() <-chan Event {
	return c.events
}

// Connect opens a fresh stream, replacing any existing one. The stream lives
// until ctx is cancelled or the channel is closed; only the handshake is
// bounded by ConnectTimeout.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.resetLocked()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)
	resCh := make(chan connectResult, 1)
	go func() {
		w, err := c.transcriber.StartStreaming(streamCtx, c.cfg.SessionID, c.cfg.Language, &receiver{ch: c, generation: gen})
		resCh <- connectResult{w: w, err: err}
	}()

	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()

	var res connectResult
	select {
	case res = <-resCh:
	case <-timer.C:
		cancel()
		go closeLate(resCh)
		return ErrConnectTimeout
	case <-ctx.Done():
		cancel()
		go closeLate(resCh)
		return ctx.Err()
	}
	if res.err != nil {
		cancel()
		return fmt.Errorf("start streaming: %w", res.err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.generation != gen {
		cancel()
		_ = res.w.Close()
		return ErrNotConnected
	}
	c.writer = res.w
	c.cancel = cancel
	c.logger.Info("transcript channel connected", "generation", gen)
	return nil
}

type connectResult struct {
	w   StreamWriter
	err error
}

// closeLate releases a stream whose handshake finished after Connect gave up.
func closeLate(ch <-chan connectResult) {
	if res := <-ch; res.w != nil {
		_ = res.w.Close()
	}
}

// Reconnect retries Connect with a backoff supplied by the session, giving up
// after MaxReconnectAttempts.
func (c *Channel) Reconnect(ctx context.Context) error {
	attempt := 0
	if err := sleepCtx(ctx, c.cfg.Backoff(1)); err != nil {
		return err
	}
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		if attempt >= c.cfg.MaxReconnectAttempts {
			return 0, true
		}
		return c.cfg.Backoff(attempt + 1), false
	})
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		c.logger.Info("reconnecting transcript channel", "attempt", attempt)
		if err := c.Connect(ctx); err != nil {
			if errors.Is(err, ErrNotConnected) && c.isClosed() {
				return err
			}
			c.logger.Warn("transcript channel reconnect failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send forwards one audio batch to the live stream. A write failure is
// reported as a drop so the session can decide whether to reconnect.
func (c *Channel) Send(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	w := c.writer
	gen := c.generation
	if w == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	err := w.Write(pcm)
	c.mu.Unlock()
	if err != nil {
		c.drop(gen, err)
		return err
	}
	return nil
}

// Ready reports whether audio sent now would be transcribed for an active
// recording.
func (c *Channel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writer != nil && c.recording && !c.closed
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writer != nil
}

func (c *Channel) SetRecording(active bool) {
	c.mu.Lock()
	c.recording = active
	c.mu.Unlock()
}

func (c *Channel) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	err := c.resetLocked()
	c.mu.Unlock()
	close(c.done)
	return err
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) resetLocked() error {
	var err error
	if c.writer != nil {
		err = c.writer.Close()
		c.writer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return err
}

func (c *Channel) drop(gen uint64, cause error) {
	c.mu.Lock()
	if c.closed || gen != c.generation || c.writer == nil {
		c.mu.Unlock()
		return
	}
	_ = c.resetLocked()
	c.mu.Unlock()

	c.logger.Warn("transcript channel dropped", "generation", gen, "error", cause)
	// Send may run on a goroutine the event consumer waits on.
	go c.emit(Event{Kind: EventDropped, Generation: gen, Err: cause})
}

func (c *Channel) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

type receiver struct {
	ch         *Channel
	generation uint64
}

func (r *receiver) OnResult(text string, isFinal bool) {
	kind := EventInterim
	if isFinal {
		kind = EventFinal
	}
	r.ch.emit(Event{Kind: kind, Text: text, Generation: r.generation})
}

func (r *receiver) OnError(err error) {
	r.ch.drop(r.generation, err)
}
