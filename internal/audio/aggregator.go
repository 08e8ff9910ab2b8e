package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultBatchFragments = 6
	DefaultFollowUpDelay  = 50 * time.Millisecond
)

// Sink receives concatenated batches. Ready reports whether a batch sent now
// would reach an active recording; when it is false the batch is dropped.
type Sink interface {
	Ready() bool
	Send(ctx context.Context, batch []byte) error
}

type AggregatorConfig struct {
	Threshold int
	// FollowUpDelay returns the wait before a follow-up flush. Sessions pass
	// the health monitor's scaled delay here.
	FollowUpDelay func() time.Duration
}

type Stats struct {
	Fragments      int64
	BytesAdded     int64
	BytesSent      int64
	BytesDiscarded int64
	Flushes        int64
}

type Aggregator struct {
	ctx    context.Context
	sink   Sink
	cfg    AggregatorConfig
	logger *slog.Logger

	mu       sync.Mutex
	idle     *sync.Cond
	buf      []byte
	count    int
	inFlight bool
	timer    *time.Timer
	closed   bool
	stats    Stats

	wg sync.WaitGroup
}

func NewAggregator(ctx context.Context, sink Sink, cfg AggregatorConfig, logger *slog.Logger) *Aggregator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultBatchFragments
	}
	if cfg.FollowUpDelay == nil {
		cfg.FollowUpDelay = func() time.Duration { return DefaultFollowUpDelay }
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{ctx: ctx, sink: sink, cfg: cfg, logger: logger}
	a.idle = sync.NewCond(&a.mu)
	return a
}

// Add buffers one fragment and starts an asynchronous flush once the
// threshold is reached and nothing is in flight.
func (a *Aggregator) Add(fragment []byte) {
	if len(fragment) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.stats.Fragments++
	a.stats.BytesAdded += int64(len(fragment))
	if !a.sink.Ready() {
		a.discardLocked(len(fragment))
		return
	}
	a.buf = append(a.buf, fragment...)
	a.count++
	if a.count >= a.cfg.Threshold && !a.inFlight {
		a.startFlushLocked()
	}
}

// Flush sends whatever is buffered, waiting for an in-flight send first so
// batches keep their order.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	for a.inFlight {
		a.idle.Wait()
	}
	a.stopTimerLocked()
	if a.closed || len(a.buf) == 0 {
		a.mu.Unlock()
		return nil
	}
	batch := a.takeLocked()
	a.inFlight = true
	a.mu.Unlock()

	err := a.send(ctx, batch)

	a.mu.Lock()
	a.inFlight = false
	a.idle.Broadcast()
	a.mu.Unlock()
	return err
}

// Discard drops buffered audio, used when recording stops.
func (a *Aggregator) Discard() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopTimerLocked()
	a.discardLocked(0)
}

func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.stopTimerLocked()
	a.discardLocked(0)
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Aggregator) startFlushLocked() {
	batch := a.takeLocked()
	a.inFlight = true
	a.wg.Add(1)
	go a.flushAsync(batch)
}

func (a *Aggregator) flushAsync(batch []byte) {
	defer a.wg.Done()
	if err := a.send(a.ctx, batch); err != nil {
		a.logger.Warn("failed to send audio batch", "bytes", len(batch), "error", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight = false
	a.idle.Broadcast()
	if a.closed || a.count < a.cfg.Threshold || a.timer != nil {
		return
	}
	a.wg.Add(1)
	a.timer = time.AfterFunc(a.cfg.FollowUpDelay(), a.followUp)
}

func (a *Aggregator) followUp() {
	defer a.wg.Done()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timer = nil
	if a.closed || a.inFlight || a.count == 0 {
		return
	}
	a.startFlushLocked()
}

func (a *Aggregator) send(ctx context.Context, batch []byte) error {
	if !a.sink.Ready() {
		a.mu.Lock()
		a.stats.BytesDiscarded += int64(len(batch))
		a.mu.Unlock()
		return nil
	}
	if err := a.sink.Send(ctx, batch); err != nil {
		a.mu.Lock()
		a.stats.BytesDiscarded += int64(len(batch))
		a.mu.Unlock()
		return err
	}
	a.mu.Lock()
	a.stats.BytesSent += int64(len(batch))
	a.stats.Flushes++
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) takeLocked() []byte {
	batch := a.buf
	a.buf = nil
	a.count = 0
	return batch
}

func (a *Aggregator) discardLocked(extra int) {
	a.stats.BytesDiscarded += int64(len(a.buf) + extra)
	a.buf = nil
	a.count = 0
}

func (a *Aggregator) stopTimerLocked() {
	if a.timer != nil && a.timer.Stop() {
		a.wg.Done()
	}
	a.timer = nil
}
