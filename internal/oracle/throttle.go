package oracle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultMinInterval    = 2 * time.Second
	DefaultMinWords       = 30
	DefaultMaxConsecutive = 2
	DefaultCallTimeout    = 8 * time.Second
	DefaultMinNewWords    = 3
)

type Status int

const (
	StatusSkipped Status = iota
	StatusPending
	// StatusForced means the consecutive-incomplete cap was reached without
	// new text; the caller must advance without asking the oracle.
	StatusForced
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusForced:
		return "forced"
	default:
		return "skipped"
	}
}

type Outcome int

const (
	OutcomeIncomplete Outcome = iota
	OutcomeComplete
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeFailed:
		return "failed"
	default:
		return "incomplete"
	}
}

type Decision struct {
	Outcome     Outcome
	Consecutive int
	Err         error
}

type ThrottleConfig struct {
	MinInterval    time.Duration
	MinWords       int
	MaxConsecutive int
	CallTimeout    time.Duration
	// MinNewWords is how much the answer must grow after a verdict before
	// the consecutive-incomplete counter starts over.
	MinNewWords int
	// Scale stretches MinInterval; sessions pass the health monitor here.
	Scale func(time.Duration) time.Duration
	Now   func() time.Time
}

func (c ThrottleConfig) withDefaults() ThrottleConfig {
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.MinWords <= 0 {
		c.MinWords = DefaultMinWords
	}
	if c.MaxConsecutive <= 0 {
		c.MaxConsecutive = DefaultMaxConsecutive
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.MinNewWords <= 0 {
		c.MinNewWords = DefaultMinNewWords
	}
	if c.Scale == nil {
		c.Scale = func(d time.Duration) time.Duration { return d }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Throttle gates calls to an Oracle for one session. Per-question state is
// cleared with Reset.
type Throttle struct {
	oracle Oracle
	cfg    ThrottleConfig
	logger *slog.Logger

	mu            sync.Mutex
	epoch         uint64
	lastCall      time.Time
	inFlight      bool
	consecutive   int
	wordsAtReview int
}

func NewThrottle(o Oracle, cfg ThrottleConfig, logger *slog.Logger) *Throttle {
	if o == nil {
		o = Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Throttle{oracle: o, cfg: cfg.withDefaults(), logger: logger}
}

// MaybeCheck decides whether the oracle may be asked about req now. Only a
// Pending status returns a Call, and the interval clock starts at that
// moment.
func (t *Throttle) MaybeCheck(req Request) (Status, *Call) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inFlight {
		return StatusSkipped, nil
	}
	words := WordCount(req.FullAnswer)
	if t.consecutive > 0 && words-t.wordsAtReview >= t.cfg.MinNewWords {
		t.consecutive = 0
	}
	if t.consecutive >= t.cfg.MaxConsecutive {
		return StatusForced, nil
	}
	if words < t.cfg.MinWords {
		return StatusSkipped, nil
	}
	now := t.cfg.Now()
	if !t.lastCall.IsZero() && now.Sub(t.lastCall) < t.cfg.Scale(t.cfg.MinInterval) {
		return StatusSkipped, nil
	}

	t.lastCall = now
	t.inFlight = true
	return StatusPending, &Call{throttle: t, req: req, words: words, epoch: t.epoch}
}

func (t *Throttle) Consecutive() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutive
}

// Reset clears per-question counters. Results of calls issued before the
// reset are discarded.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch++
	t.inFlight = false
	t.consecutive = 0
	t.wordsAtReview = 0
}

type Call struct {
	throttle *Throttle
	req      Request
	words    int
	epoch    uint64
}

// Do performs the oracle request under the configured timeout. Failures are
// reported as OutcomeFailed and still count towards the cap.
func (c *Call) Do(ctx context.Context) Decision {
	t := c.throttle
	ctx, cancel := context.WithTimeout(ctx, t.cfg.CallTimeout)
	defer cancel()

	verdict, err := t.oracle.CheckCompletion(ctx, c.req)

	t.mu.Lock()
	defer t.mu.Unlock()
	if c.epoch != t.epoch {
		return Decision{Outcome: OutcomeFailed, Consecutive: t.consecutive, Err: context.Canceled}
	}
	t.inFlight = false
	t.wordsAtReview = c.words

	if err != nil {
		t.consecutive++
		t.logger.Warn("completion check failed", "error", err, "consecutive", t.consecutive)
		return Decision{Outcome: OutcomeFailed, Consecutive: t.consecutive, Err: err}
	}
	if verdict == VerdictComplete {
		t.consecutive = 0
		return Decision{Outcome: OutcomeComplete}
	}
	t.consecutive++
	return Decision{Outcome: OutcomeIncomplete, Consecutive: t.consecutive}
}
