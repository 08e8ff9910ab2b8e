package health

import (
	"math"
	"sync"
	"time"
)

const (
	DefaultCapacity = 10
	DefaultBaseline = 100 * time.Millisecond
	DefaultCeiling  = 2 * time.Second

	// MinDelay is the floor for every scaled delay.
	MinDelay = 10 * time.Millisecond

	MaxScore = 100.0
)

type Config struct {
	Capacity int
	Baseline time.Duration
	Ceiling  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Baseline <= 0 {
		c.Baseline = DefaultBaseline
	}
	if c.Ceiling <= 0 {
		c.Ceiling = DefaultCeiling
	}
	if c.Ceiling <= c.Baseline {
		c.Ceiling = c.Baseline + DefaultCeiling
	}
	return c
}

type Snapshot struct {
	Score       float64
	MeanLatency time.Duration
	Samples     int
}

// Monitor is safe for concurrent use; samples arrive from the websocket
// pong handler while the session loop reads scaled delays.
type Monitor struct {
	mu      sync.Mutex
	cfg     Config
	samples []time.Duration
	next    int
	count   int
	score   float64
	mean    time.Duration
}

func NewMonitor(cfg Config) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{
		cfg:     cfg,
		samples: make([]time.Duration, cfg.Capacity),
		score:   MaxScore,
	}
}

// RecordSample inserts a round-trip latency, evicting the oldest sample once
// the ring is full, and recomputes the score from the retained history.
func (m *Monitor) RecordSample(rtt time.Duration) {
	if rtt < 0 {
		rtt = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[m.next] = rtt
	m.next = (m.next + 1) % len(m.samples)
	if m.count < len(m.samples) {
		m.count++
	}
	var total time.Duration
	for i := 0; i < m.count; i++ {
		total += m.samples[i]
	}
	m.mean = total / time.Duration(m.count)
	m.score = ScoreFor(m.mean, m.cfg.Baseline, m.cfg.Ceiling)
}

// RecordDrop records a transport loss as a ceiling-latency sample.
func (m *Monitor) RecordDrop() {
	m.RecordSample(m.cfg.Ceiling)
}

func (m *Monitor) Score() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.score
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Score: m.score, MeanLatency: m.mean, Samples: m.count}
}

func (m *Monitor) ScaledDelay(base time.Duration) time.Duration {
	return Scale(base, m.Score())
}

// ScoreFor maps a mean latency onto [0, 100]: 100 at or below baseline,
// falling linearly to 0 at ceiling.
func ScoreFor(mean, baseline, ceiling time.Duration) float64 {
	if mean <= baseline {
		return MaxScore
	}
	if mean >= ceiling {
		return 0
	}
	frac := float64(mean-baseline) / float64(ceiling-baseline)
	return math.Round(MaxScore*(1-frac)*10) / 10
}

// Scale stretches base by 1 + (100-score)/100, so a dead connection doubles
// every wait.
func Scale(base time.Duration, score float64) time.Duration {
	if math.IsNaN(score) || score > MaxScore {
		score = MaxScore
	}
	if score < 0 {
		score = 0
	}
	if base < 0 {
		base = 0
	}
	factor := 1 + (MaxScore-score)/MaxScore
	d := time.Duration(float64(base) * factor)
	if d < MinDelay {
		return MinDelay
	}
	return d
}
