package health

import (
	"testing"
	"time"
)

func TestScore_DefaultsToFullHealth(t *testing.T) {
	m := NewMonitor(Config{})
	if got := m.Score(); got != MaxScore {
		t.Fatalf("expected %v with no samples, got %v", MaxScore, got)
	}
}

func TestScore_MonotonicAndBounded(t *testing.T) {
	prev := MaxScore + 1
	for ms := 0; ms <= 3000; ms += 50 {
		got := ScoreFor(time.Duration(ms)*time.Millisecond, DefaultBaseline, DefaultCeiling)
		if got < 0 || got > MaxScore {
			t.Fatalf("score out of range at %dms: %v", ms, got)
		}
		if got > prev {
			t.Fatalf("score increased with latency at %dms: %v > %v", ms, got, prev)
		}
		prev = got
	}
	if got := ScoreFor(5*time.Second, DefaultBaseline, DefaultCeiling); got != 0 {
		t.Fatalf("expected floor score past ceiling, got %v", got)
	}
}

func TestRecordSample_EvictsOldest(t *testing.T) {
	m := NewMonitor(Config{Capacity: 3})
	m.RecordSample(3 * time.Second)
	for i := 0; i < 3; i++ {
		m.RecordSample(50 * time.Millisecond)
	}
	snap := m.Snapshot()
	if snap.Samples != 3 {
		t.Fatalf("expected 3 retained samples, got %d", snap.Samples)
	}
	if snap.MeanLatency != 50*time.Millisecond {
		t.Fatalf("expected slow sample to be evicted, mean=%v", snap.MeanLatency)
	}
	if snap.Score != MaxScore {
		t.Fatalf("expected full health, got %v", snap.Score)
	}
}

func TestRecordDrop_LowersScore(t *testing.T) {
	m := NewMonitor(Config{})
	m.RecordSample(80 * time.Millisecond)
	before := m.Score()
	m.RecordDrop()
	if after := m.Score(); after >= before {
		t.Fatalf("expected score to drop after transport loss: before=%v after=%v", before, after)
	}
}

func TestScale_NonDecreasingAsScoreDrops(t *testing.T) {
	base := 500 * time.Millisecond
	prev := time.Duration(0)
	for score := MaxScore; score >= 0; score -= 5 {
		got := Scale(base, score)
		if got < prev {
			t.Fatalf("delay decreased as score dropped to %v: %v < %v", score, got, prev)
		}
		prev = got
	}
	if got := Scale(base, 0); got != 2*base {
		t.Fatalf("expected doubled delay at zero health, got %v", got)
	}
}

func TestScale_ClampsToMinimum(t *testing.T) {
	if got := Scale(-time.Second, 50); got != MinDelay {
		t.Fatalf("expected min delay for negative base, got %v", got)
	}
	if got := Scale(0, MaxScore); got != MinDelay {
		t.Fatalf("expected min delay for zero base, got %v", got)
	}
}
