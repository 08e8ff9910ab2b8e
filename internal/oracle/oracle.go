package oracle

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrUnavailable = errors.New("oracle: unavailable")

type Verdict int

const (
	VerdictIncomplete Verdict = iota
	VerdictComplete
)

func (v Verdict) String() string {
	if v == VerdictComplete {
		return "complete"
	}
	return "incomplete"
}

type Request struct {
	Question   string
	FullAnswer string
	// Interim is the latest unconfirmed text, used to spot a candidate who
	// is still mid-sentence.
	Interim string
}

type Oracle interface {
	CheckCompletion(ctx context.Context, req Request) (Verdict, error)
}

// ParseVerdict reads a one-word model reply. WAIT and INCOMPLETE win over
// the COMPLETE substring; an unrecognised reply counts as incomplete.
func ParseVerdict(reply string) Verdict {
	r := strings.ToUpper(strings.TrimSpace(reply))
	if strings.Contains(r, "WAIT") || strings.Contains(r, "INCOMPLETE") {
		return VerdictIncomplete
	}
	if strings.Contains(r, "COMPLETE") {
		return VerdictComplete
	}
	return VerdictIncomplete
}

func WordCount(s string) int {
	return len(strings.Fields(s))
}

type delayScaleKey struct{}

// WithDelayScale attaches a per-session delay scaler so shared oracle
// clients can stretch their retry backoff for a degraded connection.
func WithDelayScale(ctx context.Context, scale func(time.Duration) time.Duration) context.Context {
	return context.WithValue(ctx, delayScaleKey{}, scale)
}

func ScaleDelay(ctx context.Context, d time.Duration) time.Duration {
	if scale, ok := ctx.Value(delayScaleKey{}).(func(time.Duration) time.Duration); ok && scale != nil {
		return scale(d)
	}
	return d
}

// Disabled is used when no oracle provider is configured; every check
// fails and the session relies on the consecutive-incomplete cap.
type Disabled struct{}

func (Disabled) CheckCompletion(context.Context, Request) (Verdict, error) {
	return VerdictIncomplete, ErrUnavailable
}
