package tts

import (
	"context"
	"errors"
	"sync"
)

var ErrUnavailable = errors.New("tts: unavailable")

type Audio struct {
	ContentType string
	Data        []byte
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Cached memoizes successful syntheses by text. Question audio is the same
// for every session, so each question is synthesized once per process.
type Cached struct {
	next Synthesizer

	mu    sync.Mutex
	audio map[string]Audio
}

func NewCached(next Synthesizer) *Cached {
	return &Cached{next: next, audio: map[string]Audio{}}
}

func (c *Cached) Synthesize(ctx context.Context, text string) (Audio, error) {
	c.mu.Lock()
	a, ok := c.audio[text]
	c.mu.Unlock()
	if ok {
		return a, nil
	}
	a, err := c.next.Synthesize(ctx, text)
	if err != nil {
		return Audio{}, err
	}
	c.mu.Lock()
	c.audio[text] = a
	c.mu.Unlock()
	return a, nil
}

type Disabled struct{}

func (Disabled) Synthesize(context.Context, string) (Audio, error) {
	return Audio{}, ErrUnavailable
}
