package transcriber

import (
	"context"
	"errors"
)

var ErrNotConnected = errors.New("transcriber: channel not connected")

type StreamWriter interface {
	Write(pcm []byte) error
	Close() error
}

// ResultReceiver is called from the stream's receive goroutine. OnError is
// only called for unexpected loss, never after the writer is closed locally.
type ResultReceiver interface {
	OnResult(text string, isFinal bool)
	OnError(err error)
}

type Transcriber interface {
	StartStreaming(ctx context.Context, sessionID, language string, receiver ResultReceiver) (StreamWriter, error)
}
