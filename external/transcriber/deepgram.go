package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/mensetsu/internal/audio"
	"github.com/foxseedlab/mensetsu/internal/transcriber"
	"github.com/gorilla/websocket"
)

const (
	defaultDeepgramListenURL = "wss://api.deepgram.com/v1/listen"
	deepgramKeepAliveEvery   = 5 * time.Second
	deepgramEndpointingMS    = 100
	deepgramWriteTimeout     = 5 * time.Second
)

type DeepgramConfig struct {
	APIKey    string
	Model     string
	Language  string
	ListenURL string
}

type DeepgramTranscriber struct {
	apiKey    string
	model     string
	language  string
	listenURL string
	dialer    *websocket.Dialer
}

func NewDeepgramTranscriber(cfg DeepgramConfig) transcriber.Transcriber {
	listenURL := strings.TrimSpace(cfg.ListenURL)
	if listenURL == "" {
		listenURL = defaultDeepgramListenURL
	}
	return &DeepgramTranscriber{
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		language:  cfg.Language,
		listenURL: listenURL,
		dialer:    websocket.DefaultDialer,
	}
}

func (t *DeepgramTranscriber) streamURL(language string) (string, error) {
	u, err := url.Parse(t.listenURL)
	if err != nil {
		return "", fmt.Errorf("parse deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprint(audio.SampleRate))
	q.Set("channels", fmt.Sprint(audio.Channels))
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("endpointing", fmt.Sprint(deepgramEndpointingMS))
	q.Set("vad_events", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *DeepgramTranscriber) StartStreaming(ctx context.Context, sessionID, language string, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	if language == "" {
		language = t.language
	}
	slog.Info("starting deepgram streaming", "session_id", sessionID, "language", language, "model", t.model)

	target, err := t.streamURL(language)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Token "+t.apiKey)

	conn, resp, err := t.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial deepgram: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial deepgram: %w", err)
	}

	w := &deepgramWriter{conn: conn, done: make(chan struct{})}
	go w.receive(sessionID, receiver)
	go w.keepAlive(ctx)
	go func() {
		select {
		case <-ctx.Done():
			_ = w.Close()
		case <-w.done:
		}
	}()
	slog.Info("deepgram stream initialized", "session_id", sessionID)
	return w, nil
}

type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramControl struct {
	Type string `json:"type"`
}

type deepgramWriter struct {
	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	done      chan struct{}
}

func (w *deepgramWriter) Write(pcm []byte) error {
	if w.isClosed() {
		return io.ErrClosedPipe
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(deepgramWriteTimeout))
	return w.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (w *deepgramWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.done)

		_ = w.writeControl(deepgramControl{Type: "CloseStream"})
		err = w.conn.Close()
	})
	return err
}

func (w *deepgramWriter) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *deepgramWriter) writeControl(msg deepgramControl) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(deepgramWriteTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

// keepAlive keeps the stream open while no audio flows, e.g. during
// question playback.
func (w *deepgramWriter) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(deepgramKeepAliveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.writeControl(deepgramControl{Type: "KeepAlive"}); err != nil {
				slog.Debug("deepgram keepalive failed", "error", err)
				return
			}
		}
	}
}

func (w *deepgramWriter) receive(sessionID string, receiver transcriber.ResultReceiver) {
	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			if w.isClosed() {
				slog.Info("deepgram receive loop stopped", "session_id", sessionID)
				return
			}
			receiver.OnError(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var res deepgramResult
		if err := json.Unmarshal(data, &res); err != nil {
			slog.Warn("failed to decode deepgram message", "session_id", sessionID, "error", err)
			continue
		}
		if res.Type != "Results" || len(res.Channel.Alternatives) == 0 {
			continue
		}
		text := strings.TrimSpace(res.Channel.Alternatives[0].Transcript)
		if text == "" {
			continue
		}
		receiver.OnResult(text, res.IsFinal)
	}
}
