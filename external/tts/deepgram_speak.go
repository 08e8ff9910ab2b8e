package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/foxseedlab/mensetsu/internal/tts"
)

const defaultDeepgramSpeakURL = "https://api.deepgram.com/v1/speak"

type DeepgramSpeakConfig struct {
	APIKey   string
	Model    string
	SpeakURL string
}

type DeepgramSpeaker struct {
	apiKey   string
	model    string
	speakURL string
	client   *http.Client
}

func NewDeepgramSpeaker(cfg DeepgramSpeakConfig) tts.Synthesizer {
	speakURL := strings.TrimSpace(cfg.SpeakURL)
	if speakURL == "" {
		speakURL = defaultDeepgramSpeakURL
	}
	return &DeepgramSpeaker{
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		speakURL: speakURL,
		client:   &http.Client{},
	}
}

func (s *DeepgramSpeaker) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	if s.apiKey == "" {
		return tts.Audio{}, tts.ErrUnavailable
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return tts.Audio{}, err
	}
	target := s.speakURL + "?model=" + url.QueryEscape(s.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return tts.Audio{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+s.apiKey)
	resp, err := s.client.Do(req)
	if err != nil {
		return tts.Audio{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return tts.Audio{}, fmt.Errorf("deepgram speak returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("read speak response: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return tts.Audio{ContentType: contentType, Data: data}, nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
