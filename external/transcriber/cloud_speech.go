package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/mensetsu/internal/audio"
	"github.com/foxseedlab/mensetsu/internal/transcriber"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const speechAPIEndpointPort = 443

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

type speechDialer func(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, func() error, error)

type CloudSpeechTranscriber struct {
	projectID       string
	credentialsJSON string
	defaultLanguage string
	location        string
	model           string
	dial            speechDialer
}

func NewCloudSpeechTranscriber(cfg CloudSpeechConfig) transcriber.Transcriber {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	t := &CloudSpeechTranscriber{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		defaultLanguage: cfg.Language,
		location:        location,
		model:           strings.TrimSpace(cfg.Model),
	}
	t.dial = t.dialSpeech
	return t
}

// StartStreaming opens one recognition stream. A server-side end is passed
// to the receiver as OnError.
func (t *CloudSpeechTranscriber) StartStreaming(ctx context.Context, sessionID, language string, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	if language == "" {
		language = t.defaultLanguage
	}
	logger := slog.With("session_id", sessionID, "provider", "google_cloud_speech")

	stream, release, err := t.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("open cloud speech stream: %w", err)
	}
	if err := stream.Send(t.configRequest(language)); err != nil {
		_ = stream.CloseSend()
		_ = release()
		return nil, fmt.Errorf("send cloud speech config: %w", err)
	}
	logger.Info("cloud speech stream opened", "location", t.location, "language", language, "model", t.model)

	w := &cloudSpeechStream{ctx: ctx, stream: stream, release: release, logger: logger}
	go w.receive(receiver)
	return w, nil
}

func (t *CloudSpeechTranscriber) dialSpeech(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, func() error, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(t.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("detect credentials: %w", err)
	}
	opts := []option.ClientOption{option.WithAuthCredentials(creds)}
	if t.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.location, speechAPIEndpointPort)))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return stream, client.Close, nil
}

func (t *CloudSpeechTranscriber) recognizer() string {
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.projectID, t.location)
}

func (t *CloudSpeechTranscriber) configRequest(language string) *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		Recognizer: t.recognizer(),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Model:         t.model,
					LanguageCodes: []string{language},
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
							SampleRateHertz:   audio.SampleRate,
							AudioChannelCount: audio.Channels,
						},
					},
					Features: &speechpb.RecognitionFeatures{EnableAutomaticPunctuation: true},
				},
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: true},
			},
		},
	}
}

type cloudSpeechStream struct {
	ctx     context.Context
	stream  speechpb.Speech_StreamingRecognizeClient
	release func() error
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (w *cloudSpeechStream) Write(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return io.ErrClosedPipe
	}
	err := w.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: pcm},
	})
	if err != nil {
		return fmt.Errorf("send audio (%s): %w", streamEndReason(err), err)
	}
	return nil
}

func (w *cloudSpeechStream) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	sendErr := w.stream.CloseSend()
	return errors.Join(sendErr, w.release())
}

func (w *cloudSpeechStream) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *cloudSpeechStream) receive(receiver transcriber.ResultReceiver) {
	for {
		resp, err := w.stream.Recv()
		if err != nil {
			if w.isClosed() || w.ctx.Err() != nil {
				w.logger.Debug("cloud speech receive loop stopped", "error", err)
				return
			}
			reason := streamEndReason(err)
			w.logger.Warn("cloud speech stream ended by server", "reason", reason, "error", err)
			receiver.OnError(fmt.Errorf("cloud speech stream ended (%s): %w", reason, err))
			return
		}
		deliverResults(resp.GetResults(), receiver)
	}
}

// deliverResults sends every final result on its own and merges the
// non-final pieces of one response into a single interim.
func deliverResults(results []*speechpb.StreamingRecognitionResult, receiver transcriber.ResultReceiver) {
	var interim []string
	for _, result := range results {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		text := strings.TrimSpace(alts[0].GetTranscript())
		if text == "" {
			continue
		}
		if result.GetIsFinal() {
			receiver.OnResult(text, true)
			continue
		}
		interim = append(interim, text)
	}
	if len(interim) > 0 {
		receiver.OnResult(strings.Join(interim, " "), false)
	}
}

func streamEndReason(err error) string {
	if errors.Is(err, io.EOF) {
		return "eof"
	}
	st, ok := status.FromError(err)
	if !ok {
		return "transport"
	}
	if st.Code() == codes.Aborted {
		msg := strings.ToLower(st.Message())
		switch {
		case strings.Contains(msg, "max duration"):
			return "duration_limit"
		case strings.Contains(msg, "no more client requests"):
			return "idle_timeout"
		}
	}
	return strings.ToLower(st.Code().String())
}
