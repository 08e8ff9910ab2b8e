package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	ASRProviderDeepgram          = "deepgram"
	ASRProviderGoogleCloudSpeech = "google_cloud_speech"

	OracleProviderGroq   = "groq"
	OracleProviderGemini = "gemini"
	OracleProviderNone   = "none"

	maxAudioBatchFragments = 64
)

type Config struct {
	Env                string
	HTTPAddr           string
	QuestionsFile      string
	TranscriptsDir     string
	TranscribeLanguage string

	ASRProvider                string
	DeepgramAPIKey             string
	DeepgramListenModel        string
	DeepgramSpeakModel         string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string

	OracleProvider string
	GroqAPIKey     string
	GroqModel      string
	GeminiAPIKey   string
	GeminiModel    string

	AudioInputEncoding  string
	AudioBatchFragments int

	OracleMinInterval        time.Duration
	OracleMinWords           int
	OracleTimeout            time.Duration
	MaxConsecutiveIncomplete int
	QuestionHardTimeout      time.Duration
	NextQuestionPause        time.Duration
	SessionIdleTimeout       time.Duration
	ASRConnectTimeout        time.Duration
	ASRMaxReconnectAttempts  int
	TTSTimeout               time.Duration
	ClientMaxFramesPerSecond int

	DatabaseURL                string
	TranscriptWebhookURL       string
	DiscordToken               string
	DiscordTranscriptChannelID string
	TranscriptS3Bucket         string
	TranscriptS3Prefix         string
	AWSRegion                  string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}

	switch c.ASRProvider {
	case ASRProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when ASR_PROVIDER=%s", ASRProviderDeepgram)
		}
	case ASRProviderGoogleCloudSpeech:
		if c.GoogleCloudProjectID == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID is required when ASR_PROVIDER=%s", ASRProviderGoogleCloudSpeech)
		}
	default:
		return fmt.Errorf("ASR_PROVIDER must be %q or %q, got %q", ASRProviderDeepgram, ASRProviderGoogleCloudSpeech, c.ASRProvider)
	}

	switch c.OracleProvider {
	case OracleProviderGroq:
		if c.GroqAPIKey == "" {
			return fmt.Errorf("GROQ_API_KEY is required when ORACLE_PROVIDER=%s", OracleProviderGroq)
		}
	case OracleProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when ORACLE_PROVIDER=%s", OracleProviderGemini)
		}
	case OracleProviderNone:
	default:
		return fmt.Errorf("ORACLE_PROVIDER must be one of groq, gemini, none, got %q", c.OracleProvider)
	}

	if c.AudioInputEncoding != "pcm_s16le" && c.AudioInputEncoding != "pcm_f32le" {
		return fmt.Errorf("AUDIO_INPUT_ENCODING must be pcm_s16le or pcm_f32le, got %q", c.AudioInputEncoding)
	}
	if c.AudioBatchFragments < 1 || c.AudioBatchFragments > maxAudioBatchFragments {
		return fmt.Errorf("AUDIO_BATCH_FRAGMENTS must be between 1 and %d, got %d", maxAudioBatchFragments, c.AudioBatchFragments)
	}

	for _, d := range c.positiveDurationChecks() {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	for _, n := range c.positiveCountChecks() {
		if n.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", n.name, n.value)
		}
	}

	if (c.DiscordToken == "") != (c.DiscordTranscriptChannelID == "") {
		return fmt.Errorf("DISCORD_TOKEN and DISCORD_TRANSCRIPT_CHANNEL_ID must be set together")
	}
	if c.DatabaseURL != "" && c.DatabaseDriver() == "" {
		return fmt.Errorf("DATABASE_URL must start with postgres://, postgresql:// or sqlite:")
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "HTTP_ADDR", value: c.HTTPAddr},
		{name: "TRANSCRIPTS_DIR", value: c.TranscriptsDir},
		{name: "TRANSCRIBE_LANGUAGE", value: c.TranscribeLanguage},
	}
}

type durationField struct {
	name  string
	value time.Duration
}

func (c *Config) positiveDurationChecks() []durationField {
	return []durationField{
		{name: "ORACLE_MIN_INTERVAL", value: c.OracleMinInterval},
		{name: "ORACLE_TIMEOUT", value: c.OracleTimeout},
		{name: "QUESTION_HARD_TIMEOUT", value: c.QuestionHardTimeout},
		{name: "NEXT_QUESTION_PAUSE", value: c.NextQuestionPause},
		{name: "SESSION_IDLE_TIMEOUT", value: c.SessionIdleTimeout},
		{name: "ASR_CONNECT_TIMEOUT", value: c.ASRConnectTimeout},
		{name: "TTS_TIMEOUT", value: c.TTSTimeout},
	}
}

type countField struct {
	name  string
	value int
}

func (c *Config) positiveCountChecks() []countField {
	return []countField{
		{name: "ORACLE_MIN_WORDS", value: c.OracleMinWords},
		{name: "MAX_CONSECUTIVE_INCOMPLETE", value: c.MaxConsecutiveIncomplete},
		{name: "ASR_MAX_RECONNECT_ATTEMPTS", value: c.ASRMaxReconnectAttempts},
		{name: "CLIENT_MAX_FRAMES_PER_SECOND", value: c.ClientMaxFramesPerSecond},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// DatabaseDriver returns "postgres", "sqlite" or "" for an unset or
// unrecognised DATABASE_URL.
func (c *Config) DatabaseDriver() string {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(c.DatabaseURL, "sqlite:"):
		return "sqlite"
	default:
		return ""
	}
}

// SQLitePath strips the sqlite: scheme from DATABASE_URL.
func (c *Config) SQLitePath() string {
	p := strings.TrimPrefix(c.DatabaseURL, "sqlite:")
	return strings.TrimPrefix(p, "//")
}
