package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/mensetsu/internal/config"
)

type envConfig struct {
	Env                string `env:"ENV" envDefault:"production"`
	HTTPAddr           string `env:"HTTP_ADDR" envDefault:":8000"`
	QuestionsFile      string `env:"QUESTIONS_FILE" envDefault:"questions/questions.json"`
	TranscriptsDir     string `env:"TRANSCRIPTS_DIR" envDefault:"transcripts"`
	TranscribeLanguage string `env:"TRANSCRIBE_LANGUAGE" envDefault:"en-US"`

	ASRProvider                string `env:"ASR_PROVIDER" envDefault:"deepgram"`
	DeepgramAPIKey             string `env:"DEEPGRAM_API_KEY"`
	DeepgramListenModel        string `env:"DEEPGRAM_LISTEN_MODEL" envDefault:"nova-2"`
	DeepgramSpeakModel         string `env:"DEEPGRAM_SPEAK_MODEL" envDefault:"aura-asteria-en"`
	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`

	OracleProvider string `env:"ORACLE_PROVIDER" envDefault:"groq"`
	GroqAPIKey     string `env:"GROQ_API_KEY"`
	GroqModel      string `env:"GROQ_MODEL" envDefault:"llama-3.3-70b-versatile"`
	GeminiAPIKey   string `env:"GEMINI_API_KEY"`
	GeminiModel    string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`

	AudioInputEncoding  string `env:"AUDIO_INPUT_ENCODING" envDefault:"pcm_s16le"`
	AudioBatchFragments int    `env:"AUDIO_BATCH_FRAGMENTS" envDefault:"6"`

	OracleMinInterval        time.Duration `env:"ORACLE_MIN_INTERVAL" envDefault:"2s"`
	OracleMinWords           int           `env:"ORACLE_MIN_WORDS" envDefault:"30"`
	OracleTimeout            time.Duration `env:"ORACLE_TIMEOUT" envDefault:"8s"`
	MaxConsecutiveIncomplete int           `env:"MAX_CONSECUTIVE_INCOMPLETE" envDefault:"2"`
	QuestionHardTimeout      time.Duration `env:"QUESTION_HARD_TIMEOUT" envDefault:"3m"`
	NextQuestionPause        time.Duration `env:"NEXT_QUESTION_PAUSE" envDefault:"1s"`
	SessionIdleTimeout       time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	ASRConnectTimeout        time.Duration `env:"ASR_CONNECT_TIMEOUT" envDefault:"10s"`
	ASRMaxReconnectAttempts  int           `env:"ASR_MAX_RECONNECT_ATTEMPTS" envDefault:"3"`
	TTSTimeout               time.Duration `env:"TTS_TIMEOUT" envDefault:"30s"`
	ClientMaxFramesPerSecond int           `env:"CLIENT_MAX_FRAMES_PER_SECOND" envDefault:"100"`

	DatabaseURL                string `env:"DATABASE_URL"`
	TranscriptWebhookURL       string `env:"TRANSCRIPT_WEBHOOK_URL"`
	DiscordToken               string `env:"DISCORD_TOKEN"`
	DiscordTranscriptChannelID string `env:"DISCORD_TRANSCRIPT_CHANNEL_ID"`
	TranscriptS3Bucket         string `env:"TRANSCRIPT_S3_BUCKET"`
	TranscriptS3Prefix         string `env:"TRANSCRIPT_S3_PREFIX" envDefault:"transcripts/"`
	AWSRegion                  string `env:"AWS_REGION"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		HTTPAddr:                   raw.HTTPAddr,
		QuestionsFile:              raw.QuestionsFile,
		TranscriptsDir:             raw.TranscriptsDir,
		TranscribeLanguage:         raw.TranscribeLanguage,
		ASRProvider:                raw.ASRProvider,
		DeepgramAPIKey:             raw.DeepgramAPIKey,
		DeepgramListenModel:        raw.DeepgramListenModel,
		DeepgramSpeakModel:         raw.DeepgramSpeakModel,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		OracleProvider:             raw.OracleProvider,
		GroqAPIKey:                 raw.GroqAPIKey,
		GroqModel:                  raw.GroqModel,
		GeminiAPIKey:               raw.GeminiAPIKey,
		GeminiModel:                raw.GeminiModel,
		AudioInputEncoding:         raw.AudioInputEncoding,
		AudioBatchFragments:        raw.AudioBatchFragments,
		OracleMinInterval:          raw.OracleMinInterval,
		OracleMinWords:             raw.OracleMinWords,
		OracleTimeout:              raw.OracleTimeout,
		MaxConsecutiveIncomplete:   raw.MaxConsecutiveIncomplete,
		QuestionHardTimeout:        raw.QuestionHardTimeout,
		NextQuestionPause:          raw.NextQuestionPause,
		SessionIdleTimeout:         raw.SessionIdleTimeout,
		ASRConnectTimeout:          raw.ASRConnectTimeout,
		ASRMaxReconnectAttempts:    raw.ASRMaxReconnectAttempts,
		TTSTimeout:                 raw.TTSTimeout,
		ClientMaxFramesPerSecond:   raw.ClientMaxFramesPerSecond,
		DatabaseURL:                raw.DatabaseURL,
		TranscriptWebhookURL:       raw.TranscriptWebhookURL,
		DiscordToken:               raw.DiscordToken,
		DiscordTranscriptChannelID: raw.DiscordTranscriptChannelID,
		TranscriptS3Bucket:         raw.TranscriptS3Bucket,
		TranscriptS3Prefix:         raw.TranscriptS3Prefix,
		AWSRegion:                  raw.AWSRegion,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
