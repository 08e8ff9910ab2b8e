package session

import (
	"log/slog"

	"github.com/foxseedlab/mensetsu/internal/archive"
	"github.com/foxseedlab/mensetsu/internal/config"
	"github.com/foxseedlab/mensetsu/internal/discord"
	"github.com/foxseedlab/mensetsu/internal/notify"
	"github.com/foxseedlab/mensetsu/internal/oracle"
	"github.com/foxseedlab/mensetsu/internal/question"
	"github.com/foxseedlab/mensetsu/internal/repository"
	"github.com/foxseedlab/mensetsu/internal/transcriber"
	"github.com/foxseedlab/mensetsu/internal/transcript"
	"github.com/foxseedlab/mensetsu/internal/tts"
	"github.com/foxseedlab/mensetsu/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (notify.Notifier, error) {
		cfg := do.MustInvoke[*config.Config](i)
		fan := notify.NewFanOut()
		if cfg.TranscriptWebhookURL != "" {
			fan.Add("webhook", notify.NewWebhookNotifier(do.MustInvoke[webhook.Sender](i)))
		}
		if cfg.DiscordToken != "" {
			fan.Add("discord", notify.NewDiscordNotifier(do.MustInvoke[discord.Client](i), cfg.DiscordTranscriptChannelID))
		}
		if cfg.TranscriptS3Bucket != "" {
			fan.Add("s3", notify.NewArchiveNotifier(do.MustInvoke[archive.Archiver](i)))
		}
		slog.Info("completion targets configured", "targets", fan.Targets())
		return fan, nil
	})
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		deps := Deps{
			Transcriber: do.MustInvoke[transcriber.Transcriber](i),
			Oracle:      do.MustInvoke[oracle.Oracle](i),
			Synthesizer: do.MustInvoke[tts.Synthesizer](i),
			Repository:  do.MustInvoke[repository.Repository](i),
			Notifier:    do.MustInvoke[notify.Notifier](i),
		}
		questions := question.Load(cfg.QuestionsFile)
		store := transcript.NewFileStore(cfg.TranscriptsDir)
		return NewManager(questions, store, deps, RunnerConfigFromConfig(cfg), cfg.SessionIdleTimeout, slog.Default()), nil
	})
}
