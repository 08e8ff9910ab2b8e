package server

import (
	"log/slog"

	"github.com/foxseedlab/mensetsu/internal/config"
	"github.com/foxseedlab/mensetsu/internal/session"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Handler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return &Handler{
			Sessions:           do.MustInvoke[*session.Manager](i),
			Logger:             slog.Default(),
			MaxFramesPerSecond: cfg.ClientMaxFramesPerSecond,
			QuestionWait:       cfg.TTSTimeout + defaultQuestionWait,
		}, nil
	})
}
