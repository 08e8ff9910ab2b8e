package tts

import (
	"github.com/foxseedlab/mensetsu/internal/config"
	"github.com/foxseedlab/mensetsu/internal/tts"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (tts.Synthesizer, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.DeepgramAPIKey == "" {
			return tts.Disabled{}, nil
		}
		return tts.NewCached(NewDeepgramSpeaker(DeepgramSpeakConfig{
			APIKey: c.DeepgramAPIKey,
			Model:  c.DeepgramSpeakModel,
		})), nil
	})
}
