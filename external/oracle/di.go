package oracle

import (
	"context"

	"github.com/foxseedlab/mensetsu/internal/config"
	"github.com/foxseedlab/mensetsu/internal/oracle"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (oracle.Oracle, error) {
		c := do.MustInvoke[*config.Config](i)
		switch c.OracleProvider {
		case config.OracleProviderGroq:
			return NewGroqOracle(GroqConfig{APIKey: c.GroqAPIKey, Model: c.GroqModel}), nil
		case config.OracleProviderGemini:
			return NewGeminiOracle(context.Background(), GeminiConfig{APIKey: c.GeminiAPIKey, Model: c.GeminiModel})
		default:
			return oracle.Disabled{}, nil
		}
	})
}
