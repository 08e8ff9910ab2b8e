package archive

import (
	"context"

	"github.com/foxseedlab/mensetsu/internal/archive"
	"github.com/foxseedlab/mensetsu/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (archive.Archiver, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.TranscriptS3Bucket == "" {
			return Nop{}, nil
		}
		return NewS3Archiver(context.Background(), S3Config{
			Bucket: c.TranscriptS3Bucket,
			Prefix: c.TranscriptS3Prefix,
			Region: c.AWSRegion,
		})
	})
}
