package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/foxseedlab/mensetsu/internal/archive"
)

type S3Config struct {
	Bucket string
	Prefix string
	Region string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archiver struct {
	client putObjectAPI
	bucket string
	prefix string
}

func NewS3Archiver(ctx context.Context, cfg S3Config) (archive.Archiver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newS3Archiver(s3.NewFromConfig(awsCfg), cfg), nil
}

func newS3Archiver(client putObjectAPI, cfg S3Config) *S3Archiver {
	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
}

func (a *S3Archiver) key(name string) string {
	return path.Join(a.prefix, path.Base(name))
}

func (a *S3Archiver) PutTranscript(ctx context.Context, name string, body []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.key(name)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, a.key(name), err)
	}
	return nil
}

// Nop is used when no bucket is configured.
type Nop struct{}

func (Nop) PutTranscript(context.Context, string, []byte) error { return nil }
