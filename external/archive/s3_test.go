package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type mockPutObject struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (m *mockPutObject) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.input = params
	b, _ := io.ReadAll(params.Body)
	m.body = string(b)
	if m.err != nil {
		return nil, m.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver_PutsUnderPrefix(t *testing.T) {
	client := &mockPutObject{}
	a := newS3Archiver(client, S3Config{Bucket: "bucket", Prefix: "transcripts/"})

	if err := a.PutTranscript(context.Background(), "interview_transcript_x.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("PutTranscript: %v", err)
	}
	if aws.ToString(client.input.Bucket) != "bucket" {
		t.Fatalf("unexpected bucket %q", aws.ToString(client.input.Bucket))
	}
	if aws.ToString(client.input.Key) != "transcripts/interview_transcript_x.json" {
		t.Fatalf("unexpected key %q", aws.ToString(client.input.Key))
	}
	if aws.ToString(client.input.ContentType) != "application/json" || client.body != `{"a":1}` {
		t.Fatalf("unexpected object %q %q", aws.ToString(client.input.ContentType), client.body)
	}
}

func TestS3Archiver_StripsDirectoriesFromName(t *testing.T) {
	client := &mockPutObject{}
	a := newS3Archiver(client, S3Config{Bucket: "bucket"})
	_ = a.PutTranscript(context.Background(), "../../etc/x.json", nil)
	if got := aws.ToString(client.input.Key); got != "x.json" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestS3Archiver_WrapsError(t *testing.T) {
	boom := errors.New("access denied")
	a := newS3Archiver(&mockPutObject{err: boom}, S3Config{Bucket: "bucket"})
	if err := a.PutTranscript(context.Background(), "x.json", nil); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
