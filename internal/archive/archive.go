package archive

import "context"

// Archiver copies finished transcript documents to long-term storage.
type Archiver interface {
	PutTranscript(ctx context.Context, name string, body []byte) error
}
