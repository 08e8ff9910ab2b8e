package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const fileTimeLayout = "20060102_150405"

var ErrNotFound = errors.New("transcript: not found")

type Store interface {
	Save(ctx context.Context, handle string, rec Record) error
	Load(handle string) (Record, error)
	// Find returns the handle of the newest transcript written for
	// interviewID.
	Find(interviewID string) (string, error)
}

func FileName(interviewID string, createdAt time.Time) string {
	return fmt.Sprintf("interview_transcript_%s_%s.json", interviewID, createdAt.Format(fileTimeLayout))
}

// FileStore writes one JSON document per session. Each save replaces the
// file atomically through a rename.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Path(handle string) string {
	return filepath.Join(s.dir, filepath.Base(handle))
}

func (s *FileStore) Save(_ context.Context, handle string, rec Record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create transcripts dir: %w", err)
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".transcript-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp transcript: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close transcript: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(handle)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename transcript: %w", err)
	}
	return nil
}

func (s *FileStore) Load(handle string) (Record, error) {
	b, err := os.ReadFile(s.Path(handle))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("decode transcript: %w", err)
	}
	return rec, nil
}

func (s *FileStore) Find(interviewID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "interview_transcript_"+interviewID+"_*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: interview %s", ErrNotFound, interviewID)
	}
	sort.Strings(matches)
	return filepath.Base(matches[len(matches)-1]), nil
}

// Recorder owns the record of one session and persists it after every
// append.
type Recorder struct {
	store  Store
	handle string
	logger *slog.Logger

	mu  sync.Mutex
	rec Record
}

func NewRecorder(store Store, rec Record, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  store,
		handle: FileName(rec.InterviewID, rec.CreatedAt),
		logger: logger,
		rec:    rec,
	}
}

func (r *Recorder) Handle() string {
	return r.handle
}

// Append records e and writes the record through. On a store failure the
// entry stays in memory and the error is returned.
func (r *Recorder) Append(ctx context.Context, e Entry) error {
	r.mu.Lock()
	if err := r.rec.Append(e); err != nil {
		r.mu.Unlock()
		return err
	}
	snap := r.rec.Clone()
	r.mu.Unlock()
	return r.save(ctx, snap)
}

// Flush writes the current record, used at completion even when no entry
// was appended.
func (r *Recorder) Flush(ctx context.Context) error {
	return r.save(ctx, r.Snapshot())
}

func (r *Recorder) save(ctx context.Context, snap Record) error {
	if err := r.store.Save(ctx, r.handle, snap); err != nil {
		return fmt.Errorf("persist transcript %s: %w", r.handle, err)
	}
	r.logger.Debug("transcript persisted", "interview_id", snap.InterviewID, "file", r.handle, "entries", len(snap.Entries))
	return nil
}

func (r *Recorder) Snapshot() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.Clone()
}
