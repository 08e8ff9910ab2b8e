package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestNewEntry_CopiesSegmentsAndCountsWords(t *testing.T) {
	segs := []string{"A tuple is immutable,", "a list is not."}
	e := NewEntry(1, "Q1", segs, time.Unix(0, 0))
	segs[0] = "changed"
	if e.AnswerSegments[0] != "A tuple is immutable," {
		t.Fatal("expected entry to own its segments")
	}
	if e.FullAnswer != "A tuple is immutable, a list is not." {
		t.Fatalf("unexpected full answer %q", e.FullAnswer)
	}
	if e.WordCount != 8 {
		t.Fatalf("expected 8 words, got %d", e.WordCount)
	}
}

func TestRecordAppend_EnforcesBounds(t *testing.T) {
	rec := NewRecord("id", time.Unix(0, 0), 2)
	if err := rec.Append(NewEntry(1, "Q1", nil, time.Now())); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := rec.Append(NewEntry(1, "Q1", nil, time.Now())); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
	if err := rec.Append(NewEntry(2, "Q2", nil, time.Now())); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := rec.Append(NewEntry(3, "Q3", nil, time.Now())); !errors.Is(err, ErrRecordFull) {
		t.Fatalf("expected ErrRecordFull, got %v", err)
	}
	if len(rec.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(rec.Entries))
	}
}

func TestRecord_JSONKeys(t *testing.T) {
	rec := NewRecord("abc", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), 1)
	_ = rec.Append(NewEntry(1, "Q1", []string{"hello world"}, time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC)))
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"interview_id"`, `"created_at"`, `"total_questions"`, `"entries"`, `"question_number"`, `"answer_segments"`, `"full_answer"`, `"word_count"`, `"timestamp"`} {
		if !strings.Contains(string(b), key) {
			t.Fatalf("expected %s in %s", key, b)
		}
	}
}

func TestFileName(t *testing.T) {
	got := FileName("abc", time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC))
	if got != "interview_transcript_abc_20260304_050607.json" {
		t.Fatalf("unexpected file name %q", got)
	}
}

func TestRecorder_WritesThroughAfterEveryAppend(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	createdAt := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	r := NewRecorder(store, NewRecord("abc", createdAt, 2), nil)

	if err := r.Append(context.Background(), NewEntry(1, "Q1", []string{"one two"}, createdAt)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	loaded, err := store.Load(r.Handle())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Entries) != 1 || loaded.Entries[0].WordCount != 2 {
		t.Fatalf("unexpected persisted record %+v", loaded)
	}

	if err := r.Append(context.Background(), NewEntry(2, "Q2", []string{"three"}, createdAt)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	loaded, _ = store.Load(r.Handle())
	if len(loaded.Entries) != 2 || loaded.TotalQuestions != 2 {
		t.Fatalf("unexpected persisted record %+v", loaded)
	}

	files, _ := os.ReadDir(dir)
	if len(files) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(files))
	}
}

func TestRecorder_FlushWritesEmptyRecord(t *testing.T) {
	store := NewFileStore(t.TempDir())
	r := NewRecorder(store, NewRecord("empty", time.Now(), 3), nil)
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	loaded, err := store.Load(r.Handle())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Entries == nil || len(loaded.Entries) != 0 {
		t.Fatalf("expected empty entries array, got %+v", loaded.Entries)
	}
}

func TestFileStore_FindAndLoad(t *testing.T) {
	store := NewFileStore(t.TempDir())
	older := NewRecorder(store, NewRecord("abc", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), 1), nil)
	newer := NewRecorder(store, NewRecord("abc", time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC), 1), nil)
	other := NewRecorder(store, NewRecord("xyz", time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC), 1), nil)
	for _, r := range []*Recorder{older, newer, other} {
		if err := r.Flush(context.Background()); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}

	handle, err := store.Find("abc")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if handle != newer.Handle() {
		t.Fatalf("Find = %q, want %q", handle, newer.Handle())
	}
	if _, err := store.Find("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Find(missing) = %v, want ErrNotFound", err)
	}
	if _, err := store.Load("interview_transcript_missing.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load(missing) = %v, want ErrNotFound", err)
	}
}
