package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxseedlab/mensetsu/internal/notify"
	"github.com/foxseedlab/mensetsu/internal/oracle"
	"github.com/foxseedlab/mensetsu/internal/repository"
	"github.com/foxseedlab/mensetsu/internal/transcriber"
	"github.com/foxseedlab/mensetsu/internal/transcript"
	"github.com/foxseedlab/mensetsu/internal/tts"
	"github.com/google/uuid"
)

type mockWriter struct {
	mu     sync.Mutex
	frames int
	closed bool
}

func (w *mockWriter) Write(_ []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames++
	return nil
}

func (w *mockWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

type mockTranscriber struct {
	mu        sync.Mutex
	receivers []transcriber.ResultReceiver
}

func (m *mockTranscriber) StartStreaming(_ context.Context, _, _ string, r transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receivers = append(m.receivers, r)
	return &mockWriter{}, nil
}

func (m *mockTranscriber) streams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.receivers)
}

func (m *mockTranscriber) latest() transcriber.ResultReceiver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receivers[len(m.receivers)-1]
}

type mockRepository struct {
	repository.Nop
	mu        sync.Mutex
	created   []repository.CreateInterviewInput
	answers   []repository.InsertAnswerInput
	finished  []repository.FinishInterviewInput
	interview *repository.Interview
	stored    []repository.Answer
}

func (m *mockRepository) GetInterview(_ context.Context, id string) (*repository.Interview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interview == nil || m.interview.ID != id {
		return nil, nil
	}
	iv := *m.interview
	return &iv, nil
}

func (m *mockRepository) ListAnswersByInterviewID(_ context.Context, id string) ([]repository.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Answer
	for _, a := range m.stored {
		if a.InterviewID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepository) CreateInterview(_ context.Context, input repository.CreateInterviewInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, input)
	return nil
}

func (m *mockRepository) InsertAnswer(_ context.Context, input repository.InsertAnswerInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, input)
	return nil
}

func (m *mockRepository) FinishInterview(_ context.Context, input repository.FinishInterviewInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, input)
	return nil
}

func (m *mockRepository) snapshot() (answers []repository.InsertAnswerInput, finished []repository.FinishInterviewInput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repository.InsertAnswerInput(nil), m.answers...), append([]repository.FinishInterviewInput(nil), m.finished...)
}

type mockNotifier struct {
	mu    sync.Mutex
	calls []notify.Completion
}

func (m *mockNotifier) NotifyTranscript(_ context.Context, c notify.Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
	return nil
}

func (m *mockNotifier) completions() []notify.Completion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Completion(nil), m.calls...)
}

type fixtures struct {
	manager     *Manager
	store       *transcript.FileStore
	transcriber *mockTranscriber
	repo        *mockRepository
	notifier    *mockNotifier
	oracle      *scriptedOracle
}

func newFixtures(t *testing.T, questions []string) *fixtures {
	t.Helper()
	f := &fixtures{
		store:       transcript.NewFileStore(t.TempDir()),
		transcriber: &mockTranscriber{},
		repo:        &mockRepository{},
		notifier:    &mockNotifier{},
		oracle:      &scriptedOracle{verdict: oracle.VerdictComplete},
	}
	timing := DefaultTiming()
	timing.CheckInterval = 10 * time.Millisecond
	timing.NextQuestionPause = 10 * time.Millisecond
	f.manager = NewManager(questions, f.store, Deps{
		Transcriber: f.transcriber,
		Oracle:      f.oracle,
		Synthesizer: tts.Disabled{},
		Repository:  f.repo,
		Notifier:    f.notifier,
	}, RunnerConfig{
		Timing:           timing,
		Language:         "en-US",
		ReconnectBackoff: 5 * time.Millisecond,
		Throttle: oracle.ThrottleConfig{
			MinInterval: 10 * time.Millisecond,
			MinWords:    3,
		},
	}, time.Minute, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		f.manager.Shutdown(ctx)
	})
	return f
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func drain(r *Runner) {
	go func() {
		for range r.Outbound() {
		}
	}()
}

func startRecording(t *testing.T, f *fixtures, r *Runner) QuestionInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q, ok, err := r.NextQuestion(ctx)
	if err != nil || !ok {
		t.Fatalf("NextQuestion ok=%v err=%v", ok, err)
	}
	r.HandleClientMessage(ClientMessage{Type: ClientMsgTTSFinished})
	waitUntil(t, 2*time.Second, func() bool { return r.View().State == StateRecording }, "recording never started")
	waitUntil(t, 2*time.Second, func() bool { return f.transcriber.streams() > 0 }, "transcript stream never opened")
	return q
}

func TestManager_RunsInterviewToCompletion(t *testing.T) {
	questions := []string{"Tell me about yourself.", "Why Go?"}
	f := newFixtures(t, questions)

	res, err := f.manager.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.TotalQuestions != 2 || res.TranscriptFile == "" {
		t.Fatalf("start result = %+v", res)
	}
	r, err := f.manager.Get(res.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := r.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := r.Attach(); !errors.Is(err, ErrClientAttached) {
		t.Fatalf("second Attach err = %v", err)
	}
	drain(r)

	for i, want := range questions {
		q := startRecording(t, f, r)
		if q.Question != want || q.QuestionNumber != i+1 || q.HasAudio {
			t.Fatalf("question %d = %+v", i+1, q)
		}
		f.transcriber.latest().OnResult("this is my complete answer", true)
		waitUntil(t, 2*time.Second, func() bool { return r.View().Index == i+1 }, "question never advanced")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, ok, err := r.NextQuestion(ctx); err != nil || ok {
		t.Fatalf("NextQuestion after last question ok=%v err=%v", ok, err)
	}
	<-r.Done()

	rec, err := f.store.Load(res.TranscriptFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rec.Entries) != 2 || rec.TotalQuestions != 2 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Entries[1].FullAnswer != "this is my complete answer" || rec.Entries[1].WordCount != 5 {
		t.Fatalf("entry = %+v", rec.Entries[1])
	}

	answers, finished := f.repo.snapshot()
	if len(answers) != 2 || len(finished) != 1 || finished[0].Status != repository.InterviewStatusCompleted {
		t.Fatalf("repo answers=%d finished=%+v", len(answers), finished)
	}
	waitUntil(t, 2*time.Second, func() bool { return len(f.notifier.completions()) == 1 }, "completion never notified")
	if c := f.notifier.completions()[0]; c.Status != "completed" || c.FileName != res.TranscriptFile {
		t.Fatalf("completion = %+v", c)
	}
}

func TestRunner_ReconnectsAfterDrop(t *testing.T) {
	f := newFixtures(t, []string{"Describe a hard bug."})
	f.oracle.verdict = oracle.VerdictIncomplete

	res, err := f.manager.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	r, _ := f.manager.Get(res.SessionID)
	drain(r)
	startRecording(t, f, r)

	f.transcriber.latest().OnResult("first", true)
	waitUntil(t, 2*time.Second, func() bool { return len(r.View().Segments) == 1 }, "first segment missing")

	f.transcriber.latest().OnError(errors.New("connection reset"))
	waitUntil(t, 2*time.Second, func() bool { return f.transcriber.streams() == 2 }, "channel never reconnected")
	waitUntil(t, 2*time.Second, func() bool { return !r.View().Reconnecting }, "reconnect never completed")
	if score := r.Health().Score; score >= 100 {
		t.Fatalf("health score = %v after a drop, want degraded", score)
	}

	f.transcriber.latest().OnResult("second", true)
	waitUntil(t, 2*time.Second, func() bool { return len(r.View().Segments) == 2 }, "segment after reconnect missing")
	if segs := r.View().Segments; segs[0] != "first" || segs[1] != "second" {
		t.Fatalf("segments = %v", segs)
	}
	if r.View().State.Terminal() {
		t.Fatal("session ended after a recoverable drop")
	}
}

func TestManager_EndAbortsSession(t *testing.T) {
	f := newFixtures(t, []string{"q1", "q2"})
	res, err := f.manager.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	r, _ := f.manager.Get(res.SessionID)
	drain(r)
	startRecording(t, f, r)
	f.transcriber.latest().OnResult("an", false)

	info, err := f.manager.End(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if info.State != StateAborted || info.EndReason != AbortEnded {
		t.Fatalf("info = %+v", info)
	}
	if _, err := f.manager.Get(res.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get after End err = %v", err)
	}
	if _, err := f.manager.End(context.Background(), res.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second End err = %v", err)
	}
	_, finished := f.repo.snapshot()
	if len(finished) != 1 || finished[0].Status != repository.InterviewStatusAborted {
		t.Fatalf("finished = %+v", finished)
	}
}

type flakyStore struct {
	*transcript.FileStore
	failing atomic.Bool
}

func (s *flakyStore) Save(ctx context.Context, handle string, rec transcript.Record) error {
	if s.failing.Load() {
		return errors.New("disk full")
	}
	return s.FileStore.Save(ctx, handle, rec)
}

func TestManager_FinalSaveFailureIsReported(t *testing.T) {
	f := newFixtures(t, []string{"q1"})
	store := &flakyStore{FileStore: f.store}
	f.manager.store = store
	res, err := f.manager.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	r, _ := f.manager.Get(res.SessionID)
	drain(r)

	store.failing.Store(true)
	if _, err := f.manager.End(context.Background(), res.SessionID); err != nil {
		t.Fatalf("End: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return len(f.notifier.completions()) == 1 }, "completion never notified")
	c := f.notifier.completions()[0]
	if c.TranscriptSaved || c.Status != string(repository.InterviewStatusAborted) {
		t.Fatalf("completion = %+v", c)
	}
	if _, finished := f.repo.snapshot(); len(finished) != 1 {
		t.Fatalf("finished = %+v", finished)
	}
}

func TestManager_TranscriptOutlivesSession(t *testing.T) {
	f := newFixtures(t, []string{"q1", "q2"})
	res, err := f.manager.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	r, _ := f.manager.Get(res.SessionID)
	drain(r)
	startRecording(t, f, r)
	f.transcriber.latest().OnResult("channels carry typed values", true)
	waitUntil(t, 2*time.Second, func() bool { return r.View().Index == 1 }, "first answer never recorded")

	live, err := f.manager.Transcript(context.Background(), res.SessionID)
	if err != nil || !live.Active {
		t.Fatalf("live transcript = %+v, err = %v", live, err)
	}
	if _, err := f.manager.End(context.Background(), res.SessionID); err != nil {
		t.Fatalf("End: %v", err)
	}

	got, err := f.manager.Transcript(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("Transcript after End: %v", err)
	}
	if got.Active || got.TranscriptFile != res.TranscriptFile {
		t.Fatalf("transcript = %+v", got)
	}
	if len(got.Record.Entries) != 1 || got.Record.Entries[0].FullAnswer != "channels carry typed values" {
		t.Fatalf("entries = %+v", got.Record.Entries)
	}

	if _, err := f.manager.Transcript(context.Background(), uuid.NewString()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("unknown id err = %v", err)
	}
	if _, err := f.manager.Transcript(context.Background(), "../etc"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("malformed id err = %v", err)
	}
}

func TestManager_TranscriptRebuiltFromDatabase(t *testing.T) {
	f := newFixtures(t, []string{"q1", "q2"})
	id := uuid.NewString()
	createdAt := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	f.repo.interview = &repository.Interview{
		ID:             id,
		TotalQuestions: 2,
		TranscriptFile: "interview_transcript_gone.json",
		Status:         repository.InterviewStatusCompleted,
		CreatedAt:      createdAt,
	}
	f.repo.stored = []repository.Answer{{
		InterviewID:    id,
		QuestionNumber: 1,
		Question:       "q1",
		AnswerSegments: []string{"a slice header", "points at an array"},
		FullAnswer:     "a slice header points at an array",
		WordCount:      7,
		AnsweredAt:     createdAt.Add(time.Minute),
	}}

	got, err := f.manager.Transcript(context.Background(), id)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if got.Active || got.TranscriptFile != "interview_transcript_gone.json" {
		t.Fatalf("transcript = %+v", got)
	}
	rec := got.Record
	if rec.InterviewID != id || rec.TotalQuestions != 2 || len(rec.Entries) != 1 || rec.Entries[0].WordCount != 7 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestRunner_DetachAbortsSession(t *testing.T) {
	f := newFixtures(t, []string{"q1"})
	res, _ := f.manager.Start(context.Background())
	r, _ := f.manager.Get(res.SessionID)
	drain(r)
	if err := r.Attach(); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	r.Detach()
	<-r.Done()
	if v := r.View(); v.State != StateAborted || v.EndReason != AbortClientDisconnected {
		t.Fatalf("view = %+v", v)
	}
	if err := r.Attach(); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("Attach after end err = %v", err)
	}
}

func TestRunner_UnknownClientMessage(t *testing.T) {
	f := newFixtures(t, []string{"q1"})
	res, _ := f.manager.Start(context.Background())
	r, _ := f.manager.Get(res.SessionID)
	drain(r)
	if r.HandleClientMessage(ClientMessage{Type: "dance"}) {
		t.Fatal("unknown message type accepted")
	}
	if !r.HandleClientMessage(ClientMessage{Type: ClientMsgPing}) {
		t.Fatal("ping rejected")
	}
}

func TestManager_ReapsIdleSessions(t *testing.T) {
	f := newFixtures(t, []string{"q1"})
	res, _ := f.manager.Start(context.Background())
	r, _ := f.manager.Get(res.SessionID)
	drain(r)

	f.manager.reapIdle(context.Background())
	if _, err := f.manager.Get(res.SessionID); err != nil {
		t.Fatalf("active session reaped: %v", err)
	}

	f.manager.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	f.manager.reapIdle(context.Background())
	if _, err := f.manager.Get(res.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("idle session still registered: %v", err)
	}
	<-r.Done()
	if v := r.View(); v.EndReason != AbortIdle {
		t.Fatalf("end reason = %q", v.EndReason)
	}
	if got := len(f.manager.List()); got != 0 {
		t.Fatalf("List() = %d sessions", got)
	}
}
