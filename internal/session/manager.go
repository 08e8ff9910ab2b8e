package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/foxseedlab/mensetsu/internal/audio"
	"github.com/foxseedlab/mensetsu/internal/config"
	"github.com/foxseedlab/mensetsu/internal/oracle"
	"github.com/foxseedlab/mensetsu/internal/repository"
	"github.com/foxseedlab/mensetsu/internal/transcript"
	"github.com/google/uuid"
)

const (
	stopTimeout        = 5 * time.Second
	maxReaperInterval  = 30 * time.Second
	minReaperInterval  = time.Second
	defaultIdleTimeout = 30 * time.Minute
)

var ErrSessionNotFound = errors.New("session: not found")

type StartResult struct {
	SessionID      string `json:"session_id"`
	TotalQuestions int    `json:"total_questions"`
	TranscriptFile string `json:"transcript_file"`
}

type TranscriptResult struct {
	TranscriptFile string
	Record         transcript.Record
	Active         bool
}

type Manager struct {
	questions   []string
	store       transcript.Store
	deps        Deps
	runnerCfg   RunnerConfig
	idleTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Runner
}

func NewManager(questions []string, store transcript.Store, deps Deps, runnerCfg RunnerConfig, idleTimeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	if deps.Repository == nil {
		deps.Repository = repository.Nop{}
	}
	qs := make([]string, len(questions))
	copy(qs, questions)
	return &Manager{
		questions:   qs,
		store:       store,
		deps:        deps,
		runnerCfg:   runnerCfg,
		idleTimeout: idleTimeout,
		logger:      logger,
		now:         time.Now,
		sessions:    make(map[string]*Runner),
	}
}

func RunnerConfigFromConfig(cfg *config.Config) RunnerConfig {
	timing := DefaultTiming()
	timing.HardTimeout = cfg.QuestionHardTimeout
	timing.NextQuestionPause = cfg.NextQuestionPause
	return RunnerConfig{
		Timing:               timing,
		Language:             cfg.TranscribeLanguage,
		Encoding:             audio.Encoding(cfg.AudioInputEncoding),
		BatchFragments:       cfg.AudioBatchFragments,
		ConnectTimeout:       cfg.ASRConnectTimeout,
		MaxReconnectAttempts: cfg.ASRMaxReconnectAttempts,
		TTSTimeout:           cfg.TTSTimeout,
		Throttle: oracle.ThrottleConfig{
			MinInterval:    cfg.OracleMinInterval,
			MinWords:       cfg.OracleMinWords,
			MaxConsecutive: cfg.MaxConsecutiveIncomplete,
			CallTimeout:    cfg.OracleTimeout,
		},
	}
}

func (m *Manager) Start(ctx context.Context) (StartResult, error) {
	id := uuid.NewString()
	createdAt := m.now()
	rec := transcript.NewRecord(id, createdAt, len(m.questions))
	recorder := transcript.NewRecorder(m.store, rec, m.logger)
	if err := recorder.Flush(ctx); err != nil {
		return StartResult{}, err
	}
	if err := m.deps.Repository.CreateInterview(ctx, repository.CreateInterviewInput{
		ID:             id,
		TotalQuestions: len(m.questions),
		TranscriptFile: recorder.Handle(),
		CreatedAt:      createdAt,
	}); err != nil {
		m.logger.Error("failed to mirror interview", "session_id", id, "error", err)
	}

	r := newRunner(id, createdAt, m.questions, recorder, m.deps, m.runnerCfg, m.logger)
	m.mu.Lock()
	m.sessions[id] = r
	m.mu.Unlock()
	go r.run()

	m.logger.Info("session started", "session_id", id, "total_questions", len(m.questions), "transcript_file", recorder.Handle())
	return StartResult{
		SessionID:      id,
		TotalQuestions: len(m.questions),
		TranscriptFile: recorder.Handle(),
	}, nil
}

func (m *Manager) Get(id string) (*Runner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return r, nil
}

// End aborts a session that has not completed and removes it from the
// registry. The transcript file stays on disk.
func (m *Manager) End(ctx context.Context, id string) (Info, error) {
	m.mu.Lock()
	r, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := r.Stop(ctx, AbortEnded); err != nil {
		m.logger.Warn("session did not stop in time", "session_id", id, "error", err)
	}
	m.logger.Info("session ended", "session_id", id)
	return r.Info(), nil
}

// Transcript falls back to the transcript file, then to the database
// mirror, once the session has left the registry.
func (m *Manager) Transcript(ctx context.Context, id string) (TranscriptResult, error) {
	if r, err := m.Get(id); err == nil {
		return TranscriptResult{TranscriptFile: r.recorder.Handle(), Record: r.Transcript(), Active: true}, nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return TranscriptResult{}, ErrSessionNotFound
	}

	interview, err := m.deps.Repository.GetInterview(ctx, id)
	if err != nil {
		m.logger.Warn("failed to look up interview", "session_id", id, "error", err)
		interview = nil
	}
	var handle string
	if interview != nil {
		handle = interview.TranscriptFile
	}
	if handle == "" {
		handle, err = m.store.Find(id)
		if errors.Is(err, transcript.ErrNotFound) {
			return TranscriptResult{}, ErrSessionNotFound
		}
		if err != nil {
			return TranscriptResult{}, err
		}
	}

	rec, err := m.store.Load(handle)
	if err == nil {
		return TranscriptResult{TranscriptFile: handle, Record: rec}, nil
	}
	if interview == nil {
		if errors.Is(err, transcript.ErrNotFound) {
			return TranscriptResult{}, ErrSessionNotFound
		}
		return TranscriptResult{}, err
	}
	m.logger.Warn("transcript file unreadable; rebuilding from database", "session_id", id, "file", handle, "error", err)
	answers, err := m.deps.Repository.ListAnswersByInterviewID(ctx, id)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("list answers: %w", err)
	}
	rec = transcript.NewRecord(id, interview.CreatedAt, interview.TotalQuestions)
	for _, a := range answers {
		rec.Entries = append(rec.Entries, transcript.Entry{
			QuestionNumber: a.QuestionNumber,
			Question:       a.Question,
			AnswerSegments: a.AnswerSegments,
			FullAnswer:     a.FullAnswer,
			Timestamp:      a.AnsweredAt,
			WordCount:      a.WordCount,
		})
	}
	return TranscriptResult{TranscriptFile: handle, Record: rec}, nil
}

func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, r := range m.sessions {
		out = append(out, r.Info())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RunReaper removes sessions without client activity for the idle timeout
// until ctx is cancelled.
func (m *Manager) RunReaper(ctx context.Context) {
	interval := m.idleTimeout / 2
	if interval > maxReaperInterval {
		interval = maxReaperInterval
	}
	if interval < minReaperInterval {
		interval = minReaperInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapIdle(ctx)
		}
	}
}

func (m *Manager) reapIdle(ctx context.Context) {
	now := m.now()
	var idle []*Runner
	m.mu.Lock()
	for id, r := range m.sessions {
		if r.IdleFor(now) >= m.idleTimeout {
			idle = append(idle, r)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, r := range idle {
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		if err := r.Stop(stopCtx, AbortIdle); err != nil {
			m.logger.Warn("idle session did not stop in time", "session_id", r.ID(), "error", err)
		}
		cancel()
		m.logger.Info("idle session removed", "session_id", r.ID())
	}
}

func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	runners := make([]*Runner, 0, len(m.sessions))
	for id, r := range m.sessions {
		runners = append(runners, r)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *Runner) {
			defer wg.Done()
			if err := r.Stop(ctx, AbortShutdown); err != nil {
				m.logger.Warn("session did not stop before shutdown deadline", "session_id", r.ID(), "error", err)
				return
			}
			r.Wait()
		}(r)
	}
	wg.Wait()
}
