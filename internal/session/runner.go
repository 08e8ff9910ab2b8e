package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/mensetsu/internal/audio"
	"github.com/foxseedlab/mensetsu/internal/health"
	"github.com/foxseedlab/mensetsu/internal/notify"
	"github.com/foxseedlab/mensetsu/internal/oracle"
	"github.com/foxseedlab/mensetsu/internal/repository"
	"github.com/foxseedlab/mensetsu/internal/transcriber"
	"github.com/foxseedlab/mensetsu/internal/transcript"
	"github.com/foxseedlab/mensetsu/internal/tts"
)

const (
	eventQueueSize    = 64
	outboundQueueSize = 128
	notifyTimeout     = 30 * time.Second
	persistTimeout    = 10 * time.Second
)

var (
	ErrClientAttached = errors.New("session: a client is already attached")
	ErrSessionEnded   = errors.New("session: already ended")
	ErrNoQuestion     = errors.New("session: no question is being played")
)

type RunnerConfig struct {
	Timing               Timing
	Language             string
	Encoding             audio.Encoding
	BatchFragments       int
	ConnectTimeout       time.Duration
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	TTSTimeout           time.Duration
	HealthInterval       time.Duration
	Throttle             oracle.ThrottleConfig
}

type Deps struct {
	Transcriber transcriber.Transcriber
	Oracle      oracle.Oracle
	Synthesizer tts.Synthesizer
	Repository  repository.Repository
	Notifier    notify.Notifier
}

type Info struct {
	ID             string    `json:"session_id"`
	State          State     `json:"state"`
	QuestionNumber int       `json:"question_number"`
	TotalQuestions int       `json:"total_questions"`
	HealthScore    float64   `json:"health_score"`
	NetworkLatency float64   `json:"network_latency"`
	TranscriptFile string    `json:"transcript_file"`
	EndReason      string    `json:"end_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type QuestionInfo struct {
	Question       string `json:"question"`
	QuestionNumber int    `json:"question_number"`
	TotalQuestions int    `json:"total_questions"`
	HasAudio       bool   `json:"has_audio"`
}

// playbackDone is the client's "finished playing" signal before the loop
// has stamped it with the current question index.
type playbackDone struct{}

func (playbackDone) isEvent() {}

// Runner drives one interview. All machine transitions happen on the
// goroutine started by run; other methods only post events or read the
// published view.
type Runner struct {
	id        string
	createdAt time.Time
	cfg       RunnerConfig
	logger    *slog.Logger
	now       func() time.Time

	machine    *Machine
	health     *health.Monitor
	channel    *transcriber.Channel
	aggregator *audio.Aggregator
	throttle   *oracle.Throttle
	recorder   *transcript.Recorder
	deps       Deps

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	out    chan any
	done   chan struct{}

	timersMu sync.Mutex
	timers   []*time.Timer

	mu       sync.RWMutex
	view     View
	changed  chan struct{}
	attached bool
	audioFor int
	audio    *tts.Audio

	lastActivity atomic.Int64
	bg           sync.WaitGroup
}

func newRunner(id string, createdAt time.Time, questions []string, recorder *transcript.Recorder, deps Deps, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 5 * time.Second
	}
	if cfg.TTSTimeout <= 0 {
		cfg.TTSTimeout = 10 * time.Second
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = transcriber.DefaultReconnectBackoff
	}
	if deps.Synthesizer == nil {
		deps.Synthesizer = tts.Disabled{}
	}
	if deps.Repository == nil {
		deps.Repository = repository.Nop{}
	}
	logger = logger.With("session_id", id)
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		id:        id,
		createdAt: createdAt,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		machine:   NewMachine(questions, cfg.Timing),
		health:    health.NewMonitor(health.Config{}),
		recorder:  recorder,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan Event, eventQueueSize),
		out:       make(chan any, outboundQueueSize),
		done:      make(chan struct{}),
		changed:   make(chan struct{}),
		audioFor:  -1,
	}
	r.channel = transcriber.NewChannel(deps.Transcriber, transcriber.ChannelConfig{
		SessionID:            id,
		Language:             cfg.Language,
		ConnectTimeout:       cfg.ConnectTimeout,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Backoff: func(attempt int) time.Duration {
			return r.health.ScaledDelay(cfg.ReconnectBackoff << (attempt - 1))
		},
	}, logger)
	r.aggregator = audio.NewAggregator(ctx, r.channel, audio.AggregatorConfig{
		Threshold: cfg.BatchFragments,
		FollowUpDelay: func() time.Duration {
			return r.health.ScaledDelay(audio.DefaultFollowUpDelay)
		},
	}, logger)
	throttleCfg := cfg.Throttle
	throttleCfg.Scale = r.health.ScaledDelay
	r.throttle = oracle.NewThrottle(deps.Oracle, throttleCfg, logger)
	r.view = r.machine.View()
	r.touch()
	return r
}

func (r *Runner) ID() string { return r.id }

func (r *Runner) Done() <-chan struct{} { return r.done }

// Outbound carries the frames to write to the client. It is closed when the
// session loop exits.
func (r *Runner) Outbound() <-chan any { return r.out }

func (r *Runner) Health() health.Snapshot { return r.health.Snapshot() }

func (r *Runner) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view
}

func (r *Runner) Info() Info {
	v := r.View()
	h := r.health.Snapshot()
	qn := v.Index + 1
	if qn > v.TotalQuestions {
		qn = v.TotalQuestions
	}
	return Info{
		ID:             r.id,
		State:          v.State,
		QuestionNumber: qn,
		TotalQuestions: v.TotalQuestions,
		HealthScore:    h.Score,
		NetworkLatency: h.MeanLatency.Seconds(),
		TranscriptFile: r.recorder.Handle(),
		EndReason:      v.EndReason,
		CreatedAt:      r.createdAt,
	}
}

func (r *Runner) Transcript() transcript.Record {
	return r.recorder.Snapshot()
}

func (r *Runner) IdleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, r.lastActivity.Load()))
}

func (r *Runner) touch() {
	r.lastActivity.Store(r.now().UnixNano())
}

func (r *Runner) Attach() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.view.State.Terminal() {
		return ErrSessionEnded
	}
	if r.attached {
		return ErrClientAttached
	}
	r.attached = true
	r.touch()
	return nil
}

// Detach releases the client. A session that is still running is aborted.
func (r *Runner) Detach() {
	r.mu.Lock()
	r.attached = false
	r.mu.Unlock()
	r.post(Abort{Reason: AbortClientDisconnected})
}

func (r *Runner) HandleClientMessage(msg ClientMessage) bool {
	r.touch()
	switch msg.Type {
	case ClientMsgPing:
		return true
	case ClientMsgTTSFinished, ClientMsgStartListening:
		r.post(playbackDone{})
	case ClientMsgNextQuestion:
		r.post(ManualAdvance{})
	case ClientMsgMicrophoneUnavailable:
		r.post(Abort{Reason: AbortMicrophoneUnavailable})
	default:
		return false
	}
	return true
}

func (r *Runner) PushAudio(frame []byte) {
	r.touch()
	if r.cfg.Encoding == audio.EncodingPCMF32LE {
		frame = audio.F32LEToPCM16(frame)
	}
	r.aggregator.Add(frame)
}

func (r *Runner) RecordRTT(rtt time.Duration) {
	r.health.RecordSample(rtt)
}

// NextQuestion blocks until a question is ready to be played and returns
// it. ok is false once the session has no more questions.
func (r *Runner) NextQuestion(ctx context.Context) (q QuestionInfo, ok bool, err error) {
	r.touch()
	v, err := r.waitFor(ctx, func(v View) bool {
		return v.State == StatePlayingQuestion || v.State.Terminal()
	})
	if err != nil {
		return QuestionInfo{}, false, err
	}
	if v.State.Terminal() {
		return QuestionInfo{}, false, nil
	}
	r.mu.RLock()
	hasAudio := r.audio != nil && r.audioFor == v.Index
	r.mu.RUnlock()
	r.post(QuestionDelivered{Index: v.Index})
	return QuestionInfo{
		Question:       v.Question,
		QuestionNumber: v.Index + 1,
		TotalQuestions: v.TotalQuestions,
		HasAudio:       hasAudio,
	}, true, nil
}

func (r *Runner) QuestionAudio() (tts.Audio, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.view.State != StatePlayingQuestion || r.audioFor != r.view.Index {
		return tts.Audio{}, ErrNoQuestion
	}
	if r.audio == nil {
		return tts.Audio{}, tts.ErrUnavailable
	}
	return *r.audio, nil
}

// Stop aborts the session with reason and waits for the loop to exit.
func (r *Runner) Stop(ctx context.Context, reason string) error {
	r.post(Abort{Reason: reason})
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until background work, including completion notifications,
// has finished. It must only be called after Done is closed.
func (r *Runner) Wait() {
	r.bg.Wait()
}

func (r *Runner) waitFor(ctx context.Context, cond func(View) bool) (View, error) {
	for {
		r.mu.RLock()
		v, ch := r.view, r.changed
		r.mu.RUnlock()
		if cond(v) {
			return v, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}

func (r *Runner) post(ev Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Runner) postLater(d time.Duration, ev Event) {
	t := time.AfterFunc(d, func() { r.post(ev) })
	r.timersMu.Lock()
	r.timers = append(r.timers, t)
	r.timersMu.Unlock()
}

func (r *Runner) goBackground(fn func()) {
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		fn()
	}()
}

func (r *Runner) publish() {
	v := r.machine.View()
	r.mu.Lock()
	r.view = v
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

func (r *Runner) run() {
	defer r.shutdown()

	r.goBackground(r.connect)
	tick := time.NewTimer(r.health.ScaledDelay(r.machine.Timing().CheckInterval))
	defer tick.Stop()
	healthTicker := time.NewTicker(r.cfg.HealthInterval)
	defer healthTicker.Stop()

	r.apply(Start{})
	for !r.machine.State().Terminal() {
		select {
		case ev := <-r.events:
			r.apply(ev)
		case ev := <-r.channel.Events():
			r.applyChannelEvent(ev)
		case <-tick.C:
			r.apply(Tick{})
			tick.Reset(r.health.ScaledDelay(r.machine.Timing().CheckInterval))
		case <-healthTicker.C:
			h := r.health.Snapshot()
			r.sendClient(newHealthUpdateMessage(h.Score, h.MeanLatency.Seconds()))
		}
	}
}

func (r *Runner) shutdown() {
	r.timersMu.Lock()
	for _, t := range r.timers {
		t.Stop()
	}
	r.timersMu.Unlock()
	r.cancel()
	r.aggregator.Close()
	if err := r.channel.Close(); err != nil {
		r.logger.Warn("failed to close transcript channel", "error", err)
	}
	r.publish()
	close(r.out)
	close(r.done)
	r.logger.Info("session loop stopped", "state", r.machine.State(), "reason", r.machine.View().EndReason)
}

func (r *Runner) connect() {
	if err := r.channel.Connect(r.ctx); err != nil {
		if r.ctx.Err() != nil {
			return
		}
		r.logger.Warn("initial transcript channel connect failed", "error", err)
		r.health.RecordDrop()
		r.post(ChannelDropped{Generation: r.channel.Generation()})
		return
	}
	r.post(ChannelRestored{Generation: r.channel.Generation()})
}

func (r *Runner) applyChannelEvent(ev transcriber.Event) {
	switch ev.Kind {
	case transcriber.EventInterim, transcriber.EventFinal:
		r.apply(Transcript{Text: ev.Text, Final: ev.Kind == transcriber.EventFinal, Generation: ev.Generation})
	case transcriber.EventDropped:
		r.logger.Warn("transcript channel dropped", "generation", ev.Generation, "error", ev.Err)
		r.health.RecordDrop()
		r.apply(ChannelDropped{Generation: ev.Generation})
	}
}

func (r *Runner) apply(ev Event) {
	if _, ok := ev.(playbackDone); ok {
		ev = PlaybackFinished{Index: r.machine.Index()}
	}
	env := Env{Now: r.now(), Score: r.health.Score()}
	before := r.machine.State()
	effects := r.machine.Apply(ev, env)
	if after := r.machine.State(); after != before {
		r.logger.Info("session state changed", "from", before, "to", after, "question_index", r.machine.Index())
	}
	r.publish()
	for _, eff := range effects {
		r.execute(eff)
	}
}

func (r *Runner) execute(eff Effect) {
	switch e := eff.(type) {
	case LoadQuestion:
		r.loadQuestion(e)
	case StartRecording:
		r.throttle.Reset()
		r.channel.SetRecording(true)
	case StopRecording:
		r.channel.SetRecording(false)
		r.aggregator.Discard()
	case RequestCheck:
		r.requestCheck(e)
	case Send:
		r.sendClient(e.Msg)
	case Finalize:
		r.finalize(e.Entry)
	case ScheduleAdvance:
		r.postLater(e.Delay, AdvanceReady{Index: e.Index})
	case SchedulePlaybackFallback:
		r.postLater(e.Delay, PlaybackFinished{Index: e.Index, Fallback: true})
	case Reconnect:
		r.goBackground(r.reconnect)
	case Finish:
		r.finish(e)
	}
}

func (r *Runner) loadQuestion(e LoadQuestion) {
	r.mu.Lock()
	r.audio = nil
	r.audioFor = -1
	r.mu.Unlock()
	r.goBackground(func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.TTSTimeout)
		defer cancel()
		a, err := r.deps.Synthesizer.Synthesize(ctx, e.Text)
		if err != nil {
			if !errors.Is(err, tts.ErrUnavailable) {
				r.logger.Warn("question audio unavailable", "question_index", e.Index, "error", err)
			}
			r.post(QuestionLoaded{Index: e.Index})
			return
		}
		r.mu.Lock()
		r.audio = &a
		r.audioFor = e.Index
		r.mu.Unlock()
		r.post(QuestionLoaded{Index: e.Index, AudioAvailable: true})
	})
}

func (r *Runner) requestCheck(e RequestCheck) {
	status, call := r.throttle.MaybeCheck(e.Request)
	if call == nil {
		r.apply(CheckResolved{Seq: e.Seq, Status: status})
		return
	}
	r.sendClient(newCheckingCompletionMessage(r.health.Score()))
	r.goBackground(func() {
		ctx := oracle.WithDelayScale(r.ctx, r.health.ScaledDelay)
		dec := call.Do(ctx)
		r.post(CheckResolved{Seq: e.Seq, Status: status, Decision: dec})
	})
}

func (r *Runner) reconnect() {
	if err := r.channel.Reconnect(r.ctx); err != nil {
		if r.ctx.Err() != nil {
			return
		}
		r.logger.Error("transcript channel could not be restored", "error", err)
		r.post(ChannelFailed{})
		return
	}
	r.post(ChannelRestored{Generation: r.channel.Generation()})
}

func (r *Runner) finalize(e transcript.Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), persistTimeout)
	defer cancel()
	if err := r.recorder.Append(ctx, e); err != nil {
		r.logger.Error("failed to record answer", "question_number", e.QuestionNumber, "error", err)
	}
	if err := r.deps.Repository.InsertAnswer(ctx, repository.InsertAnswerInput{
		InterviewID:    r.id,
		QuestionNumber: e.QuestionNumber,
		Question:       e.Question,
		AnswerSegments: e.AnswerSegments,
		FullAnswer:     e.FullAnswer,
		WordCount:      e.WordCount,
		AnsweredAt:     e.Timestamp,
	}); err != nil {
		r.logger.Error("failed to mirror answer", "question_number", e.QuestionNumber, "error", err)
	}
	r.logger.Info("answer recorded", "question_number", e.QuestionNumber, "word_count", e.WordCount)
}

func (r *Runner) finish(e Finish) {
	endedAt := r.now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), persistTimeout)
	defer cancel()
	saved := true
	if err := r.recorder.Flush(ctx); err != nil {
		saved = false
		r.logger.Error("failed to persist final transcript", "file", r.recorder.Handle(), "error", err)
	}

	status := repository.InterviewStatusCompleted
	if e.State == StateAborted {
		status = repository.InterviewStatusAborted
	}
	if err := r.deps.Repository.FinishInterview(ctx, repository.FinishInterviewInput{
		ID:        r.id,
		Status:    status,
		EndReason: e.Reason,
		EndedAt:   endedAt,
	}); err != nil {
		r.logger.Error("failed to mark interview finished", "error", err)
	}
	r.logger.Info("interview finished", "status", status, "reason", e.Reason, "answered", len(r.recorder.Snapshot().Entries), "transcript_saved", saved)

	if r.deps.Notifier == nil {
		return
	}
	completion := notify.Completion{
		Record:          r.recorder.Snapshot(),
		FileName:        r.recorder.Handle(),
		TranscriptSaved: saved,
		Status:          string(status),
		Reason:          e.Reason,
		EndedAt:         endedAt,
	}
	r.goBackground(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), notifyTimeout)
		defer cancel()
		if err := r.deps.Notifier.NotifyTranscript(ctx, completion); err != nil {
			r.logger.Warn("transcript notification incomplete", "error", err)
		}
	})
}

func (r *Runner) sendClient(msg any) {
	select {
	case r.out <- msg:
	default:
		r.logger.Warn("client outbound queue full; dropping message", "message", msg)
	}
}
