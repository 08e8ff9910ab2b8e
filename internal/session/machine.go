package session

import (
	"strings"
	"time"

	"github.com/foxseedlab/mensetsu/internal/health"
	"github.com/foxseedlab/mensetsu/internal/oracle"
	"github.com/foxseedlab/mensetsu/internal/transcript"
)

type State string

const (
	StateIdle               State = "idle"
	StateQuestionLoading    State = "question_loading"
	StatePlayingQuestion    State = "playing_question"
	StateRecording          State = "recording"
	StateCheckingCompletion State = "checking_completion"
	StateAdvancingQuestion  State = "advancing_question"
	StateCompleted          State = "completed"
	StateAborted            State = "aborted"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

func (s State) recording() bool {
	return s == StateRecording || s == StateCheckingCompletion
}

type Reason string

const (
	ReasonComplete       Reason = "complete"
	ReasonForcedComplete Reason = "forced_complete"
	ReasonNoAnswer       Reason = "no_answer"
	ReasonTimeout        Reason = "timeout"
	ReasonManual         Reason = "manual"
)

const (
	AbortClientDisconnected       = "client_disconnected"
	AbortMicrophoneUnavailable    = "microphone_unavailable"
	AbortTranscriptionUnavailable = "transcription_unavailable"
	AbortEnded                    = "ended"
	AbortIdle                     = "idle_timeout"
	AbortShutdown                 = "shutdown"
)

// Timing holds the base delays of the question loop. Everything except
// HardTimeout is stretched by the health score before use.
type Timing struct {
	CheckInterval         time.Duration
	PauseThreshold        time.Duration
	PauseStep             time.Duration
	PauseMax              time.Duration
	NoSpeechTimeout       time.Duration
	SilenceLimit          time.Duration
	HardTimeout           time.Duration
	NextQuestionPause     time.Duration
	PlaybackFallbackDelay time.Duration
	PlaybackTimeout       time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		CheckInterval:         500 * time.Millisecond,
		PauseThreshold:        2 * time.Second,
		PauseStep:             time.Second,
		PauseMax:              6 * time.Second,
		NoSpeechTimeout:       8 * time.Second,
		SilenceLimit:          15 * time.Second,
		HardTimeout:           3 * time.Minute,
		NextQuestionPause:     2 * time.Second,
		PlaybackFallbackDelay: 1500 * time.Millisecond,
		PlaybackTimeout:       time.Minute,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.CheckInterval, d.CheckInterval)
	fill(&t.PauseThreshold, d.PauseThreshold)
	fill(&t.PauseStep, d.PauseStep)
	fill(&t.PauseMax, d.PauseMax)
	fill(&t.NoSpeechTimeout, d.NoSpeechTimeout)
	fill(&t.SilenceLimit, d.SilenceLimit)
	fill(&t.HardTimeout, d.HardTimeout)
	fill(&t.NextQuestionPause, d.NextQuestionPause)
	fill(&t.PlaybackFallbackDelay, d.PlaybackFallbackDelay)
	fill(&t.PlaybackTimeout, d.PlaybackTimeout)
	return t
}

type Env struct {
	Now   time.Time
	Score float64
}

func (e Env) scale(d time.Duration) time.Duration {
	return health.Scale(d, e.Score)
}

type Event interface{ isEvent() }

type (
	Start          struct{}
	QuestionLoaded struct {
		Index          int
		AudioAvailable bool
	}
	// QuestionDelivered is raised once the client has fetched the question
	// it is about to play.
	QuestionDelivered struct{ Index int }
	PlaybackFinished  struct {
		Index    int
		Fallback bool
	}
	Transcript struct {
		Text       string
		Final      bool
		Generation uint64
	}
	Tick          struct{}
	CheckResolved struct {
		Seq      uint64
		Status   oracle.Status
		Decision oracle.Decision
	}
	ManualAdvance   struct{}
	AdvanceReady    struct{ Index int }
	ChannelDropped  struct{ Generation uint64 }
	ChannelRestored struct{ Generation uint64 }
	ChannelFailed   struct{}
	Abort           struct{ Reason string }
)

func (Start) isEvent()             {}
func (QuestionLoaded) isEvent()    {}
func (QuestionDelivered) isEvent() {}
func (PlaybackFinished) isEvent()  {}
func (Transcript) isEvent()        {}
func (Tick) isEvent()              {}
func (CheckResolved) isEvent()     {}
func (ManualAdvance) isEvent()     {}
func (AdvanceReady) isEvent()      {}
func (ChannelDropped) isEvent()    {}
func (ChannelRestored) isEvent()   {}
func (ChannelFailed) isEvent()     {}
func (Abort) isEvent()             {}

type Effect interface{ isEffect() }

type (
	LoadQuestion struct {
		Index int
		Text  string
	}
	StartRecording struct{ Index int }
	StopRecording  struct{}
	RequestCheck   struct {
		Seq     uint64
		Request oracle.Request
	}
	Send     struct{ Msg any }
	Finalize struct{ Entry transcript.Entry }
	ScheduleAdvance struct {
		Index int
		Delay time.Duration
	}
	// SchedulePlaybackFallback asks for PlaybackFinished{Index, true} after
	// Delay in case the client never reports the end of playback.
	SchedulePlaybackFallback struct {
		Index int
		Delay time.Duration
	}
	Reconnect struct{}
	Finish    struct {
		State  State
		Reason string
	}
)

func (LoadQuestion) isEffect()             {}
func (StartRecording) isEffect()           {}
func (StopRecording) isEffect()            {}
func (RequestCheck) isEffect()             {}
func (Send) isEffect()                     {}
func (Finalize) isEffect()                 {}
func (ScheduleAdvance) isEffect()          {}
func (SchedulePlaybackFallback) isEffect() {}
func (Reconnect) isEffect()                {}
func (Finish) isEffect()                   {}

// Machine is the question loop of one interview. It does no I/O: Apply
// mutates the machine and returns the effects the caller must carry out.
// It is not safe for concurrent use.
type Machine struct {
	questions []string
	timing    Timing

	state     State
	index     int
	audio     bool
	delivered bool

	segments     []string
	interim      string
	lastFinal    string
	generation   uint64
	startedAt    time.Time
	lastSpeechAt time.Time
	newText      bool
	checkNewText bool
	pauseSteps   int
	checkSeq     uint64
	reconnecting bool
	endReason    string
}

func NewMachine(questions []string, timing Timing) *Machine {
	qs := make([]string, len(questions))
	copy(qs, questions)
	return &Machine{questions: qs, timing: timing.withDefaults(), state: StateIdle}
}

type View struct {
	State          State
	Index          int
	TotalQuestions int
	Question       string
	Segments       []string
	Interim        string
	Generation     uint64
	Reconnecting   bool
	EndReason      string
}

func (m *Machine) View() View {
	segs := make([]string, len(m.segments))
	copy(segs, m.segments)
	return View{
		State:          m.state,
		Index:          m.index,
		TotalQuestions: len(m.questions),
		Question:       m.currentQuestion(),
		Segments:       segs,
		Interim:        m.interim,
		Generation:     m.generation,
		Reconnecting:   m.reconnecting,
		EndReason:      m.endReason,
	}
}

func (m *Machine) State() State   { return m.state }
func (m *Machine) Index() int     { return m.index }
func (m *Machine) Timing() Timing { return m.timing }

func (m *Machine) currentQuestion() string {
	if m.index < 0 || m.index >= len(m.questions) {
		return ""
	}
	return m.questions[m.index]
}

func (m *Machine) fullAnswer() string {
	return strings.Join(m.segments, " ")
}

func (m *Machine) pauseThreshold() time.Duration {
	d := m.timing.PauseThreshold + time.Duration(m.pauseSteps)*m.timing.PauseStep
	if d > m.timing.PauseMax {
		return m.timing.PauseMax
	}
	return d
}

func (m *Machine) Apply(ev Event, env Env) []Effect {
	if m.state.Terminal() {
		return nil
	}
	switch e := ev.(type) {
	case Start:
		return m.onStart()
	case QuestionLoaded:
		if m.state != StateQuestionLoading || e.Index != m.index {
			return nil
		}
		m.state = StatePlayingQuestion
		m.audio = e.AudioAvailable
		m.delivered = false
		return nil
	case QuestionDelivered:
		if m.state != StatePlayingQuestion || e.Index != m.index || m.delivered {
			return nil
		}
		m.delivered = true
		delay := m.timing.PlaybackFallbackDelay
		if m.audio {
			delay = m.timing.PlaybackTimeout
		}
		return []Effect{SchedulePlaybackFallback{Index: m.index, Delay: env.scale(delay)}}
	case PlaybackFinished:
		if m.state != StatePlayingQuestion || e.Index != m.index {
			return nil
		}
		return m.startRecording(env)
	case Transcript:
		return m.onTranscript(e, env)
	case Tick:
		return m.onTick(env)
	case CheckResolved:
		return m.onCheckResolved(e, env)
	case ManualAdvance:
		if m.state.recording() || m.state == StatePlayingQuestion {
			return m.advance(ReasonManual, env)
		}
		return nil
	case AdvanceReady:
		if m.state != StateAdvancingQuestion || e.Index != m.index {
			return nil
		}
		if m.index >= len(m.questions) {
			return m.complete()
		}
		return m.loadQuestion()
	case ChannelDropped:
		if e.Generation < m.generation || m.reconnecting {
			return nil
		}
		m.reconnecting = true
		m.interim = ""
		return []Effect{Reconnect{}}
	case ChannelRestored:
		m.reconnecting = false
		if e.Generation > m.generation {
			m.generation = e.Generation
		}
		return nil
	case ChannelFailed:
		m.reconnecting = false
		return m.abort(AbortTranscriptionUnavailable, env)
	case Abort:
		return m.abort(e.Reason, env)
	}
	return nil
}

func (m *Machine) onStart() []Effect {
	if m.state != StateIdle {
		return nil
	}
	if len(m.questions) == 0 {
		return m.complete()
	}
	return m.loadQuestion()
}

func (m *Machine) loadQuestion() []Effect {
	m.state = StateQuestionLoading
	m.audio = false
	m.delivered = false
	return []Effect{LoadQuestion{Index: m.index, Text: m.questions[m.index]}}
}

func (m *Machine) startRecording(env Env) []Effect {
	m.state = StateRecording
	m.segments = nil
	m.interim = ""
	m.lastFinal = ""
	m.newText = false
	m.checkNewText = false
	m.pauseSteps = 0
	m.startedAt = env.Now
	m.lastSpeechAt = env.Now
	return []Effect{
		StartRecording{Index: m.index},
		Send{Msg: RecordingStartedMessage{Type: msgTypeRecordingStarted, QuestionNumber: m.index + 1}},
	}
}

func (m *Machine) onTranscript(e Transcript, env Env) []Effect {
	if !m.state.recording() {
		return nil
	}
	text := strings.TrimSpace(e.Text)
	if e.Final {
		if e.Generation > m.generation {
			m.generation = e.Generation
		}
		m.interim = ""
		if text == "" {
			return nil
		}
		m.segments = append(m.segments, text)
		m.lastFinal = text
		m.newText = true
		m.lastSpeechAt = env.Now
		return []Effect{Send{Msg: TranscriptMessage{
			Type:       msgTypeTranscript,
			FullAnswer: m.fullAnswer(),
			IsFinal:    true,
		}}}
	}
	if e.Generation < m.generation || text == "" || m.supersededByFinal(text, e.Generation) {
		return nil
	}
	m.generation = e.Generation
	m.interim = text
	m.lastSpeechAt = env.Now
	return []Effect{Send{Msg: TranscriptMessage{
		Type:       msgTypeTranscript,
		Interim:    text,
		FullAnswer: m.fullAnswer(),
	}}}
}

// supersededByFinal reports whether an interim is a late copy of the window
// the current generation just finalized.
func (m *Machine) supersededByFinal(text string, generation uint64) bool {
	if m.lastFinal == "" || generation != m.generation {
		return false
	}
	return strings.HasPrefix(m.lastFinal, text)
}

func (m *Machine) onTick(env Env) []Effect {
	if !m.state.recording() {
		return nil
	}
	if env.Now.Sub(m.startedAt) >= m.timing.HardTimeout {
		return m.advance(ReasonTimeout, env)
	}
	if m.state != StateRecording {
		return nil
	}
	silence := env.Now.Sub(m.lastSpeechAt)
	if len(m.segments) == 0 {
		if m.interim == "" && env.Now.Sub(m.startedAt) >= env.scale(m.timing.NoSpeechTimeout) {
			return m.advance(ReasonNoAnswer, env)
		}
		return nil
	}
	if silence >= env.scale(m.timing.SilenceLimit) {
		return m.advance(ReasonForcedComplete, env)
	}
	if !m.newText && silence < env.scale(m.pauseThreshold()) {
		return nil
	}
	m.state = StateCheckingCompletion
	m.checkSeq++
	m.checkNewText = m.newText
	m.newText = false
	return []Effect{RequestCheck{
		Seq: m.checkSeq,
		Request: oracle.Request{
			Question:   m.currentQuestion(),
			FullAnswer: m.fullAnswer(),
			Interim:    m.interim,
		},
	}}
}

func (m *Machine) onCheckResolved(e CheckResolved, env Env) []Effect {
	if m.state != StateCheckingCompletion || e.Seq != m.checkSeq {
		return nil
	}
	switch e.Status {
	case oracle.StatusForced:
		return m.advance(ReasonForcedComplete, env)
	case oracle.StatusSkipped:
		m.state = StateRecording
		m.newText = m.newText || m.checkNewText
		return nil
	}
	switch e.Decision.Outcome {
	case oracle.OutcomeComplete:
		return m.advance(ReasonComplete, env)
	case oracle.OutcomeIncomplete:
		m.state = StateRecording
		if m.pauseThreshold() < m.timing.PauseMax {
			m.pauseSteps++
		}
		m.lastSpeechAt = env.Now
		return []Effect{Send{Msg: WaitContinueMessage{
			Type:             msgTypeWaitContinue,
			ConsecutiveWaits: e.Decision.Consecutive,
		}}}
	default:
		m.state = StateRecording
		m.lastSpeechAt = env.Now
		return nil
	}
}

func (m *Machine) finalizeEntry(env Env) Effect {
	return Finalize{Entry: transcript.NewEntry(m.index+1, m.currentQuestion(), m.segments, env.Now)}
}

func (m *Machine) advance(reason Reason, env Env) []Effect {
	effects := []Effect{StopRecording{}, m.finalizeEntry(env), Send{Msg: MoveToNextMessage{
		Type:           msgTypeMoveToNext,
		Reason:         reason,
		QuestionNumber: m.index + 1,
	}}}
	m.index++
	m.segments = nil
	m.interim = ""
	m.lastFinal = ""
	m.newText = false
	m.checkSeq++
	m.state = StateAdvancingQuestion
	return append(effects, ScheduleAdvance{Index: m.index, Delay: env.scale(m.timing.NextQuestionPause)})
}

func (m *Machine) complete() []Effect {
	m.state = StateCompleted
	m.endReason = "completed"
	return []Effect{
		Send{Msg: SessionCompletedMessage{
			Type:           msgTypeSessionCompleted,
			TotalQuestions: len(m.questions),
			Answered:       m.index,
		}},
		Finish{State: StateCompleted, Reason: m.endReason},
	}
}

func (m *Machine) abort(reason string, env Env) []Effect {
	var effects []Effect
	if m.state.recording() && len(m.segments) > 0 {
		effects = append(effects, m.finalizeEntry(env))
		m.index++
		m.segments = nil
	}
	m.state = StateAborted
	m.endReason = reason
	m.checkSeq++
	return append(effects,
		StopRecording{},
		Send{Msg: SessionAbortedMessage{Type: msgTypeSessionAborted, Reason: reason}},
		Finish{State: StateAborted, Reason: reason},
	)
}
