package session

// Outbound frame types written to the client channel.
const (
	msgTypeTranscript         = "transcript"
	msgTypeRecordingStarted   = "recording_started"
	msgTypeCheckingCompletion = "checking_completion"
	msgTypeWaitContinue       = "wait_continue"
	msgTypeMoveToNext         = "move_to_next"
	msgTypeHealthUpdate       = "health_update"
	msgTypePong               = "pong"
	msgTypeSessionCompleted   = "session_completed"
	msgTypeSessionAborted     = "session_aborted"
	msgTypeError              = "error"
)

// Inbound text frame types.
const (
	ClientMsgPing                  = "ping"
	ClientMsgTTSFinished           = "tts_finished"
	ClientMsgStartListening        = "start_listening"
	ClientMsgNextQuestion          = "next_question"
	ClientMsgMicrophoneUnavailable = "microphone_unavailable"
)

type ClientMessage struct {
	Type string `json:"type"`
}

type TranscriptMessage struct {
	Type       string `json:"type"`
	Interim    string `json:"interim"`
	FullAnswer string `json:"full_answer"`
	IsFinal    bool   `json:"is_final"`
}

type RecordingStartedMessage struct {
	Type           string `json:"type"`
	QuestionNumber int    `json:"question_number"`
}

type CheckingCompletionMessage struct {
	Type        string  `json:"type"`
	HealthScore float64 `json:"health_score"`
}

type WaitContinueMessage struct {
	Type             string `json:"type"`
	ConsecutiveWaits int    `json:"consecutive_waits"`
}

type MoveToNextMessage struct {
	Type           string `json:"type"`
	Reason         Reason `json:"reason"`
	QuestionNumber int    `json:"question_number"`
}

type HealthUpdateMessage struct {
	Type           string  `json:"type"`
	HealthScore    float64 `json:"health_score"`
	NetworkLatency float64 `json:"network_latency"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type SessionCompletedMessage struct {
	Type           string `json:"type"`
	TotalQuestions int    `json:"total_questions"`
	Answered       int    `json:"answered"`
}

type SessionAbortedMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorMessage(msg string) ErrorMessage {
	return ErrorMessage{Type: msgTypeError, Message: msg}
}

func NewPongMessage() PongMessage {
	return PongMessage{Type: msgTypePong}
}

func newHealthUpdateMessage(score float64, latencySeconds float64) HealthUpdateMessage {
	return HealthUpdateMessage{Type: msgTypeHealthUpdate, HealthScore: score, NetworkLatency: latencySeconds}
}

func newCheckingCompletionMessage(score float64) CheckingCompletionMessage {
	return CheckingCompletionMessage{Type: msgTypeCheckingCompletion, HealthScore: score}
}
