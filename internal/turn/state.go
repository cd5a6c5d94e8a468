package turn

import (
	"errors"
	"fmt"
)

// State is the turn machine state. Playback is tracked separately in
// [Status.Playing] because it outlives the turn that started it.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateTranscribing
	StateSubmitting
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateTranscribing:
		return "transcribing"
	case StateSubmitting:
		return "submitting"
	case StateStreaming:
		return "streaming_assistant"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is a snapshot of the orchestrator.
type Status struct {
	State    State
	Playing  bool
	Language string
	Messages int
}

// Pipeline stage names, used in [StageError] and as metric/span attributes.
const (
	StageCapture    = "capture"
	StageTranscribe = "transcribe"
	StageSubmit     = "submit"
	StageStream     = "stream"
	StagePlayback   = "playback"
)

var (
	// ErrBusy is returned when an action is not allowed in the current state.
	ErrBusy = errors.New("turn: busy")

	// ErrEmptyInput is returned for blank text or an empty recording.
	ErrEmptyInput = errors.New("turn: empty input")

	// ErrUnsupportedLanguage is returned by SetLanguage.
	ErrUnsupportedLanguage = errors.New("turn: unsupported language")
)

// StageError attributes a turn failure to the pipeline stage that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return "turn: " + e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// Fixed assistant messages.
const (
	// TextApology is appended when a text turn fails.
	TextApology = "I apologize, but I encountered an error. Please try again."

	// VoiceApology is appended when a voice turn fails.
	VoiceApology = "I apologize, but I encountered an error processing your voice query."

	// SpokenAnswerLabel is the assistant content of an answer that was only
	// returned as audio.
	SpokenAnswerLabel = "Audio response"
)
