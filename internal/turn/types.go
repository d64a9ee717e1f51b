package turn

import (
	"context"
	"time"

	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/workflow"
)

// State is the turn-taking state of a Session.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	}
	return "unknown"
}

// Recognizer error codes, mirroring the browser speech stack's vocabulary.
const (
	RecErrNotAllowed        = "not-allowed"
	RecErrServiceNotAllowed = "service-not-allowed"
	RecErrNoSpeech          = "no-speech"
	RecErrNetwork           = "network"
	RecErrAborted           = "aborted"
)

// RecognizerEventKind discriminates recognizer events.
type RecognizerEventKind int

const (
	RecInterim RecognizerEventKind = iota
	RecFinal
	RecError
)

// RecognizerEvent is one transcript or error event from the capture engine.
type RecognizerEvent struct {
	Kind RecognizerEventKind
	Text string
	Code string // set for RecError
	At   time.Time
}

// Recognizer is the minimal interface for the streaming capture engine.
// Events are delivered in arrival order; the channel is closed on Close.
// Close must be idempotent.
type Recognizer interface {
	Connect() error
	Events() <-chan RecognizerEvent
	Close() error
}

// SpeakEventKind discriminates output-engine lifecycle events.
type SpeakEventKind int

const (
	SpeakStarted SpeakEventKind = iota
	SpeakEnded
	SpeakFailed
)

// SpeakEvent is one lifecycle event from the output engine.
type SpeakEvent struct {
	Kind SpeakEventKind
	Err  error
}

// Voice carries the per-session voice parameters.
type Voice struct {
	Speed float64
	Pitch float64
}

// Speaker is the output engine. Speak returns a channel that emits Started
// when audio begins, then exactly one of Ended or Failed, and is then closed.
// Cancelling ctx stops output; the channel still terminates.
type Speaker interface {
	Speak(ctx context.Context, text string, v Voice) <-chan SpeakEvent
}

// Exchanger performs one retried network exchange. *workflow.Client satisfies it.
type Exchanger interface {
	SendWithRetry(ctx context.Context, text string, metadata map[string]any, maxAttempts int, backoff time.Duration) (workflow.Reply, error)
}

// Notifier receives state transitions and turn outcomes. Implementations must
// not block; they run on the controller's event loop.
type Notifier interface {
	StateChanged(s State)
	Result(user, assistant string)
	Failure(msg string)
}
