// Package status translates internal state transitions into the fixed
// observable vocabulary the UI renders. The bridge holds no business state
// and emits synchronously so the UI can reflect a transition within one
// rendering frame.
package status

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/turn"
)

// Token is one discrete UI status.
type Token string

const (
	TokenListening  Token = "listening"
	TokenProcessing Token = "processing"
	TokenSpeaking   Token = "speaking"
	TokenReady      Token = "ready"
	TokenError      Token = "error"
)

// Listener receives UI-facing events. Nil callbacks are skipped.
type Listener struct {
	OnStatusChange func(status Token)
	OnVoiceLevel   func(level int)
	OnResult       func(utterance, reply string)
	OnError        func(message string)
}

// Bridge implements turn.Notifier and fans events out to a Listener, the
// structured log and otel counters.
type Bridge struct {
	l          Listener
	logger     *slog.Logger
	statusCnt  metric.Int64Counter
	resultCnt  metric.Int64Counter
	failureCnt metric.Int64Counter
}

// New builds a Bridge around the given listener.
func New(l Listener, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.GetMeterProvider().Meter("voice-assistant")
	statusCnt, _ := meter.Int64Counter("voice.status.transitions")
	resultCnt, _ := meter.Int64Counter("voice.turns.completed")
	failureCnt, _ := meter.Int64Counter("voice.turns.failed")
	return &Bridge{l: l, logger: logger, statusCnt: statusCnt, resultCnt: resultCnt, failureCnt: failureCnt}
}

// TokenFor maps a session state onto the UI vocabulary.
func TokenFor(s turn.State) Token {
	switch s {
	case turn.StateListening:
		return TokenListening
	case turn.StateProcessing:
		return TokenProcessing
	case turn.StateSpeaking:
		return TokenSpeaking
	default:
		return TokenReady
	}
}

// StateChanged emits exactly one status token for the transition.
func (b *Bridge) StateChanged(s turn.State) {
	tok := TokenFor(s)
	b.logger.Debug("status", "token", string(tok))
	if b.statusCnt != nil {
		b.statusCnt.Add(context.Background(), 1, metric.WithAttributes(attribute.String("token", string(tok))))
	}
	if b.l.OnStatusChange != nil {
		b.l.OnStatusChange(tok)
	}
}

// Result delivers one completed user/assistant pair.
func (b *Bridge) Result(user, assistant string) {
	b.logger.Info("turn completed", "user", user, "assistant", assistant)
	if b.resultCnt != nil {
		b.resultCnt.Add(context.Background(), 1)
	}
	if b.l.OnResult != nil {
		b.l.OnResult(user, assistant)
	}
}

// Failure emits the error token plus the user-facing message. Raw engine
// errors never pass through here; callers translate first.
func (b *Bridge) Failure(msg string) {
	b.logger.Warn("turn failed", "message", msg)
	if b.failureCnt != nil {
		b.failureCnt.Add(context.Background(), 1)
	}
	if b.l.OnStatusChange != nil {
		b.l.OnStatusChange(TokenError)
	}
	if b.l.OnError != nil {
		b.l.OnError(msg)
	}
}

// Level forwards one amplitude sample, clamped to [0,100]. Samples are purely
// for visualization; dropping them never affects the state machine.
func (b *Bridge) Level(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	if b.l.OnVoiceLevel != nil {
		b.l.OnVoiceLevel(level)
	}
}
