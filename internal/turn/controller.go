// Package turn holds the turn-taking state machine that decides when the
// microphone is allowed to produce input that is acted upon. All transitions
// run on a single event loop; engines, timers and network completions post
// events into it rather than mutating state directly.
package turn

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/config"
	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/validate"
	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/workflow"
)

// apologyText is spoken/displayed when the workflow endpoint is unreachable
// after all retry attempts.
const apologyText = "Sorry, I couldn't reach the assistant. Please try again."

type eventKind int

const (
	evStart eventKind = iota
	evStop
	evRecognizer
	evSilence
	evExchangeDone
	evSpeech
	evGuard
)

// event is the single currency of the state machine. Generation counters
// stamp timer and engine events so stale ones are ignored instead of racing
// fresher transitions.
type event struct {
	kind     eventKind
	gen      int
	rec      RecognizerEvent
	speak    SpeakEvent
	userText string
	reply    workflow.Reply
	err      error
}

// Deps are the collaborators injected into the Controller. Engines are
// factories/values rather than ambient globals so tests can substitute fakes.
type Deps struct {
	// NewRecognizer builds a fresh capture engine for one Listening state.
	NewRecognizer func(cfg config.Settings) (Recognizer, error)
	// Speaker may be nil; the Speaking state then collapses into the
	// post-turn policy point.
	Speaker Speaker
	// NewExchange binds the call client to the session's settings snapshot,
	// so mid-session endpoint changes apply only to the next session.
	NewExchange func(cfg config.Settings) Exchanger
	Notify      Notifier
	Snapshot    func() config.Settings
	Validator   validate.Config
	Logger      *slog.Logger
}

// Controller owns the Session. All fields below deps/events are loop-owned:
// touched only from the Run goroutine.
type Controller struct {
	deps   Deps
	events chan event
	mirror atomic.Int32

	runCtx context.Context

	cfg           config.Settings
	exchange      Exchanger
	state         State
	rec           Recognizer
	recGen        int
	startedAt     time.Time
	speechFirstAt time.Time
	lastInterim   string
	lastReply     string

	silenceTimer *time.Timer
	silenceGen   int
	guardTimer   *time.Timer
	guardGen     int

	pending     bool
	exchangeGen int

	speakGen    int
	speakCancel context.CancelFunc
}

// New constructs a Controller. Run must be called before sessions can start.
func New(deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Validator.MinChars == 0 && deps.Validator.NoisePatterns == nil {
		deps.Validator = validate.DefaultConfig()
	}
	return &Controller{
		deps:   deps,
		events: make(chan event, 64),
		state:  StateIdle,
	}
}

// StartSession requests a transition from Idle to Listening.
func (c *Controller) StartSession() { c.post(event{kind: evStart}) }

// StopSession immediately stops capture and output and returns to Idle. Any
// in-flight exchange resolves but its result is discarded. Safe to call in
// any state, any number of times.
func (c *Controller) StopSession() { c.post(event{kind: evStop}) }

// State reports the current session state. Safe from any goroutine.
func (c *Controller) State() State { return State(c.mirror.Load()) }

// post delivers external commands without ever blocking the caller.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	default:
		c.deps.Logger.Warn("turn: event queue full, dropping command", "kind", int(ev.kind))
	}
}

// Run drives the event loop until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	c.runCtx = ctx
	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

// dispatch is the single entry point for every transition.
func (c *Controller) dispatch(ev event) {
	switch ev.kind {
	case evStart:
		c.onStart()
	case evStop:
		c.onStop()
	case evRecognizer:
		c.onRecognizerEvent(ev.gen, ev.rec)
	case evSilence:
		if ev.gen == c.silenceGen && c.state == StateListening {
			c.onSilenceElapsed()
		}
	case evExchangeDone:
		c.onExchangeDone(ev)
	case evSpeech:
		c.onSpeakEvent(ev.gen, ev.speak)
	case evGuard:
		if ev.gen == c.guardGen && c.state == StateSpeaking {
			c.onGuardElapsed()
		}
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.mirror.Store(int32(s))
	c.deps.Notify.StateChanged(s)
}

// setStateQuiet changes state without a bridge notification, used when a
// failure token was just emitted and must remain the final observable status.
func (c *Controller) setStateQuiet(s State) {
	c.state = s
	c.mirror.Store(int32(s))
}

func (c *Controller) onStart() {
	if c.state != StateIdle {
		c.deps.Logger.Debug("turn: start ignored", "state", c.state.String())
		return
	}
	cfg := c.deps.Snapshot()
	if err := cfg.Validate(); err != nil {
		c.deps.Notify.Failure("Cannot start: " + err.Error())
		return
	}
	c.cfg = cfg
	c.exchange = c.deps.NewExchange(cfg)
	c.startedAt = time.Now()
	c.startListening()
}

// startListening opens a fresh capture engine and enters Listening. On engine
// failure the session aborts to Idle with a user-actionable message.
func (c *Controller) startListening() {
	rec, err := c.deps.NewRecognizer(c.cfg)
	if err == nil {
		err = rec.Connect()
	}
	if err != nil {
		c.deps.Logger.Error("turn: capture engine unavailable", "err", err)
		c.deps.Notify.Failure("Microphone unavailable. Check permissions and try again.")
		c.enterIdle(false)
		return
	}
	c.rec = rec
	c.recGen++
	c.speechFirstAt = time.Time{}
	c.lastInterim = ""
	go c.pumpRecognizer(c.recGen, rec)
	c.setState(StateListening)
}

func (c *Controller) pumpRecognizer(gen int, rec Recognizer) {
	for ev := range rec.Events() {
		c.events <- event{kind: evRecognizer, gen: gen, rec: ev}
	}
}

// stopCapture tears down the capture engine and its silence timer. Idempotent.
func (c *Controller) stopCapture() {
	if c.rec != nil {
		_ = c.rec.Close()
		c.rec = nil
	}
	c.recGen++
	c.cancelSilenceTimer()
	c.lastInterim = ""
}

func (c *Controller) armSilenceTimer() {
	c.cancelSilenceTimer()
	c.silenceGen++
	gen := c.silenceGen
	c.silenceTimer = time.AfterFunc(c.cfg.SilenceWindow, func() {
		c.events <- event{kind: evSilence, gen: gen}
	})
}

func (c *Controller) cancelSilenceTimer() {
	if c.silenceTimer != nil {
		_ = c.silenceTimer.Stop()
		c.silenceTimer = nil
	}
	c.silenceGen++
}

func (c *Controller) armGuardTimer(d time.Duration) {
	c.cancelGuardTimer()
	c.guardGen++
	gen := c.guardGen
	c.guardTimer = time.AfterFunc(d, func() {
		c.events <- event{kind: evGuard, gen: gen}
	})
}

func (c *Controller) cancelGuardTimer() {
	if c.guardTimer != nil {
		_ = c.guardTimer.Stop()
		c.guardTimer = nil
	}
	c.guardGen++
}

func (c *Controller) onRecognizerEvent(gen int, ev RecognizerEvent) {
	if gen != c.recGen {
		return // straggler from a closed engine
	}
	switch ev.Kind {
	case RecInterim:
		if c.state != StateListening || ev.Text == "" {
			return
		}
		if c.speechFirstAt.IsZero() {
			c.speechFirstAt = eventTime(ev)
		}
		c.lastInterim = ev.Text
		c.armSilenceTimer()
	case RecFinal:
		if c.state != StateListening {
			return
		}
		c.onFinalText(ev.Text, eventTime(ev))
	case RecError:
		if c.state != StateListening {
			return
		}
		c.onRecognizerError(ev.Code)
	}
}

func eventTime(ev RecognizerEvent) time.Time {
	if ev.At.IsZero() {
		return time.Now()
	}
	return ev.At
}

// onFinalText gates a finalized transcript through the validator. Rejected
// finals keep the state in Listening with no other effect.
func (c *Controller) onFinalText(text string, at time.Time) {
	c.cancelSilenceTimer()
	c.lastInterim = ""

	// Speech briefer than MinSpeech (measured first interim to final) is too
	// short to be a deliberate utterance. A final with no interim history has
	// no known duration and passes through.
	if !c.speechFirstAt.IsZero() && at.Sub(c.speechFirstAt) < c.cfg.MinSpeech {
		c.deps.Logger.Debug("turn: final below minimum speech duration, dropped", "text", text)
		c.speechFirstAt = time.Time{}
		return
	}
	c.speechFirstAt = time.Time{}

	v := validate.Validate(c.deps.Validator, text, c.lastReply)
	if !v.OK {
		c.deps.Logger.Debug("turn: utterance rejected", "reason", v.Reason, "text", text)
		return
	}
	c.beginExchange(strings.TrimSpace(text))
}

// onSilenceElapsed ends the current utterance: the freshest interim becomes
// the final candidate.
func (c *Controller) onSilenceElapsed() {
	text := c.lastInterim
	c.lastInterim = ""
	if text == "" {
		return
	}
	c.deps.Logger.Debug("turn: silence window elapsed, finalizing interim", "text", text)
	c.onFinalText(text, time.Now())
}

// beginExchange stops capture and starts the single allowed network exchange.
func (c *Controller) beginExchange(text string) {
	if c.pending {
		// Capture is stopped during Processing, so this only happens with
		// straggler events; never run two exchanges concurrently.
		c.deps.Logger.Warn("turn: exchange already pending, utterance dropped", "text", text)
		return
	}
	c.stopCapture()
	c.setState(StateProcessing)
	c.pending = true
	c.exchangeGen++
	gen := c.exchangeGen
	cfg := c.cfg
	exchange := c.exchange
	go func() {
		reply, err := exchange.SendWithRetry(c.runCtx, text, nil, cfg.MaxAttempts, cfg.RetryBackoff)
		c.events <- event{kind: evExchangeDone, gen: gen, userText: text, reply: reply, err: err}
	}()
}

func (c *Controller) onExchangeDone(ev event) {
	if ev.gen != c.exchangeGen || !c.pending {
		c.deps.Logger.Debug("turn: discarding stale exchange result")
		return
	}
	c.pending = false
	if c.state != StateProcessing {
		return
	}
	if ev.err != nil {
		c.deps.Logger.Warn("turn: exchange failed", "err", ev.err)
		c.deps.Notify.Failure(apologyText)
		c.enterIdle(false)
		return
	}
	c.deps.Notify.Result(ev.userText, ev.reply.Text)
	if ev.reply.Text == "" || c.deps.Speaker == nil {
		c.finishTurn()
		return
	}
	c.lastReply = ev.reply.Text
	c.startSpeaking(ev.reply.Text)
}

func (c *Controller) startSpeaking(text string) {
	c.setState(StateSpeaking)
	ctx, cancel := context.WithCancel(c.runCtx)
	c.speakCancel = cancel
	c.speakGen++
	gen := c.speakGen
	events := c.deps.Speaker.Speak(ctx, text, Voice{Speed: c.cfg.VoiceSpeed, Pitch: c.cfg.VoicePitch})
	go func() {
		for ev := range events {
			c.events <- event{kind: evSpeech, gen: gen, speak: ev}
		}
	}()
}

func (c *Controller) onSpeakEvent(gen int, ev SpeakEvent) {
	if gen != c.speakGen || c.state != StateSpeaking {
		return
	}
	switch ev.Kind {
	case SpeakStarted:
		c.deps.Logger.Debug("turn: speech output started")
	case SpeakEnded:
		// Capture stays down for the guard interval so the tail of our own
		// audio cannot be re-captured as input.
		c.armGuardTimer(c.cfg.GuardInterval)
	case SpeakFailed:
		c.deps.Logger.Warn("turn: speech output failed", "err", ev.Err)
		c.armGuardTimer(c.cfg.ErrorGuard)
	}
}

func (c *Controller) onGuardElapsed() {
	if c.speakCancel != nil {
		c.speakCancel()
		c.speakCancel = nil
	}
	c.finishTurn()
}

// finishTurn is the post-turn policy point: resume listening in continuous
// mode, otherwise wait for the user in Idle.
func (c *Controller) finishTurn() {
	if c.cfg.AutoListen {
		c.startListening()
		return
	}
	c.enterIdle(true)
}

// onRecognizerError triages capture errors: permission problems abort the
// session and surface to the user; "no speech" is expected steady-state noise
// and only ends the current Listening attempt.
func (c *Controller) onRecognizerError(code string) {
	switch code {
	case RecErrNotAllowed, RecErrServiceNotAllowed:
		c.deps.Notify.Failure("Microphone access denied. Check browser permissions.")
		c.enterIdle(false)
	case RecErrNoSpeech:
		c.endListeningAttempt()
	case RecErrAborted:
		// follows an intentional stop
	default:
		c.deps.Logger.Warn("turn: recognizer error", "code", code)
		c.endListeningAttempt()
	}
}

func (c *Controller) endListeningAttempt() {
	c.stopCapture()
	if c.cfg.AutoListen {
		c.startListening()
		return
	}
	c.enterIdle(true)
}

func (c *Controller) onStop() {
	if c.state == StateIdle {
		return // idempotent: no duplicate teardown
	}
	c.exchangeGen++ // any in-flight exchange result is discarded
	c.pending = false
	c.enterIdle(true)
}

// enterIdle stops both engines, clears every timer and settles in Idle.
// emitState is false when a failure token must remain the final status.
func (c *Controller) enterIdle(emitState bool) {
	c.stopCapture()
	c.cancelGuardTimer()
	if c.speakCancel != nil {
		c.speakCancel()
		c.speakCancel = nil
	}
	if emitState {
		c.setState(StateIdle)
	} else {
		c.setStateQuiet(StateIdle)
	}
}

func (c *Controller) teardown() {
	c.stopCapture()
	c.cancelGuardTimer()
	if c.speakCancel != nil {
		c.speakCancel()
		c.speakCancel = nil
	}
	c.setStateQuiet(StateIdle)
}
