package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/config"
	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/recognizer"
	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/status"
	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/synth"
	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/turn"
	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/workflow"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

// clientMessage is a command from the browser UI. Binary frames on the same
// socket carry 16kHz PCM microphone audio.
type clientMessage struct {
	Type string `json:"type"` // "start", "stop", "history"
}

// serverMessage is an event pushed to the browser UI. Binary frames carry
// synthesized 48kHz PCM audio for playback.
type serverMessage struct {
	Type      string  `json:"type"` // "status", "level", "result", "error", "history"
	Status    string  `json:"status,omitempty"`
	Level     int     `json:"level,omitempty"`
	User      string  `json:"user,omitempty"`
	Assistant string  `json:"assistant,omitempty"`
	Message   string  `json:"message,omitempty"`
	Entries   []Entry `json:"entries,omitempty"`
}

// sessionClient owns one UI websocket and the controller behind it.
type sessionClient struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  *slog.Logger

	history   *conversationLog
	activeRec atomic.Pointer[recognizer.Service]
	ctrl      *turn.Controller
}

// handleSession upgrades to websocket and runs the voice loop for one UI
// client until the socket closes.
func (s *Server) handleSession(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", "err", err)
		return nil
	}
	defer func() { _ = conn.Close() }()

	cfg := s.snapshot()
	id := uuid.NewString()[:8]
	client := &sessionClient{
		id:      id,
		conn:    conn,
		logger:  s.logger.With("session", id),
		history: newConversationLog(cfg.HistoryLimit),
	}
	client.run(c.Request().Context(), s.snapshot, cfg)
	return nil
}

func (client *sessionClient) run(parent context.Context, snapshot func() config.Settings, cfg config.Settings) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	bridge := status.New(status.Listener{
		OnStatusChange: func(tok status.Token) {
			client.send(serverMessage{Type: "status", Status: string(tok)})
		},
		OnVoiceLevel: func(level int) {
			client.send(serverMessage{Type: "level", Level: level})
		},
		OnResult: func(user, assistant string) {
			client.history.Append("user", user)
			if assistant != "" {
				client.history.Append("assistant", assistant)
			}
			client.send(serverMessage{Type: "result", User: user, Assistant: assistant})
		},
		OnError: func(msg string) {
			client.send(serverMessage{Type: "error", Message: msg})
		},
	}, client.logger)

	var speaker turn.Speaker
	if cfg.SynthAPIKey != "" && cfg.SynthVoiceID != "" {
		speaker = synth.New(cfg.SynthURL, cfg.SynthAPIKey, cfg.SynthVoiceID, wsSink{client})
	}

	client.ctrl = turn.New(turn.Deps{
		NewRecognizer: func(cfg config.Settings) (turn.Recognizer, error) {
			rec := recognizer.New(cfg.SpeechWSURL, cfg.SpeechAPIKey, bridge.Level)
			client.activeRec.Store(rec)
			return rec, nil
		},
		Speaker: speaker,
		NewExchange: func(cfg config.Settings) turn.Exchanger {
			return workflow.NewClient(cfg.EndpointURL, cfg.RequestTimeout)
		},
		Notify:   bridge,
		Snapshot: snapshot,
		Logger:   client.logger,
	})
	go client.ctrl.Run(ctx)

	client.logger.Info("ui session opened")
	client.readLoop()
	client.ctrl.StopSession()
	client.logger.Info("ui session closed")
}

func (client *sessionClient) readLoop() {
	for {
		mt, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		switch mt {
		case websocket.TextMessage:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				client.logger.Debug("invalid ui command", "err", err)
				continue
			}
			client.handleCommand(msg)
		case websocket.BinaryMessage:
			client.feedAudio(data)
		}
	}
}

func (client *sessionClient) handleCommand(msg clientMessage) {
	switch msg.Type {
	case "start":
		client.ctrl.StartSession()
	case "stop":
		client.ctrl.StopSession()
	case "history":
		client.send(serverMessage{Type: "history", Entries: client.history.Snapshot()})
	default:
		client.logger.Debug("unknown ui command", "type", msg.Type)
	}
}

// feedAudio forwards microphone PCM to whichever capture engine is active.
// Audio arriving outside a Listening state is dropped by the engine itself.
func (client *sessionClient) feedAudio(pcm []byte) {
	rec := client.activeRec.Load()
	if rec == nil {
		return
	}
	_ = rec.SendPCM16KLE(pcm)
}

func (client *sessionClient) send(msg serverMessage) {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	if err := client.conn.WriteJSON(msg); err != nil {
		client.logger.Debug("ws write failed", "err", err)
	}
}

func (client *sessionClient) sendBinary(b []byte) {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	if err := client.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		client.logger.Debug("ws audio write failed", "err", err)
	}
}

// wsSink forwards synthesized PCM to the UI socket for playback.
type wsSink struct{ client *sessionClient }

func (s wsSink) WritePCM(pcm []byte) { s.client.sendBinary(pcm) }
func (s wsSink) Reset()              {}
