// Package recognizer is the streaming speech-capture client. It feeds PCM
// audio to a realtime transcription service over WebSocket and emits interim
// and final transcript events in arrival order.
package recognizer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/turn"
)

// fullScaleRMS is the RMS amplitude mapped to a voice level of 100.
const fullScaleRMS = 2000.0

// Service implements turn.Recognizer over a streaming STT websocket.
type Service struct {
	wsURL  string
	apiKey string
	// onLevel receives amplitude samples in [0,100], purely for
	// visualization. May be nil.
	onLevel func(level int)

	conn      *websocket.Conn
	events    chan turn.RecognizerEvent
	audioData chan []byte
	stopCh    chan struct{}
	mu        sync.RWMutex
	connected bool
	closed    bool
}

// New creates a recognizer client. Connect must be called before audio is fed.
func New(wsURL, apiKey string, onLevel func(int)) *Service {
	return &Service{
		wsURL:     wsURL,
		apiKey:    apiKey,
		onLevel:   onLevel,
		events:    make(chan turn.RecognizerEvent, 100),
		audioData: make(chan []byte, 1000),
		stopCh:    make(chan struct{}),
	}
}

// Events returns the transcript/error event stream. The channel is closed by
// Close.
func (s *Service) Events() <-chan turn.RecognizerEvent { return s.events }

// Connect establishes the websocket session and starts the reader and audio
// writer goroutines.
func (s *Service) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("recognizer: API key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("%s?%s", s.wsURL, params.Encode())

	headers := map[string][]string{"Authorization": {s.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			return fmt.Errorf("recognizer: service refused credentials (status %d)", resp.StatusCode)
		}
		return fmt.Errorf("recognizer: connect: %w", err)
	}
	s.conn = conn
	s.connected = true

	go s.handleMessages()
	go s.sendAudioData()
	log.Println("recognizer: connected to streaming service")
	return nil
}

// SendPCM16KLE queues 16kHz little-endian mono PCM for transcription and
// samples its amplitude for the voice-level meter.
func (s *Service) SendPCM16KLE(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("recognizer: not connected")
	}
	s.sampleLevel(pcm)
	select {
	case s.audioData <- pcm:
	default:
		log.Println("recognizer: audio buffer full, dropping packet")
	}
	return nil
}

// sampleLevel computes RMS over the buffer and reports a [0,100] level.
func (s *Service) sampleLevel(pcm []byte) {
	if s.onLevel == nil || len(pcm) < 2 {
		return
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return
	}
	rms := math.Sqrt(sumSquares / float64(count))
	level := int(rms / fullScaleRMS * 100)
	if level > 100 {
		level = 100
	}
	s.onLevel(level)
}

// Close terminates the session and closes the event channel. Idempotent.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopCh)
	if s.conn != nil {
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connected = false
	close(s.events)
	log.Println("recognizer: connection closed")
	return nil
}

// Streaming service message shapes.
type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	EndOfTurn  bool   `json:"end_of_turn"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (s *Service) handleMessages() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("recognizer: recovered from panic in handleMessages: %v", r)
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		default:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			_, message, err := conn.ReadMessage()
			if err != nil {
				s.emitReadError(err)
				return
			}
			s.processMessage(message)
		}
	}
}

func (s *Service) processMessage(message []byte) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &raw); err != nil {
		log.Printf("recognizer: unmarshal message: %v", err)
		return
	}
	switch raw.Type {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("recognizer: session began: id=%s expires=%s", msg.ID, time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339))
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		if msg.Transcript == "" {
			return
		}
		kind := turn.RecInterim
		if msg.EndOfTurn {
			kind = turn.RecFinal
		}
		s.emit(turn.RecognizerEvent{Kind: kind, Text: msg.Transcript, At: time.Now()})
	case "Termination":
		log.Println("recognizer: session terminated by service")
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		s.emit(turn.RecognizerEvent{Kind: turn.RecError, Code: classifyError(msg.Error), At: time.Now()})
	default:
		log.Printf("recognizer: unknown message type: %s", raw.Type)
	}
}

// classifyError maps service error text onto the controller's fixed codes.
func classifyError(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "forbidden"), strings.Contains(lower, "auth"):
		return turn.RecErrServiceNotAllowed
	case strings.Contains(lower, "no speech"), strings.Contains(lower, "no audio"):
		return turn.RecErrNoSpeech
	default:
		return turn.RecErrNetwork
	}
}

// emitReadError surfaces a transport failure unless we are shutting down, in
// which case the read error is the expected consequence of Close.
func (s *Service) emitReadError(err error) {
	select {
	case <-s.stopCh:
		return
	default:
	}
	log.Printf("recognizer: read error: %v", err)
	s.emit(turn.RecognizerEvent{Kind: turn.RecError, Code: turn.RecErrNetwork, At: time.Now()})
}

// emit delivers an event unless the service is closing. Interims may be
// dropped under pressure; finals and errors are delivered or abandoned only
// on shutdown.
func (s *Service) emit(ev turn.RecognizerEvent) {
	if ev.Kind == turn.RecInterim {
		select {
		case s.events <- ev:
		case <-s.stopCh:
		default:
		}
		return
	}
	select {
	case s.events <- ev:
	case <-s.stopCh:
	}
}

func (s *Service) sendAudioData() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("recognizer: recovered from panic in sendAudioData: %v", r)
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		case audio := <-s.audioData:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
				log.Printf("recognizer: send audio: %v", err)
				return
			}
		}
	}
}
