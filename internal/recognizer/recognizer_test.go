package recognizer

import (
	"encoding/binary"
	"testing"

	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/turn"
)

// drain returns any event already queued, without blocking.
func drain(s *Service) (turn.RecognizerEvent, bool) {
	select {
	case ev := <-s.events:
		return ev, true
	default:
		return turn.RecognizerEvent{}, false
	}
}

func TestProcessMessage_TurnEvents(t *testing.T) {
	s := New("ws://example", "key", nil)

	s.processMessage([]byte(`{"type":"Turn","transcript":"hello wor","end_of_turn":false}`))
	ev, ok := drain(s)
	if !ok || ev.Kind != turn.RecInterim || ev.Text != "hello wor" {
		t.Fatalf("interim event = %+v ok=%v", ev, ok)
	}

	s.processMessage([]byte(`{"type":"Turn","transcript":"hello world","end_of_turn":true}`))
	ev, ok = drain(s)
	if !ok || ev.Kind != turn.RecFinal || ev.Text != "hello world" {
		t.Fatalf("final event = %+v ok=%v", ev, ok)
	}

	// Empty transcripts are not events.
	s.processMessage([]byte(`{"type":"Turn","transcript":"","end_of_turn":true}`))
	if ev, ok := drain(s); ok {
		t.Fatalf("empty transcript produced event %+v", ev)
	}
}

func TestProcessMessage_NonEventTypes(t *testing.T) {
	s := New("ws://example", "key", nil)

	for _, msg := range []string{
		`{"type":"Begin","id":"abc","expires_at":1700000000}`,
		`{"type":"Termination"}`,
		`{"type":"SomethingNew"}`,
		`not json at all`,
	} {
		s.processMessage([]byte(msg))
		if ev, ok := drain(s); ok {
			t.Fatalf("message %q produced event %+v", msg, ev)
		}
	}
}

func TestProcessMessage_ErrorClassification(t *testing.T) {
	cases := []struct {
		errText string
		want    string
	}{
		{"Unauthorized", turn.RecErrServiceNotAllowed},
		{"Forbidden: bad token", turn.RecErrServiceNotAllowed},
		{"auth failure", turn.RecErrServiceNotAllowed},
		{"no speech detected in window", turn.RecErrNoSpeech},
		{"no audio received", turn.RecErrNoSpeech},
		{"connection reset by peer", turn.RecErrNetwork},
		{"", turn.RecErrNetwork},
	}
	for _, tc := range cases {
		s := New("ws://example", "key", nil)
		s.processMessage([]byte(`{"type":"Error","error":"` + tc.errText + `"}`))
		ev, ok := drain(s)
		if !ok || ev.Kind != turn.RecError {
			t.Fatalf("error %q: event = %+v ok=%v", tc.errText, ev, ok)
		}
		if ev.Code != tc.want {
			t.Fatalf("error %q classified as %q, want %q", tc.errText, ev.Code, tc.want)
		}
	}
}

func TestClose_Idempotent(t *testing.T) {
	s := New("ws://example", "key", nil)
	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	// Channel must be closed so consumers unblock.
	if _, open := <-s.Events(); open {
		t.Fatalf("events channel still open after Close")
	}
}

func TestConnect_RequiresAPIKey(t *testing.T) {
	s := New("ws://example", "", nil)
	if err := s.Connect(); err == nil {
		t.Fatalf("expected error for empty API key")
	}
}

func TestSendPCM_RequiresConnection(t *testing.T) {
	s := New("ws://example", "key", nil)
	if err := s.SendPCM16KLE(make([]byte, 320)); err == nil {
		t.Fatalf("expected error before Connect")
	}
}

func pcmOfAmplitude(samples int, amp int16) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amp))
	}
	return buf
}

func TestSampleLevel(t *testing.T) {
	var levels []int
	s := New("ws://example", "key", func(l int) { levels = append(levels, l) })

	s.sampleLevel(pcmOfAmplitude(160, 0))     // silence
	s.sampleLevel(pcmOfAmplitude(160, 2000))  // full-scale square wave
	s.sampleLevel(pcmOfAmplitude(160, 30000)) // clipping loud

	if len(levels) != 3 {
		t.Fatalf("levels = %v", levels)
	}
	if levels[0] != 0 {
		t.Fatalf("silence level = %d, want 0", levels[0])
	}
	if levels[1] != 100 {
		t.Fatalf("full-scale level = %d, want 100", levels[1])
	}
	if levels[2] != 100 {
		t.Fatalf("loud level = %d, want clamp to 100", levels[2])
	}
}

func TestSampleLevel_NilCallbackAndTinyBuffer(t *testing.T) {
	s := New("ws://example", "key", nil)
	s.sampleLevel(pcmOfAmplitude(160, 2000)) // must not panic

	called := false
	s2 := New("ws://example", "key", func(int) { called = true })
	s2.sampleLevel([]byte{0x01}) // below one sample
	if called {
		t.Fatalf("level reported for sub-sample buffer")
	}
}
