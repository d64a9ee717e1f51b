package status

import (
	"io"
	"log/slog"
	"testing"

	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/turn"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTokenFor(t *testing.T) {
	cases := []struct {
		state turn.State
		want  Token
	}{
		{turn.StateIdle, TokenReady},
		{turn.StateListening, TokenListening},
		{turn.StateProcessing, TokenProcessing},
		{turn.StateSpeaking, TokenSpeaking},
	}
	for _, tc := range cases {
		if got := TokenFor(tc.state); got != tc.want {
			t.Fatalf("TokenFor(%v) = %q, want %q", tc.state, got, tc.want)
		}
	}
}

func TestStateChanged_EmitsOneToken(t *testing.T) {
	var tokens []Token
	b := New(Listener{OnStatusChange: func(tok Token) { tokens = append(tokens, tok) }}, discardLogger())

	b.StateChanged(turn.StateListening)
	b.StateChanged(turn.StateProcessing)
	b.StateChanged(turn.StateIdle)

	want := []Token{TokenListening, TokenProcessing, TokenReady}
	if len(tokens) != len(want) {
		t.Fatalf("tokens = %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("tokens[%d] = %q, want %q", i, tokens[i], want[i])
		}
	}
}

func TestFailure_ErrorTokenThenMessage(t *testing.T) {
	var order []string
	b := New(Listener{
		OnStatusChange: func(tok Token) { order = append(order, "token:"+string(tok)) },
		OnError:        func(msg string) { order = append(order, "msg:"+msg) },
	}, discardLogger())

	b.Failure("Microphone access denied. Check browser permissions.")

	if len(order) != 2 {
		t.Fatalf("order = %v", order)
	}
	if order[0] != "token:error" {
		t.Fatalf("first event = %q, want the error token", order[0])
	}
	if order[1] != "msg:Microphone access denied. Check browser permissions." {
		t.Fatalf("second event = %q", order[1])
	}
}

func TestResult_DeliversPair(t *testing.T) {
	var user, assistant string
	b := New(Listener{OnResult: func(u, a string) { user, assistant = u, a }}, discardLogger())

	b.Result("what time is it", "It is noon.")
	if user != "what time is it" || assistant != "It is noon." {
		t.Fatalf("result = %q / %q", user, assistant)
	}
}

func TestLevel_Clamped(t *testing.T) {
	var got []int
	b := New(Listener{OnVoiceLevel: func(l int) { got = append(got, l) }}, discardLogger())

	for _, l := range []int{-5, 0, 42, 100, 250} {
		b.Level(l)
	}
	want := []int{0, 0, 42, 100, 100}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("level[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestNilCallbacksAreSafe(t *testing.T) {
	b := New(Listener{}, discardLogger())
	b.StateChanged(turn.StateListening)
	b.Result("u", "a")
	b.Failure("boom")
	b.Level(50)
}
