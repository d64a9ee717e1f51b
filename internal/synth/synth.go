// Package synth is the speech-output engine client. It streams synthesized
// PCM audio for a reply text and reports start/end/error lifecycle events to
// the turn controller.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/Diablixx/YAKEEN-Voice-Assistant/internal/turn"
)

// PCMSink consumes 48kHz PCM bytes and performs delivery (e.g., forwarding
// to the UI socket for playback). Implementations should buffer internally.
type PCMSink interface {
	WritePCM(pcm []byte)
	// Reset drops any queued audio immediately.
	Reset()
}

type nopSink struct{}

func (nopSink) WritePCM(_ []byte) {}
func (nopSink) Reset()            {}

// Client implements turn.Speaker over an HTTP streaming synthesis endpoint.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	VoiceID    string
	Sink       PCMSink
}

// New constructs a synthesis client. A nil sink discards audio.
func New(baseURL, apiKey, voiceID string, sink PCMSink) *Client {
	if sink == nil {
		sink = nopSink{}
	}
	// Timeout stays zero: the response body streams for the duration of the
	// utterance and is bounded by ctx instead.
	return &Client{
		HTTPClient: &http.Client{},
		BaseURL:    baseURL,
		APIKey:     apiKey,
		VoiceID:    voiceID,
		Sink:       sink,
	}
}

// Speak streams audio for text. The returned channel emits Started when the
// first audio chunk arrives, then exactly one of Ended or Failed, and is then
// closed. Cancelling ctx stops output without a Failed event.
func (c *Client) Speak(ctx context.Context, text string, v turn.Voice) <-chan turn.SpeakEvent {
	events := make(chan turn.SpeakEvent, 4)
	go func() {
		defer close(events)
		if err := c.stream(ctx, text, v, events); err != nil {
			if ctx.Err() != nil {
				return // cancelled, not failed
			}
			events <- turn.SpeakEvent{Kind: turn.SpeakFailed, Err: err}
			return
		}
		if ctx.Err() != nil {
			return
		}
		events <- turn.SpeakEvent{Kind: turn.SpeakEnded}
	}()
	return events
}

func (c *Client) stream(ctx context.Context, text string, v turn.Voice, events chan<- turn.SpeakEvent) error {
	if c.APIKey == "" || c.VoiceID == "" {
		return fmt.Errorf("synth: api key or voice id missing")
	}
	if text == "" {
		return nil
	}

	body := map[string]any{
		"text":     text,
		"model_id": "eleven_flash_v2_5",
		"voice_settings": map[string]any{
			"speed":            v.Speed,
			"pitch":            v.Pitch,
			"stability":        0.4,
			"similarity_boost": 0.7,
		},
	}
	buf, _ := json.Marshal(body)

	u := fmt.Sprintf("%s/%s/stream?output_format=pcm_48000", c.BaseURL, c.VoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("synth: stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("synth: status=%d body=%s", resp.StatusCode, string(b))
	}

	chunk := make([]byte, 4096)
	started := false
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			if !started {
				started = true
				log.Printf("synth: receiving audio stream (%d bytes first chunk)", n)
				events <- turn.SpeakEvent{Kind: turn.SpeakStarted}
			}
			out := make([]byte, n)
			copy(out, chunk[:n])
			c.Sink.WritePCM(out)
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("synth: stream read: %w", rerr)
		}
	}
}
