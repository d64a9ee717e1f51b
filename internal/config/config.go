package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Settings is one immutable configuration snapshot. The turn controller reads
// a snapshot at session start; changes to the environment apply only to the
// next session.
type Settings struct {
	HTTPAddress string

	// Remote workflow endpoint.
	EndpointURL    string
	RequestTimeout time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration

	// Speech engines.
	SpeechWSURL  string
	SpeechAPIKey string
	SynthURL     string
	SynthAPIKey  string
	SynthVoiceID string

	// Voice parameters handed to the output engine.
	VoiceSpeed float64
	VoicePitch float64

	// Turn-taking policy and timers.
	AutoListen    bool
	SilenceWindow time.Duration
	GuardInterval time.Duration
	ErrorGuard    time.Duration
	MinSpeech     time.Duration

	// UI conversation log bound.
	HistoryLimit int
}

// Load reads environment variables and returns Settings with sane defaults.
func Load() Settings {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	s := Settings{
		HTTPAddress:    getEnv("HTTP_ADDRESS", ":8080"),
		EndpointURL:    os.Getenv("WORKFLOW_ENDPOINT_URL"),
		RequestTimeout: getDurationMs("REQUEST_TIMEOUT_MS", 30000),
		MaxAttempts:    getInt("MAX_ATTEMPTS", 3),
		RetryBackoff:   getDurationMs("RETRY_BACKOFF_MS", 1000),
		SpeechWSURL:    getEnv("SPEECH_WS_URL", "wss://streaming.assemblyai.com/v3/ws"),
		SpeechAPIKey:   os.Getenv("SPEECH_API_KEY"),
		SynthURL:       getEnv("SYNTH_URL", "https://api.elevenlabs.io/v1/text-to-speech"),
		SynthAPIKey:    os.Getenv("SYNTH_API_KEY"),
		SynthVoiceID:   os.Getenv("SYNTH_VOICE_ID"),
		VoiceSpeed:     getFloatInRange("VOICE_SPEED", 1.0, 0.5, 2.0),
		VoicePitch:     getFloatInRange("VOICE_PITCH", 1.0, 0.0, 2.0),
		AutoListen:     getBool("AUTO_LISTEN", true),
		SilenceWindow:  getDurationMs("SILENCE_WINDOW_MS", 2000),
		GuardInterval:  getDurationMs("GUARD_INTERVAL_MS", 1500),
		ErrorGuard:     getDurationMs("ERROR_GUARD_MS", 300),
		MinSpeech:      getDurationMs("MIN_SPEECH_MS", 300),
		HistoryLimit:   getInt("HISTORY_LIMIT", 50),
	}

	if s.EndpointURL == "" {
		log.Println("Warning: WORKFLOW_ENDPOINT_URL not set - sessions cannot start until configured")
	}
	if s.SpeechAPIKey == "" {
		log.Println("Warning: SPEECH_API_KEY not set - transcription will not work")
	}
	if s.SynthAPIKey == "" {
		log.Println("Warning: SYNTH_API_KEY not set - speech output is disabled")
	}
	log.Printf("config: HTTP_ADDRESS=%s", s.HTTPAddress)
	return s
}

// Validate checks the parts of the snapshot a session cannot run without.
func (s Settings) Validate() error {
	if s.EndpointURL == "" {
		return fmt.Errorf("workflow endpoint URL is not configured")
	}
	u, err := url.Parse(s.EndpointURL)
	if err != nil {
		return fmt.Errorf("invalid workflow endpoint URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("workflow endpoint URL must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("workflow endpoint URL has no host")
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", s.MaxAttempts)
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", s.RequestTimeout)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getDurationMs(key string, fallbackMs int) time.Duration {
	return time.Duration(getInt(key, fallbackMs)) * time.Millisecond
}

// getFloatInRange parses a float env var and clamps it into [min, max].
func getFloatInRange(key string, fallback, min, max float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}
