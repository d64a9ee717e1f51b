package config

import (
	"testing"
	"time"
)

func validSettings() Settings {
	return Settings{
		EndpointURL:    "https://hooks.example.com/workflow/abc",
		RequestTimeout: 30 * time.Second,
		MaxAttempts:    3,
		RetryBackoff:   time.Second,
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validSettings().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"missing endpoint", func(s *Settings) { s.EndpointURL = "" }},
		{"bad scheme", func(s *Settings) { s.EndpointURL = "ftp://example.com/hook" }},
		{"no host", func(s *Settings) { s.EndpointURL = "http://" }},
		{"not a url", func(s *Settings) { s.EndpointURL = "://broken" }},
		{"zero attempts", func(s *Settings) { s.MaxAttempts = 0 }},
		{"zero timeout", func(s *Settings) { s.RequestTimeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := validSettings()
			tc.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "nope")
	t.Setenv("TEST_BOOL", "false")
	t.Setenv("TEST_FLOAT_HIGH", "9.5")
	t.Setenv("TEST_FLOAT_LOW", "0.1")

	if got := getEnv("TEST_STR", "fallback"); got != "value" {
		t.Fatalf("getEnv = %q", got)
	}
	if got := getEnv("TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("getEnv fallback = %q", got)
	}
	if got := getInt("TEST_INT", 7); got != 42 {
		t.Fatalf("getInt = %d", got)
	}
	if got := getInt("TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("getInt bad value = %d, want fallback", got)
	}
	if got := getBool("TEST_BOOL", true); got != false {
		t.Fatalf("getBool = %v", got)
	}
	if got := getDurationMs("TEST_INT", 100); got != 42*time.Millisecond {
		t.Fatalf("getDurationMs = %v", got)
	}
	// Out-of-range floats clamp instead of erroring.
	if got := getFloatInRange("TEST_FLOAT_HIGH", 1.0, 0.5, 2.0); got != 2.0 {
		t.Fatalf("getFloatInRange high = %g, want clamp to 2.0", got)
	}
	if got := getFloatInRange("TEST_FLOAT_LOW", 1.0, 0.5, 2.0); got != 0.5 {
		t.Fatalf("getFloatInRange low = %g, want clamp to 0.5", got)
	}
	if got := getFloatInRange("TEST_FLOAT_UNSET", 1.0, 0.5, 2.0); got != 1.0 {
		t.Fatalf("getFloatInRange unset = %g", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WORKFLOW_ENDPOINT_URL", "https://example.com/hook")

	s := Load()
	if s.RequestTimeout != 30*time.Second {
		t.Fatalf("RequestTimeout = %v", s.RequestTimeout)
	}
	if s.MaxAttempts != 3 {
		t.Fatalf("MaxAttempts = %d", s.MaxAttempts)
	}
	if s.SilenceWindow != 2*time.Second {
		t.Fatalf("SilenceWindow = %v", s.SilenceWindow)
	}
	if s.GuardInterval != 1500*time.Millisecond {
		t.Fatalf("GuardInterval = %v", s.GuardInterval)
	}
	if s.MinSpeech != 300*time.Millisecond {
		t.Fatalf("MinSpeech = %v", s.MinSpeech)
	}
	if !s.AutoListen {
		t.Fatalf("AutoListen should default to true")
	}
	if s.HistoryLimit != 50 {
		t.Fatalf("HistoryLimit = %d", s.HistoryLimit)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("defaults should validate with an endpoint set: %v", err)
	}
}
