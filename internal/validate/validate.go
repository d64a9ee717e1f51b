// Package validate classifies candidate utterances before they are acted on.
// It is the first line of defense against the output engine's own audio
// leaking back in through the capture engine.
package validate

import (
	"regexp"
	"strings"
	"unicode"
)

// Reasons returned with a rejected verdict.
const (
	ReasonTooShort     = "too-short"
	ReasonTooFewWords  = "too-few-words"
	ReasonNoise        = "noise"
	ReasonEchoPhrase   = "echo-phrase"
	ReasonEchoOfReply  = "echo-of-reply"
	ReasonMostlySymbol = "mostly-symbols"
)

// Config holds the thresholds and pattern sets for the validator. Patterns
// are data, not logic, so deployments can tune echo defense without touching
// the state machine.
type Config struct {
	MinChars       int
	MinWords       int
	MinLetterRatio float64
	// EchoPrefixLen is how many leading characters of the last spoken reply
	// are compared against a new utterance for direct echo detection.
	EchoPrefixLen int
	NoisePatterns []*regexp.Regexp
	EchoPatterns  []*regexp.Regexp
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		MinChars:       3,
		MinWords:       1,
		MinLetterRatio: 0.3,
		EchoPrefixLen:  15,
		NoisePatterns:  defaultNoisePatterns,
		EchoPatterns:   defaultEchoPatterns,
	}
}

// defaultNoisePatterns match transcripts that carry no intent: bare
// interjections, pure punctuation, single letters, lone stop-words.
var defaultNoisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(um+|uh+|hm+|mhm+|ah+|oh+|er+|huh)[.!?,\s]*$`),
	regexp.MustCompile(`^[^\p{L}\p{N}]+$`),
	regexp.MustCompile(`^\p{L}[.!?,\s]*$`),
	regexp.MustCompile(`^(the|a|an|and|or|but|to|of|in|on|it|is|so|yes|no|okay|ok)[.!?,\s]*$`),
}

// defaultEchoPatterns match canned assistant-reply openings. If the capture
// engine heard one of these, it almost certainly heard the speakers.
var defaultEchoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^i'?m (an? )?(ai |voice )?assistant`),
	regexp.MustCompile(`^here'?s what i`),
	regexp.MustCompile(`^thank you for`),
	regexp.MustCompile(`^i can help( you)? with`),
	regexp.MustCompile(`^as an? (ai|assistant)`),
	regexp.MustCompile(`^(sure|certainly)[,!] (i|here)`),
	regexp.MustCompile(`^is there anything else`),
}

// Verdict is the outcome of validating one utterance.
type Verdict struct {
	OK     bool
	Reason string
}

func accept() Verdict              { return Verdict{OK: true} }
func reject(reason string) Verdict { return Verdict{Reason: reason} }

// Validate classifies text as accept or reject. lastReply is the most recent
// spoken assistant reply (empty if none); its leading characters are used for
// direct echo detection. The function is pure: no state is read or written.
//
// Rules apply in fixed order, first match wins.
func Validate(cfg Config, text, lastReply string) Verdict {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < cfg.MinChars {
		return reject(ReasonTooShort)
	}
	if len(strings.Fields(trimmed)) < cfg.MinWords {
		return reject(ReasonTooFewWords)
	}

	lower := strings.ToLower(trimmed)
	for _, p := range cfg.NoisePatterns {
		if p.MatchString(lower) {
			return reject(ReasonNoise)
		}
	}
	for _, p := range cfg.EchoPatterns {
		if p.MatchString(lower) {
			return reject(ReasonEchoPhrase)
		}
	}
	if isEchoOfReply(lower, lastReply, cfg.EchoPrefixLen) {
		return reject(ReasonEchoOfReply)
	}
	if letterRatio(trimmed) < cfg.MinLetterRatio {
		return reject(ReasonMostlySymbol)
	}
	return accept()
}

// isEchoOfReply reports whether the utterance repeats the opening of the last
// spoken reply, case-insensitively.
func isEchoOfReply(lowerText, lastReply string, prefixLen int) bool {
	reply := strings.ToLower(strings.TrimSpace(lastReply))
	if reply == "" || prefixLen <= 0 {
		return false
	}
	n := prefixLen
	if len(reply) < n {
		n = len(reply)
	}
	if len(lowerText) < n {
		return false
	}
	return lowerText[:n] == reply[:n]
}

// letterRatio is the fraction of runes that are letters. Transcripts made
// mostly of symbols or digits are recognizer noise.
func letterRatio(s string) float64 {
	var letters, total int
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(letters) / float64(total)
}
