package httpserver

import (
	"sync"
	"time"
)

// Entry is one UI-facing conversation line.
type Entry struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// conversationLog is the bounded, purely observational message history. The
// core never consults it; it exists so the UI can render the recent window.
type conversationLog struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
}

func newConversationLog(limit int) *conversationLog {
	if limit < 1 {
		limit = 1
	}
	return &conversationLog{limit: limit}
}

// Append records an entry, evicting the oldest once the limit is exceeded.
func (l *conversationLog) Append(role, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Role: role, Text: text, Timestamp: time.Now()})
	if len(l.entries) > l.limit {
		l.entries = l.entries[len(l.entries)-l.limit:]
	}
}

// Snapshot returns a copy of the current window, oldest first.
func (l *conversationLog) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]Entry, len(l.entries))
	copy(cp, l.entries)
	return cp
}
