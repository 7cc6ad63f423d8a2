package transform

import (
	"sync"
	"time"
)

// Outcome of a successful transform in the log.
const OutcomeSuccess = "successful"

// LogEntry records one transform attempt.
type LogEntry struct {
	Time    time.Time `json:"time"`
	ID      string    `json:"id"`
	Entity  Entity    `json:"entity"`
	Outcome string    `json:"transform"`
}

// Log is a fixed-capacity ring of the most recent transform outcomes.
// Appends from concurrent watchers are safe; the oldest entry is evicted
// once the ring is full.
type Log struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

// NewLog creates a log holding at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{entries: make([]LogEntry, capacity)}
}

func (l *Log) Append(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Log) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		return append([]LogEntry(nil), l.entries[:l.next]...)
	}
	out := make([]LogEntry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	return append(out, l.entries[:l.next]...)
}

// Cap returns the capacity of the log.
func (l *Log) Cap() int { return len(l.entries) }
