package logger

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel accepts info, warn or error in any case. Unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Entry is one captured log line.
type Entry struct {
	Seq     uint64    `json:"seq"`
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Message string    `json:"message"`

	level Level
}

// Ring keeps the most recent log lines in memory for the admin log endpoint.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	seq     uint64
	now     func() time.Time
}

func NewRing(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{entries: make([]Entry, size), now: time.Now}
}

// Write records each newline-terminated line in p as an entry.
func (r *Ring) Write(p []byte) (int, error) {
	text := strings.TrimRight(string(p), "\n")
	if text == "" {
		return len(p), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range strings.Split(text, "\n") {
		lvl := classify(line)
		r.seq++
		r.entries[r.next] = Entry{
			Seq:     r.seq,
			At:      r.now(),
			Level:   lvl.String(),
			Message: line,
			level:   lvl,
		}
		r.next = (r.next + 1) % len(r.entries)
		if r.next == 0 {
			r.full = true
		}
	}
	return len(p), nil
}

// Query returns up to limit entries, newest first, at or above minLevel and
// containing the given substring (case-insensitive) when it is non-empty.
func (r *Ring) Query(limit int, minLevel Level, contains string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := r.next
	if r.full {
		count = len(r.entries)
	}
	needle := strings.ToLower(contains)

	out := make([]Entry, 0, min(max(limit, 0), count))
	for i := 0; i < count && len(out) < limit; i++ {
		idx := (r.next - 1 - i + len(r.entries)) % len(r.entries)
		e := r.entries[idx]
		if e.level < minLevel {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(e.Message), needle) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// logHeader matches what the standard logger puts before the message:
// optional date, time and file:line.
var logHeader = regexp.MustCompile(`^(\d{4}/\d{2}/\d{2} )?(\d{2}:\d{2}:\d{2}(\.\d+)? )?(\S+\.go:\d+: )?`)

// classify derives a level from the ERROR:/WARN: prefix that opens the message.
func classify(line string) Level {
	msg := strings.ToUpper(logHeader.ReplaceAllString(line, ""))
	switch {
	case strings.HasPrefix(msg, "ERROR:"), strings.HasPrefix(msg, "CRITICAL:"), strings.HasPrefix(msg, "FATAL"):
		return LevelError
	case strings.HasPrefix(msg, "WARN:"), strings.HasPrefix(msg, "WARNING:"):
		return LevelWarn
	default:
		return LevelInfo
	}
}
