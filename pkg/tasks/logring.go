package tasks

import "time"

// LogEntry is one line of a task's own log.
type LogEntry struct {
	Time     time.Time `json:"time"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
}

// logRing keeps the most recent entries in a fixed-size circular buffer.
type logRing struct {
	buf  []LogEntry
	head int // index of the next write
	n    int
}

func newLogRing(size int) *logRing {
	if size <= 0 {
		size = DefaultLimits().LogRingSize
	}
	return &logRing{buf: make([]LogEntry, size)}
}

func (r *logRing) push(e LogEntry) {
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

// recent returns up to limit entries, newest first. limit <= 0 means all.
func (r *logRing) recent(limit int) []LogEntry {
	n := r.n
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]LogEntry, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.head - 1 - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// load replaces the contents with entries given newest first.
func (r *logRing) load(entries []LogEntry) {
	r.head, r.n = 0, 0
	if len(entries) > len(r.buf) {
		entries = entries[:len(r.buf)]
	}
	for i := len(entries) - 1; i >= 0; i-- {
		r.push(entries[i])
	}
}

func (r *logRing) len() int { return r.n }
