package logger

import (
	"fmt"
	"sync"
)

// Entry is a single record captured by Recorder.
type Entry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// Recorder keeps every log call in memory. Tests use it to assert that a
// branch was logged at the expected level.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Debug(msg string, keyvals ...any) { r.add("debug", msg, keyvals) }
func (r *Recorder) Info(msg string, keyvals ...any)  { r.add("info", msg, keyvals) }
func (r *Recorder) Warn(msg string, keyvals ...any)  { r.add("warn", msg, keyvals) }
func (r *Recorder) Error(msg string, keyvals ...any) { r.add("error", msg, keyvals) }

func (r *Recorder) add(level, msg string, keyvals []any) {
	fields := make(map[string]any, len(keyvals)/2)
	for i := 0; i < len(keyvals)-1; i += 2 {
		fields[fmt.Sprint(keyvals[i])] = keyvals[i+1]
	}
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Level: level, Message: msg, Fields: fields})
	r.mu.Unlock()
}

// Entries returns a copy of the captured records.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Count returns how many records were captured at level with message msg.
func (r *Recorder) Count(level, msg string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level && e.Message == msg {
			n++
		}
	}
	return n
}
