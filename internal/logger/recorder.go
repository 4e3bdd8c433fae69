package logger

import (
	"context"
	"sync"
)

// Recorder is an in-memory Logger for tests that need to assert on log output
type Recorder struct {
	mu      *sync.Mutex
	entries *[]LogEntry
	fields  map[string]interface{}
	comp    Component
	source  LogSource
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]LogEntry{}}
}

// Entries returns a copy of everything logged so far, including by child loggers
func (r *Recorder) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// Count returns how many entries were logged at level
func (r *Recorder) Count(level LogLevel) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

func (r *Recorder) record(ctx context.Context, level LogLevel, msg string, args []interface{}) {
	fields := collectFields(ctx, r.fields, args)
	entry := LogEntry{Level: level, Message: msg, Component: r.comp, Source: r.source, Fields: fields}
	if id, ok := fields["session_id"].(string); ok {
		entry.SessionID = id
	}
	if step, ok := fields["step"].(string); ok {
		entry.Step = step
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, entry)
}

func (r *Recorder) child() *Recorder {
	return &Recorder{mu: r.mu, entries: r.entries, fields: r.fields, comp: r.comp, source: r.source}
}

func (r *Recorder) Debug(msg string, args ...interface{}) { r.record(nil, LevelDebug, msg, args) }
func (r *Recorder) Info(msg string, args ...interface{})  { r.record(nil, LevelInfo, msg, args) }
func (r *Recorder) Warn(msg string, args ...interface{})  { r.record(nil, LevelWarn, msg, args) }
func (r *Recorder) Error(msg string, args ...interface{}) { r.record(nil, LevelError, msg, args) }

func (r *Recorder) DebugContext(ctx context.Context, msg string, args ...interface{}) {
	r.record(ctx, LevelDebug, msg, args)
}
func (r *Recorder) InfoContext(ctx context.Context, msg string, args ...interface{}) {
	r.record(ctx, LevelInfo, msg, args)
}
func (r *Recorder) WarnContext(ctx context.Context, msg string, args ...interface{}) {
	r.record(ctx, LevelWarn, msg, args)
}
func (r *Recorder) ErrorContext(ctx context.Context, msg string, args ...interface{}) {
	r.record(ctx, LevelError, msg, args)
}

func (r *Recorder) WithFields(fields map[string]interface{}) Logger {
	c := r.child()
	c.fields = mergeFields(r.fields, fields)
	return c
}

func (r *Recorder) WithComponent(component Component) Logger {
	c := r.child()
	c.comp = component
	return c
}

func (r *Recorder) WithSource(source LogSource) Logger {
	c := r.child()
	c.source = source
	return c
}

func (r *Recorder) Close() error { return nil }

var _ Logger = (*Recorder)(nil)
