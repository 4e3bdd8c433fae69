package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ConsoleLogger implements Tier 1: operator console output.
// JSON lines via slog, or colored text lines for interactive sessions.
type ConsoleLogger struct {
	handler slog.Handler
}

// NewConsoleLogger creates a console logger writing to w
func NewConsoleLogger(config *Config, w io.Writer) *ConsoleLogger {
	opts := &slog.HandlerOptions{Level: slogLevel(config.Level)}

	var handler slog.Handler
	switch {
	case config.Format == FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	case config.Console.Color:
		handler = newColorTextHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &ConsoleLogger{handler: handler}
}

func (cl *ConsoleLogger) log(level LogLevel, msg string, component Component, source LogSource, fields map[string]interface{}) {
	record := slog.NewRecord(time.Now(), slogLevel(level), msg, 0)

	if component != "" {
		record.AddAttrs(slog.String("component", string(component)))
	}
	if source != "" {
		record.AddAttrs(slog.String("log_source", string(source)))
	}

	// Sorted for stable console output
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		record.AddAttrs(slog.Any(k, fields[k]))
	}

	_ = cl.handler.Handle(context.Background(), record)
}

// Close is a no-op; console writes are synchronous
func (cl *ConsoleLogger) Close() error {
	return nil
}

// slogLevel converts our LogLevel to slog.Level
func slogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// colorTextHandler renders "15:04:05 LEVEL message key=value ..." with a colored level
type colorTextHandler struct {
	w    io.Writer
	opts *slog.HandlerOptions
	mu   sync.Mutex

	debugColor *color.Color
	infoColor  *color.Color
	warnColor  *color.Color
	errorColor *color.Color
	keyColor   *color.Color
}

func newColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *colorTextHandler {
	return &colorTextHandler{
		w:          w,
		opts:       opts,
		debugColor: color.New(color.FgCyan),
		infoColor:  color.New(color.FgGreen),
		warnColor:  color.New(color.FgYellow),
		errorColor: color.New(color.FgRed, color.Bold),
		keyColor:   color.New(color.Faint),
	}
}

func (h *colorTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts != nil && h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *colorTextHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format("15:04:05"))
	b.WriteByte(' ')

	switch {
	case r.Level >= slog.LevelError:
		b.WriteString(h.errorColor.Sprint("ERROR"))
	case r.Level >= slog.LevelWarn:
		b.WriteString(h.warnColor.Sprint("WARN "))
	case r.Level >= slog.LevelInfo:
		b.WriteString(h.infoColor.Sprint("INFO "))
	default:
		b.WriteString(h.debugColor.Sprint("DEBUG"))
	}

	b.WriteByte(' ')
	b.WriteString(r.Message)

	r.Attrs(func(a slog.Attr) bool {
		b.WriteByte(' ')
		b.WriteString(h.keyColor.Sprint(a.Key + "="))
		fmt.Fprintf(&b, "%v", a.Value.Any())
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// WithAttrs and WithGroup are unused: attributes arrive per record
func (h *colorTextHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *colorTextHandler) WithGroup(_ string) slog.Handler      { return h }
