package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileLogger is the rotating JSON-lines tier. Entries are encoded on the
// calling goroutine and handed to a single writer that appends them to the
// file one batch per write.
type FileLogger struct {
	out       *lumberjack.Logger
	lines     chan []byte
	batchSize int
	interval  time.Duration

	dropped atomic.Int64
	done    chan struct{}
	stop    sync.Once
	wg      sync.WaitGroup
}

// NewFileLogger opens the rotating file described by config.File
func NewFileLogger(config *Config) (*FileLogger, error) {
	fc := config.File
	if !fc.Enabled {
		return nil, fmt.Errorf("file logging is not enabled")
	}

	fl := &FileLogger{
		out: &lumberjack.Logger{
			Filename:   fc.Path,
			MaxSize:    fc.MaxSizeMB,
			MaxBackups: fc.MaxBackups,
			MaxAge:     fc.MaxAgeDays,
			Compress:   fc.Compress,
		},
		lines:     make(chan []byte, fc.BufferSize),
		batchSize: fc.BatchSize,
		interval:  fc.BatchInterval,
		done:      make(chan struct{}),
	}

	fl.wg.Add(1)
	go fl.run()
	return fl, nil
}

func (fl *FileLogger) log(level LogLevel, msg string, component Component, source LogSource, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Component: component,
		Source:    source,
		Fields:    fields,
	}
	entry.SessionID, _ = fields["session_id"].(string)
	entry.Step, _ = fields["step"].(string)
	if err, ok := fields["error"]; ok {
		entry.Error = fmt.Sprint(err)
	}

	line, err := json.Marshal(&entry)
	if err != nil {
		fl.dropped.Add(1)
		return
	}

	// Never block a poll loop on disk I/O
	select {
	case fl.lines <- append(line, '\n'):
	default:
		fl.dropped.Add(1)
	}
}

func (fl *FileLogger) run() {
	defer fl.wg.Done()

	ticker := time.NewTicker(fl.interval)
	defer ticker.Stop()

	var batch bytes.Buffer
	pending := 0
	flush := func() {
		if pending == 0 {
			return
		}
		_, _ = fl.out.Write(batch.Bytes())
		batch.Reset()
		pending = 0
	}

	for {
		select {
		case line := <-fl.lines:
			batch.Write(line)
			if pending++; pending >= fl.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-fl.done:
			for {
				select {
				case line := <-fl.lines:
					batch.Write(line)
					pending++
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close drains queued entries and closes the file
func (fl *FileLogger) Close() error {
	fl.stop.Do(func() { close(fl.done) })
	fl.wg.Wait()

	if n := fl.dropped.Load(); n > 0 {
		fmt.Fprintf(os.Stderr, "Warning: file logger dropped %d entries (buffer full)\n", n)
	}
	if err := fl.out.Close(); err != nil {
		return fmt.Errorf("failed to close file logger: %w", err)
	}
	return nil
}

// Rotate starts a new file; the old one is kept per MaxBackups/MaxAgeDays
func (fl *FileLogger) Rotate() error {
	return fl.out.Rotate()
}
