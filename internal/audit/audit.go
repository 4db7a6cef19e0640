// Package audit writes the append-only, line-delimited event log consumed by
// offline analysis: one JSON object per adverse-selection fill evaluation and
// per safe-mode level change.
package audit

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Event is a single audit record. Fields carries the gate-specific inputs,
// computed score, action and reason.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Symbol    string         `json:"symbol,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger serializes events to a single writer. Writes are best-effort: an
// audit failure is logged but never blocks a trading decision.
type Logger struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewLogger writes events to path through a size-rotated file.
func NewLogger(path string) *Logger {
	return &Logger{
		w: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    64, // megabytes
			MaxBackups: 8,
			Compress:   true,
		},
		now: time.Now,
	}
}

// NewWriterLogger writes events to an arbitrary writer (tests).
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{w: w, now: time.Now}
}

// Emit appends one event line. A nil Logger is a no-op so gates can run
// without auditing configured.
func (l *Logger) Emit(kind, symbol string, fields map[string]any) {
	if l == nil {
		return
	}
	ev := Event{Timestamp: l.now().UTC(), Kind: kind, Symbol: symbol, Fields: fields}
	line, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("audit event marshal failed")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(append(line, '\n')); err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("audit event write failed")
	}
}
