package logx

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LineWriter renders zerolog JSON records as plain text lines:
//
//	[2024-05-01T00:00:00.000Z] [INFO] sweep finished scanned=3
//
// A failed write is reported on the fallback writer and then swallowed, so
// logging never fails the caller.
type LineWriter struct {
	mu       sync.Mutex
	out      io.Writer
	fallback io.Writer
}

func NewLineWriter(out, fallback io.Writer) *LineWriter {
	if fallback == nil {
		fallback = Stderr()
	}
	return &LineWriter{out: out, fallback: fallback}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

func (w *LineWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	line := FormatLine(level, p)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out == nil {
		_, _ = io.WriteString(w.fallback, line)
		return len(p), nil
	}
	if _, err := io.WriteString(w.out, line); err != nil {
		_, _ = fmt.Fprintf(w.fallback, "logx: log sink write failed: %v\n", err)
		_, _ = io.WriteString(w.fallback, line)
	}
	return len(p), nil
}

// FormatLine converts one zerolog JSON record into "[ts] [LEVEL] msg k=v...\n".
// Non-JSON input is passed through as the message.
func FormatLine(level zerolog.Level, p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return "[] [" + levelName(level, "") + "] " + strings.TrimSpace(string(p)) + "\n"
	}

	ts, _ := m[zerolog.TimestampFieldName].(string)
	lvl, _ := m[zerolog.LevelFieldName].(string)
	msg, _ := m[zerolog.MessageFieldName].(string)

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(ts)
	b.WriteString("] [")
	b.WriteString(levelName(level, lvl))
	b.WriteString("] ")
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(m[k]))
	}
	b.WriteString("\n")
	return b.String()
}

func levelName(level zerolog.Level, fromRecord string) string {
	if fromRecord != "" {
		level, _ = zerolog.ParseLevel(fromRecord)
	}
	switch level {
	case zerolog.TraceLevel:
		return "TRACE"
	case zerolog.DebugLevel:
		return "DEBUG"
	case zerolog.InfoLevel, zerolog.NoLevel:
		return "INFO"
	case zerolog.WarnLevel:
		return "WARN"
	case zerolog.ErrorLevel:
		return "ERROR"
	case zerolog.FatalLevel:
		return "FATAL"
	case zerolog.PanicLevel:
		return "PANIC"
	default:
		return strings.ToUpper(level.String())
	}
}
