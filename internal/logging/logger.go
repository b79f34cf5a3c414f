// Package logging provides structured logging tagged with the run ID of a prune pass.
package logging

import (
	"encoding/json"
	"io"
	"maps"
	"os"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	// LevelTrace is for per-chunk detail.
	LevelTrace Level = iota
	// LevelDebug is for per-container detail.
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"trace", "debug", "info", "warn", "error"}

func (l Level) String() string {
	if l < LevelTrace || l > LevelError {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel converts a level name to a Level. Unknown names map to info.
func ParseLevel(s string) Level {
	if i := slices.Index(levelNames[:], s); i >= 0 {
		return Level(i)
	}
	return LevelInfo
}

// ParseVerbosity maps the count of -v flags to a level: none is info, one is
// debug, two or more is trace.
func ParseVerbosity(v int) Level {
	switch {
	case v <= 0:
		return LevelInfo
	case v == 1:
		return LevelDebug
	default:
		return LevelTrace
	}
}

// Format represents the output format for log messages.
type Format int

const (
	FormatJSON Format = iota
	FormatText
)

// ParseFormat converts a string to a Format. Anything but "text" is JSON.
func ParseFormat(s string) Format {
	if s == "text" {
		return FormatText
	}
	return FormatJSON
}

// Entry is a single log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	RunID     string         `json:"runId,omitempty"`
	File      string         `json:"file,omitempty"`
	Line      int            `json:"line,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Config holds configuration for a Logger.
type Config struct {
	Level     Level
	Format    Format
	Output    io.Writer
	AddCaller bool
}

// sink is the output shared by a logger and everything derived from it.
type sink struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *sink) write(p []byte) {
	s.mu.Lock()
	_, _ = s.out.Write(p)
	s.mu.Unlock()
}

// Logger writes leveled entries. Derived loggers are immutable copies that
// share the parent's output, so a Logger is safe for concurrent use.
type Logger struct {
	sink      *sink
	level     Level
	format    Format
	addCaller bool
	runID     string
	fields    map[string]any
}

// New creates a new Logger with the given configuration.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	return &Logger{
		sink:      &sink{out: out},
		level:     cfg.Level,
		format:    cfg.Format,
		addCaller: cfg.AddCaller,
	}
}

func (l *Logger) clone() *Logger {
	c := *l
	c.fields = maps.Clone(l.fields)
	return &c
}

// With returns a Logger that adds fields to every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	c := l.clone()
	if c.fields == nil {
		c.fields = make(map[string]any, len(fields))
	}
	maps.Copy(c.fields, fields)
	return c
}

// WithRunID returns a Logger that tags every entry with the run ID.
func (l *Logger) WithRunID(id string) *Logger {
	c := l.clone()
	c.runID = id
	return c
}

// RunID returns the run ID attached to the logger.
func (l *Logger) RunID() string { return l.runID }

// Level returns the minimum level the logger writes.
func (l *Logger) Level() Level { return l.level }

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool { return level >= l.level }

func (l *Logger) Tracef(msg string, fields map[string]any) { l.log(LevelTrace, msg, fields) }
func (l *Logger) Debugf(msg string, fields map[string]any) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Infof(msg string, fields map[string]any)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warnf(msg string, fields map[string]any)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Errorf(msg string, fields map[string]any) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, extra map[string]any) {
	if level < l.level {
		return
	}

	e := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level.String(),
		Message:   msg,
		RunID:     l.runID,
	}
	if l.addCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			e.File, e.Line = file, line
		}
	}
	if len(l.fields)+len(extra) > 0 {
		e.Fields = make(map[string]any, len(l.fields)+len(extra))
		maps.Copy(e.Fields, l.fields)
		maps.Copy(e.Fields, extra)
	}

	var data []byte
	if l.format == FormatText {
		data = appendText(make([]byte, 0, 256), e)
	} else {
		data, _ = json.Marshal(e)
		data = append(data, '\n')
	}
	l.sink.write(data)
}

// appendText renders e as "<time> [<level>] <message> key=value ..." with
// keys in sorted order.
func appendText(buf []byte, e Entry) []byte {
	buf = e.Timestamp.AppendFormat(buf, time.RFC3339)
	buf = append(buf, " ["...)
	buf = append(buf, e.Level...)
	buf = append(buf, "] "...)
	buf = append(buf, e.Message...)

	if e.RunID != "" {
		buf = append(buf, " runId="...)
		buf = append(buf, e.RunID...)
	}
	if e.File != "" {
		buf = append(buf, " file="...)
		buf = append(buf, e.File...)
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, int64(e.Line), 10)
	}
	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		buf = append(buf, ' ')
		buf = append(buf, k...)
		buf = append(buf, '=')
		if s, ok := e.Fields[k].(string); ok {
			buf = strconv.AppendQuote(buf, s)
			continue
		}
		data, _ := json.Marshal(e.Fields[k])
		buf = append(buf, data...)
	}
	return append(buf, '\n')
}
