// Package logging writes leveled JSON log lines.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel accepts the level names in any case. "warning" is an alias
// for WARN.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Fields are attached to a log line under "fields".
type Fields map[string]interface{}

type entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`
	Fields    Fields `json:"fields,omitempty"`
}

// sink is shared by a logger and every logger derived from it, so lines
// written through WithField copies never interleave.
type sink struct {
	mu  sync.Mutex
	out io.Writer
}

type Logger struct {
	sink      *sink
	level     Level
	component string
	fields    Fields
}

func New() *Logger {
	return &Logger{
		sink:  &sink{out: os.Stdout},
		level: LevelInfo,
	}
}

// SetOutput redirects l and every logger derived from it.
func (l *Logger) SetOutput(w io.Writer) *Logger {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.out = w
	return l
}

func (l *Logger) SetLevel(level Level) *Logger {
	l.level = level
	return l
}

func (l *Logger) Level() Level { return l.level }

// Named returns a copy that tags each line with component.
func (l *Logger) Named(component string) *Logger {
	c := l.clone(0)
	c.component = component
	return c
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(Fields{key: value})
}

func (l *Logger) WithFields(fields Fields) *Logger {
	c := l.clone(len(fields))
	for k, v := range fields {
		c.fields[k] = v
	}
	return c
}

func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) clone(extra int) *Logger {
	fields := make(Fields, len(l.fields)+extra)
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{sink: l.sink, level: l.level, component: l.component, fields: fields}
}

func (l *Logger) Debug(msg string, fields ...Fields) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Fields)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Fields)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Fields) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, extra []Fields) {
	if level < l.level {
		return
	}

	merged := make(Fields, len(l.fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range extra {
		for k, v := range f {
			// error values marshal as {}.
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			merged[k] = v
		}
	}

	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Component: l.component,
		Message:   msg,
	}
	if len(merged) > 0 {
		e.Fields = merged
	}

	data, err := json.Marshal(e)
	if err != nil {
		data = []byte(fmt.Sprintf("%s %s %s (unencodable fields: %v)", e.Timestamp, e.Level, msg, err))
	}
	data = append(data, '\n')

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.out.Write(data)
}

// Default is used by constructors that are handed a nil logger.
var Default = New()

func SetDefaultLevel(level Level) {
	Default.SetLevel(level)
}

func Debug(msg string, fields ...Fields) { Default.Debug(msg, fields...) }
func Info(msg string, fields ...Fields)  { Default.Info(msg, fields...) }
func Warn(msg string, fields ...Fields)  { Default.Warn(msg, fields...) }
func Error(msg string, fields ...Fields) { Default.Error(msg, fields...) }
