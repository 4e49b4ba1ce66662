package logs

import (
	"fmt"
	"sync"
	"time"
)

type Level string

const (
	INFO  Level = "INFO"
	WARN  Level = "WARN"
	ERROR Level = "ERROR"
	DEBUG Level = "DEBUG"
)

// levelPriority defines the priority of each log level
// higher value = more severe
var levelPriority = map[Level]int{
	DEBUG: 1,
	INFO:  2,
	WARN:  3,
	ERROR: 4,
}

// ParseLevel maps a level name to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	l := Level(s)
	if _, ok := levelPriority[l]; ok {
		return l
	}
	return INFO
}

type Entry struct {
	TimeStamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
}

// Sink receives every entry that passes level filtering.
type Sink interface {
	Write(Entry)
}

// buffer is shared by a logger and all of its named children.
type buffer struct {
	mu      sync.Mutex
	entries []Entry
	maxSize int
	level   Level
	sink    Sink
}

type Logger struct {
	buf       *buffer
	component string
}

// Option configures a Logger.
type Option func(*buffer)

// WithSink mirrors entries to s.
func WithSink(s Sink) Option {
	return func(b *buffer) { b.sink = s }
}

// level: minimum log level to record (e.g., INFO, WARN, ERROR, DEBUG)
//
// maxSize: maximum number of log entries kept in memory
func NewLogger(maxSize int, level Level, opts ...Option) *Logger {
	if maxSize <= 0 {
		maxSize = 1
	}
	b := &buffer{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
		level:   level,
	}
	for _, opt := range opts {
		opt(b)
	}
	return &Logger{buf: b}
}

// Named returns a logger tagging entries with component. It shares the
// parent's buffer.
func (l *Logger) Named(component string) *Logger {
	if l == nil {
		return nil
	}
	if l.component != "" {
		component = l.component + "." + component
	}
	return &Logger{buf: l.buf, component: component}
}

// log applies level filtering and ring buffer behavior
func (l *Logger) log(level Level, msg string) {
	if l == nil {
		return
	}
	b := l.buf
	if levelPriority[level] < levelPriority[b.level] {
		return
	}

	e := Entry{
		TimeStamp: time.Now(),
		Level:     level,
		Component: l.component,
		Message:   msg,
	}

	b.mu.Lock()
	if len(b.entries) >= b.maxSize {
		// drop oldest
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, e)
	sink := b.sink
	b.mu.Unlock()

	if sink != nil {
		sink.Write(e)
	}
}

func (l *Logger) Debug(msg string) { l.log(DEBUG, msg) }
func (l *Logger) Info(msg string)  { l.log(INFO, msg) }
func (l *Logger) Warn(msg string)  { l.log(WARN, msg) }
func (l *Logger) Error(msg string) { l.log(ERROR, msg) }

func (l *Logger) Debugf(format string, args ...any) { l.log(DEBUG, fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.log(INFO, fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(WARN, fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.log(ERROR, fmt.Sprintf(format, args...)) }

// GetLast returns up to n of the most recent entries, oldest first.
func (l *Logger) GetLast(n int) []Entry {
	if l == nil || n <= 0 {
		return nil
	}
	b := l.buf
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > len(b.entries) {
		n = len(b.entries)
	}
	out := make([]Entry, n)
	copy(out, b.entries[len(b.entries)-n:])
	return out
}
