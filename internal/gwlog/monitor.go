// Package gwlog provides the gateway's ring-buffered, level-filtered
// logger. Three independent monitors are kept at runtime (mux, backend,
// scheduler) so that a caller can silence or redirect one traffic class
// without touching the others.
package gwlog

import (
	"container/ring"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Yurzs/ollama-x/internal/gwevent"
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

// ParseLevel maps the LOG_LEVEL env values (including the spec's
// "critical", folded into error since this logger has no fifth tier) onto
// a Level.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error", "critical":
		return LevelError
	default:
		return LevelInfo
	}
}

// LogEvent is published on the monitor's event bus for every accepted line.
type LogEvent struct {
	Monitor string
	Level   Level
	Line    string
	At      time.Time
}

func (LogEvent) Type() uint32 { return 1 }

// Monitor is a small level-filtered logger that also keeps the last 1024
// lines of output in a ring buffer (for an admin "tail logs" surface) and
// broadcasts each accepted line on an event bus.
type Monitor struct {
	name   string
	mu     sync.Mutex
	level  Level
	out    io.Writer
	buffer *ring.Ring
	bus    *gwevent.Dispatcher
}

// New creates a monitor named name, writing to out at the given level.
func New(name string, out io.Writer, level Level) *Monitor {
	if out == nil {
		out = io.Discard
	}
	return &Monitor{
		name:   name,
		level:  level,
		out:    out,
		buffer: ring.New(64 * 1024 / 64), // coarse line-count cap
		bus:    gwevent.NewDispatcherConfig(256),
	}
}

// Stdout is a convenience constructor writing to os.Stdout.
func Stdout(name string, level Level) *Monitor {
	return New(name, os.Stdout, level)
}

// Discard is a convenience constructor that drops everything.
func Discard(name string) *Monitor {
	return New(name, io.Discard, LevelError+1)
}

func (m *Monitor) SetLevel(l Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.level = l
}

func (m *Monitor) log(level Level, format string, args ...any) {
	m.mu.Lock()
	enabled := level >= m.level
	m.mu.Unlock()
	if !enabled {
		return
	}

	line := fmt.Sprintf("%s [%s] %s %s\n", time.Now().UTC().Format(time.RFC3339), level, m.name, fmt.Sprintf(format, args...))

	m.mu.Lock()
	io.WriteString(m.out, line)
	m.buffer.Value = line
	m.buffer = m.buffer.Next()
	m.mu.Unlock()

	gwevent.Publish(m.bus, LogEvent{Monitor: m.name, Level: level, Line: line, At: time.Now().UTC()})
}

func (m *Monitor) Debug(format string, args ...any) { m.log(LevelDebug, format, args...) }
func (m *Monitor) Info(format string, args ...any)  { m.log(LevelInfo, format, args...) }
func (m *Monitor) Warn(format string, args ...any)  { m.log(LevelWarn, format, args...) }
func (m *Monitor) Error(format string, args ...any) { m.log(LevelError, format, args...) }

// Tail returns up to the last n buffered lines, oldest first.
func (m *Monitor) Tail(n int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	lines := make([]string, 0, n)
	m.buffer.Do(func(v any) {
		if v == nil {
			return
		}
		lines = append(lines, v.(string))
	})
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// On subscribes handler to every accepted log line for this monitor.
func (m *Monitor) On(handler func(LogEvent)) func() {
	return gwevent.Subscribe(m.bus, handler)
}
