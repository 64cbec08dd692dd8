package gwlog

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warn"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelError, ParseLevel("critical"))
	assert.Equal(t, LevelInfo, ParseLevel("info"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestMonitor_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	m := New("test", &buf, LevelWarn)

	m.Info("swallowed %s", "line")
	m.Warn("kept %s", "line")

	out := buf.String()
	assert.NotContains(t, out, "swallowed")
	assert.Contains(t, out, "kept")
}

func TestMonitor_TailReturnsChronologicalOrder(t *testing.T) {
	m := New("test", io.Discard, LevelDebug)
	m.Info("first")
	m.Info("second")
	m.Info("third")

	tail := m.Tail(10)
	require.Len(t, tail, 3)
	assert.True(t, strings.Contains(tail[0], "first"))
	assert.True(t, strings.Contains(tail[1], "second"))
	assert.True(t, strings.Contains(tail[2], "third"))
}

func TestMonitor_OnReceivesAcceptedLines(t *testing.T) {
	m := Discard("test")
	m.SetLevel(LevelDebug)

	events := make(chan LogEvent, 1)
	m.On(func(ev LogEvent) { events <- ev })

	m.Error("boom %d", 42)

	select {
	case ev := <-events:
		assert.Equal(t, LevelError, ev.Level)
		assert.Contains(t, ev.Line, "boom 42")
	case <-time.After(time.Second):
		t.Fatal("no log event received")
	}
}

func TestDiscard_NeverWrites(t *testing.T) {
	m := Discard("silent")
	assert.NotPanics(t, func() { m.Error("should not panic") })
	assert.Empty(t, m.Tail(10))
}
