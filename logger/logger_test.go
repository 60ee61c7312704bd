package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in    string
		level LogLevel
		ok    bool
	}{
		{"debug", DebugLevel, true},
		{" INFO ", InfoLevel, true},
		{"warning", WarnLevel, true},
		{"error", ErrorLevel, true},
		{"", InfoLevel, false},
		{"verbose", InfoLevel, false},
	}

	for _, tt := range tests {
		level, ok := ParseLevel(tt.in)
		require.Equal(t, tt.level, level, tt.in)
		require.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestSlogWriter_JSON(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	l := NewSlogWriter(&buf, InfoLevel, false, false)

	l.Debug("hidden")
	require.Zero(buf.Len())

	l.Info("upload started", "file", "cube.gx")
	require.Contains(buf.String(), `"msg":"upload started"`)
	require.Contains(buf.String(), `"file":"cube.gx"`)
	require.Contains(buf.String(), `"ts":`)

	buf.Reset()
	l.SetLevel(DebugLevel)
	require.Equal(DebugLevel, l.Level())
	l.With("printer", "adv4").Debug("line")
	require.Contains(buf.String(), `"printer":"adv4"`)
}

func TestSlogWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWriter(&buf, WarnLevel, false, true)

	l.Info("hidden")
	require.Zero(t, buf.Len())

	l.Warn("paused printer")
	require.Contains(t, buf.String(), "paused printer")
}

func TestMockLogger_Permissive(t *testing.T) {
	m := NewPermissiveMockLogger()
	m.With("k", "v").Info("hello", "a", 1)
	m.AssertCalled(t, "Info", "hello", []any{"a", 1})
}
