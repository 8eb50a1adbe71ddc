package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogging(t *testing.T) {
	t.Helper()
	origLevel := zerolog.GlobalLevel()
	origLogger := log.Logger
	origStderr := stderr
	origTerminal := isTerminalFn
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(origLevel)
		log.Logger = origLogger
		stderr = origStderr
		isTerminalFn = origTerminal
		mu.Lock()
		baseLogger = origLogger
		mu.Unlock()
	})
}

func TestParseLevel(t *testing.T) {
	resetLogging(t)
	stderr = io.Discard

	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"info", zerolog.InfoLevel},
		{" DEBUG ", zerolog.DebugLevel},
		{"trace", zerolog.TraceLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.want, parseLevel(tc.input))
		})
	}
}

func TestParseLevelReportsInvalidLevel(t *testing.T) {
	resetLogging(t)
	var out bytes.Buffer
	stderr = &out

	parseLevel("loud")
	assert.Contains(t, out.String(), `invalid level "loud"`)
}

func TestInitWritesComponentToExtraSink(t *testing.T) {
	resetLogging(t)
	isTerminalFn = func(int) bool { return false }

	tail := NewTail(10)
	logger := Init(Config{Format: "json", Level: "debug", Component: "agent", Extra: tail})

	logger.Info().Str("peer", "p1").Msg("hello")

	history := tail.History()
	require.Len(t, history, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(history[0]), &entry))
	assert.Equal(t, "agent", entry["component"])
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "p1", entry["peer"])
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestComponentAddsField(t *testing.T) {
	resetLogging(t)

	tail := NewTail(10)
	Init(Config{Format: "json", Extra: tail})

	logger := Component("provider")
	logger.Warn().Msg("reconnecting")

	history := tail.History()
	require.Len(t, history, 1)
	assert.True(t, strings.Contains(history[0], `"component":"provider"`))
}

func TestSetGlobalLevel(t *testing.T) {
	resetLogging(t)

	SetGlobalLevel("error")
	assert.Equal(t, "error", GetGlobalLevel())
	assert.True(t, IsLevelEnabled(zerolog.ErrorLevel))
	assert.False(t, IsLevelEnabled(zerolog.InfoLevel))
}

func TestSelectWriter(t *testing.T) {
	resetLogging(t)
	stderr = io.Discard

	isTerminalFn = func(int) bool { return true }
	_, isConsole := selectWriter("auto").(zerolog.ConsoleWriter)
	assert.True(t, isConsole)

	isTerminalFn = func(int) bool { return false }
	_, isConsole = selectWriter("").(zerolog.ConsoleWriter)
	assert.False(t, isConsole)

	_, isConsole = selectWriter("console").(zerolog.ConsoleWriter)
	assert.True(t, isConsole)

	_, isConsole = selectWriter("xml").(zerolog.ConsoleWriter)
	assert.False(t, isConsole)
}
