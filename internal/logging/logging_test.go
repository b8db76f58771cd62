// ABOUTME: Tests for logger construction and the color handler
// ABOUTME: Color is disabled so output can be compared as plain text

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New("info", "json", &buf)

	logger.Debug("hidden")
	logger.Info("sent", "type", "Ping")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "sent", rec["msg"])
	assert.Equal(t, "Ping", rec["type"])
}

func TestColorHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New("debug", "color", &buf).With("component", "presence")

	logger.Warn("send failed", "agent_id", "uAQID")

	out := buf.String()
	assert.Contains(t, out, "WRN send failed")
	assert.Contains(t, out, "component=presence")
	assert.Contains(t, out, "agent_id=uAQID")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestColorHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewColorHandler(&buf, slog.LevelInfo)).WithGroup("relay")

	logger.Info("routed", "to", 3)
	assert.Contains(t, buf.String(), "relay.to=3")
}

func TestColorHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := New("error", "", &buf)

	logger.Warn("ignored")
	assert.Empty(t, buf.String())

	logger.Error("boom")
	assert.Contains(t, buf.String(), "ERR boom")
}
