package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestInitWriterFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "warn")
	defer func() { Log = nil }()

	Info("hidden")
	Warn("shown", "operation_id", "op-1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "operation_id=op-1")
}

func TestInitWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mvidarr.log")
	prev := slog.Default()
	Init("info", path)
	defer func() {
		slog.SetDefault(prev)
		Close()
		Log = nil
		logWriter = nil
	}()

	Info("engine started", "workers", 3)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"engine started"`)
	assert.Contains(t, string(data), `"workers":3`)
}
