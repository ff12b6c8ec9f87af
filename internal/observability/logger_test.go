package observability_test

import (
	"bytes"
	"log/slog"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reoring/shapekit/internal/observability"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := observability.NewLogger("warn", "json", &buf)
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("flush failed", "shape", "acme.device")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "flush failed", rec["msg"])
	assert.Equal(t, "acme.device", rec["shape"])
	assert.Equal(t, "shapekit", rec["component"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	l, err := observability.NewLogger("debug", "text", &buf)
	require.NoError(t, err)
	l.Debug("opened", "shape", "s")
	assert.Contains(t, buf.String(), "msg=opened")
	assert.Contains(t, buf.String(), "shape=s")
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := observability.NewLogger("loud", "text", &bytes.Buffer{})
	assert.Error(t, err)
	_, err = observability.NewLogger("info", "xml", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "": slog.LevelInfo, "INFO": slog.LevelInfo,
		"warning": slog.LevelWarn, "error": slog.LevelError,
	} {
		got, err := observability.ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
