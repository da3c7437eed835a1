package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Production_JSONHandler(t *testing.T) {
	logger := NewLogger("production", "")
	require.NotNil(t, logger)

	handler := logger.Handler()
	_, ok := handler.(*slog.JSONHandler)
	assert.True(t, ok, "production logger should use JSONHandler, got %T", handler)
}

func TestNewLogger_Development_NotJSON(t *testing.T) {
	for _, env := range []string{"development", "", "staging"} {
		logger := NewLogger(env, "")
		require.NotNil(t, logger)

		_, ok := logger.Handler().(*slog.JSONHandler)
		assert.False(t, ok, "env %q should use the text handler", env)
	}
}

func TestNewLogger_Production_InfoLevel(t *testing.T) {
	logger := NewLogger("production", "")
	ctx := context.Background()
	assert.True(t, logger.Handler().Enabled(ctx, slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(ctx, slog.LevelDebug))
}

func TestNewLogger_Development_DebugLevel(t *testing.T) {
	logger := NewLogger("development", "")
	ctx := context.Background()
	assert.True(t, logger.Handler().Enabled(ctx, slog.LevelDebug))
	assert.True(t, logger.Handler().Enabled(ctx, slog.LevelInfo))
}

func TestNewLogger_LevelOverride(t *testing.T) {
	ctx := context.Background()

	logger := NewLogger("production", "debug")
	assert.True(t, logger.Handler().Enabled(ctx, slog.LevelDebug))

	logger = NewLogger("development", "warn")
	assert.False(t, logger.Handler().Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Handler().Enabled(ctx, slog.LevelWarn))
}

func TestNewLogger_InvalidLevelFallsBack(t *testing.T) {
	logger := NewLogger("production", "loud")
	ctx := context.Background()
	assert.True(t, logger.Handler().Enabled(ctx, slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(ctx, slog.LevelDebug))
}

func TestNewLogger_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer

	logger := newLogger(&buf, "production", "")
	logger.Info("sync complete", slog.Int("uploaded", 3))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "sync complete", rec["msg"])
	assert.EqualValues(t, 3, rec["uploaded"])
}
