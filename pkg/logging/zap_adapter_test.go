package logging

import (
	"errors"
	"testing"
	"time"

	"github.com/kevin07696/settlement-service/internal/domain/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerAdapter_ConvertsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Warn("settlement deferred",
		ports.String("restaurant_id", "restaurant-123"),
		ports.Int("attempt", 2),
		ports.Duration("elapsed", time.Second),
		ports.Err(errors.New("db down")),
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "settlement deferred", entry.Message)

	ctx := entry.ContextMap()
	assert.Equal(t, "restaurant-123", ctx["restaurant_id"])
	assert.Equal(t, int64(2), ctx["attempt"])
	assert.Equal(t, time.Second, ctx["elapsed"])
	assert.Equal(t, "db down", ctx["error"])
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("production", "debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("development", "")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = NewLogger("development", "loud")
	assert.Error(t, err)
}
