package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerTo_WritesJSON(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false

	var buf bytes.Buffer
	logger, err := NewLoggerTo(cfg, &buf)
	require.NoError(t, err)

	ctx := WithOrigin(context.Background(), "https://poe.trade")
	logger.Info(ctx, "tracker ready", zap.Int("items", 3))
	require.NoError(t, logger.Sync())

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "tracker ready", line["msg"])
	assert.Equal(t, "https://poe.trade", line["page.origin"])
	assert.Equal(t, "ptw", line["service"])
	assert.EqualValues(t, 3, line["items"])
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLogger_ContextAwareMethods(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}
	ctx := context.Background()

	tests := []struct {
		name    string
		logFunc func()
		level   zapcore.Level
	}{
		{"trace", func() { logger.Trace(ctx, "msg", zap.String("key", "val")) }, TraceLevel},
		{"debug", func() { logger.Debug(ctx, "msg", zap.String("key", "val")) }, zapcore.DebugLevel},
		{"info", func() { logger.Info(ctx, "msg", zap.String("key", "val")) }, zapcore.InfoLevel},
		{"warn", func() { logger.Warn(ctx, "msg", zap.String("key", "val")) }, zapcore.WarnLevel},
		{"error", func() { logger.Error(ctx, "msg", zap.String("key", "val")) }, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observed.TakeAll()
			tt.logFunc()

			logs := observed.All()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.level, logs[0].Level)
			assert.Len(t, logs[0].Context, 1)
		})
	}
}

func TestLogger_Component(t *testing.T) {
	tl := NewTestLogger()

	child := tl.Component("tracker").With(zap.Int("items", 2))
	child.Info(WithItemID(context.Background(), "X1"), "sweep finished")

	logs := tl.All()
	require.Len(t, logs, 1)
	assert.Equal(t, "tracker", logs[0].LoggerName)
	tl.AssertField(t, "sweep finished", "component", "tracker")
	tl.AssertField(t, "sweep finished", "items", int64(2))
	tl.AssertField(t, "sweep finished", "item.id", "X1")
}

func TestLogger_DisabledLevelSkipped(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}

	logger.Trace(context.Background(), "tick")
	logger.Debug(context.Background(), "tick")
	logger.Info(context.Background(), "saved")

	require.Equal(t, 1, observed.Len())
	assert.Equal(t, "saved", observed.All()[0].Message)
}

func TestLogger_Enabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}

	assert.False(t, logger.Enabled(TraceLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
}

func TestLevelFromString(t *testing.T) {
	level, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, level)

	level, err = LevelFromString(" WARN ")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, level)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("value", "abcdef")
	assert.Equal(t, "[REDACTED:6]", f.String)
}
