package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("info"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestNew_ReturnsUsableLogger(t *testing.T) {
	logger := New("debug")
	assert.NotNil(t, logger)
	assert.NotPanics(t, func() { logger.Sugar().Infof("hello %s", "world") })
}

func TestNop_DiscardsOutput(t *testing.T) {
	logger := Nop()
	assert.NotNil(t, logger)
}
