package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, level zapcore.Level) *observer.ObservedLogs {
	core, logs := observer.New(level)
	prev := Zap()
	Set(zap.New(core))
	t.Cleanup(func() {
		Set(prev)
		Quiet = false
	})
	return logs
}

func TestInfoAndQuiet(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)

	Info("cpu %d started", 3)
	Quiet = true
	Info("hidden")
	Debug("hidden")
	Error("failed: %v", errors.New("boom"))

	entries := logs.AllUntimed()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "predictd: cpu 3 started", entries[0].Message)
		assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
		assert.Equal(t, "predictd: failed: boom", entries[1].Message)
	}
}

func TestLogrVerbosity(t *testing.T) {
	logs := observe(t, zapcore.Level(-5))

	l := Logr("governor")
	l.V(5).Info("tick", "cpuID", 1)
	l.V(6).Info("too verbose")
	l.Error(errors.New("write failed"), "apply")

	entries := logs.AllUntimed()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "governor", entries[0].LoggerName)
		assert.Equal(t, "tick", entries[0].Message)
		assert.Equal(t, "apply", entries[1].Message)
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.Level(-5), parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
}
