// Package logger — единый вывод логов predictd (zap) с префиксом и учётом quiet.
// Компоненты governor получают logr.Logger поверх того же zap через Logr.
package logger

import (
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Quiet при true отключает информационные сообщения (Info, Debug); Error выводится всегда.
var Quiet bool

const prefix = "predictd: "

var (
	mu   sync.RWMutex
	base = newZap(zapcore.InfoLevel, false)
)

// Setup перестраивает логгер: level — debug, info, warn, error; development — консольный формат.
func Setup(level string, development bool) {
	l := newZap(parseLevel(level), development)
	mu.Lock()
	base = l
	mu.Unlock()
}

// Set подменяет zap-логгер (тесты, встраивание в Beat)
func Set(l *zap.Logger) {
	mu.Lock()
	base = l
	mu.Unlock()
}

// Zap возвращает текущий zap-логгер
func Zap() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Logr возвращает logr.Logger с именем name поверх zap.
// Уровень logr V(n) соответствует zap-уровню -n.
func Logr(name string) logr.Logger {
	return zapr.NewLogger(Zap()).WithName(name)
}

// Info выводит сообщение с префиксом "predictd: ", если Quiet == false.
func Info(format string, args ...interface{}) {
	if Quiet {
		return
	}
	Zap().Sugar().Infof(prefix+format, args...)
}

// Debug выводит отладочное сообщение, если Quiet == false и уровень debug включён.
func Debug(format string, args ...interface{}) {
	if Quiet {
		return
	}
	Zap().Sugar().Debugf(prefix+format, args...)
}

// Error выводит сообщение об ошибке с префиксом "predictd: " всегда.
func Error(format string, args ...interface{}) {
	Zap().Sugar().Errorf(prefix+format, args...)
}

// Sync сбрасывает буферы zap
func Sync() {
	_ = Zap().Sync()
}

func newZap(level zapcore.Level, development bool) *zap.Logger {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		// V(5) из logr становится zap-уровнем -5, открываем всё
		return zapcore.Level(-5)
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
