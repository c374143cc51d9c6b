// Package logger предоставляет логирование с префиксом компонента поверх zap.
// API пакетного уровня (Info/Errorf/...) сохранён, чтобы не протаскивать логгер через все конструкторы.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	prefix string
	level  = zap.NewAtomicLevelAt(parseLevel(os.Getenv("LOG_LEVEL")))
	base   = newBase()
)

func newBase() *zap.Logger {
	cfg := zap.Config{
		Level:       level,
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if os.Getenv("LOG_FORMAT") == "json" {
		cfg.Encoding = "json"
	}
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug", "trace":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "chat", "devapi").
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetLevel меняет уровень логирования на лету (значение из конфига).
func SetLevel(s string) {
	level.SetLevel(parseLevel(s))
}

// Replace подменяет zap-логгер (тесты используют zaptest/observer). Возвращает функцию восстановления.
func Replace(l *zap.Logger) func() {
	mu.Lock()
	prev := base
	base = l
	mu.Unlock()
	return func() {
		mu.Lock()
		base = prev
		mu.Unlock()
	}
}

// Sync сбрасывает буферы zap; вызывается перед выходом из main.
func Sync() {
	_ = current().Sync()
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func tag() string {
	mu.RLock()
	defer mu.RUnlock()
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

// Debugf пишет отладочное сообщение (видно при LOG_LEVEL=debug).
func Debugf(format string, v ...any) {
	current().Debug(tag() + fmt.Sprintf(format, v...))
}

// Info пишет информационное сообщение с префиксом.
func Info(v ...any) {
	current().Info(tag() + fmt.Sprint(v...))
}

// Infof форматирует и пишет с префиксом.
func Infof(format string, v ...any) {
	current().Info(tag() + fmt.Sprintf(format, v...))
}

// Warnf пишет предупреждение с префиксом.
func Warnf(format string, v ...any) {
	current().Warn(tag() + fmt.Sprintf(format, v...))
}

// Error пишет ошибку с префиксом.
func Error(v ...any) {
	current().Error(tag() + fmt.Sprint(v...))
}

// Errorf форматирует ошибку с префиксом.
func Errorf(format string, v ...any) {
	current().Error(tag() + fmt.Sprintf(format, v...))
}

// LogDuration логирует имя функции и время выполнения.
// При уровне info логирует только вызовы дольше 100ms; при debug — все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if level.Enabled(zapcore.DebugLevel) || elapsed >= 100*time.Millisecond {
		current().Info(tag()+"timing", zap.String("fn", fn), zap.Int64("duration_ms", elapsed.Milliseconds()))
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("api.GetMessages", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
