// Package logger — общепроцессная обёртка над zap. Уровень меняется динамически
// через zap.AtomicLevel, целевые потоки (stdout/stderr либо файл с ротацией)
// переназначаются на лету через SetWriters. Единственное разрешённое
// модуль-глобальное изменяемое состояние процесса живёт здесь.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// timeLayout — фиксированный формат времени в консольном выводе.
const timeLayout = "2006-01-02 15:04:05"

var (
	mu sync.Mutex

	log   *zap.Logger
	level = zap.NewAtomicLevelAt(zap.InfoLevel)

	outSink zapcore.WriteSyncer = zapcore.Lock(zapcore.AddSync(os.Stdout))
	errSink zapcore.WriteSyncer = zapcore.Lock(zapcore.AddSync(os.Stderr))
)

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return cfg
}

// rebuildLocked пересобирает глобальный логгер с текущими потоками и уровнем.
// Вызывающий держит mu. AddCallerSkip(1) прячет обёртки этого пакета из caller'а.
func rebuildLocked() {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), outSink, level)
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(errSink))
}

// Init устанавливает уровень логирования (debug/info/warn/error, без учёта
// регистра; неизвестное значение — info) и пересобирает логгер.
func Init(levelName string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(levelName) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "warn":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
	rebuildLocked()
}

// SetWriters переназначает целевые потоки и пересобирает core.
// nil возвращает соответствующий поток к stdout/stderr.
func SetWriters(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if stdout == nil {
		outSink = zapcore.Lock(zapcore.AddSync(os.Stdout))
	} else {
		outSink = zapcore.Lock(zapcore.AddSync(stdout))
	}
	if stderr == nil {
		errSink = zapcore.Lock(zapcore.AddSync(os.Stderr))
	} else {
		errSink = zapcore.Lock(zapcore.AddSync(stderr))
	}
	rebuildLocked()
}

// Logger возвращает текущий zap.Logger, лениво создавая его при первом обращении.
// Предпочтительнее структурированные zap.Field, а не f-обёртки.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if log == nil {
		rebuildLocked()
	}
	return log
}

// Debug пишет структурированное сообщение уровня Debug.
func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }

// Info пишет структурированное сообщение уровня Info.
func Info(msg string, fields ...zap.Field) { Logger().Info(msg, fields...) }

// Warn пишет структурированное предупреждение.
func Warn(msg string, fields ...zap.Field) { Logger().Warn(msg, fields...) }

// Error пишет структурированное сообщение об ошибке.
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal пишет сообщение и завершает процесс с ненулевым кодом.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
}

// Debugf форматирует через fmt.Sprintf. Форматирование аллоцирует: в горячих
// путях предпочтительны структурированные поля.
func Debugf(msg string, a ...any) { Logger().Debug(fmt.Sprintf(msg, a...)) }

// Infof форматирует через fmt.Sprintf.
func Infof(msg string, a ...any) { Logger().Info(fmt.Sprintf(msg, a...)) }

// Warnf форматирует через fmt.Sprintf.
func Warnf(msg string, a ...any) { Logger().Warn(fmt.Sprintf(msg, a...)) }

// Errorf форматирует через fmt.Sprintf.
func Errorf(msg string, a ...any) { Logger().Error(fmt.Sprintf(msg, a...)) }
