package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Глобальный экземпляр логгера
var (
	globalLogger *zap.Logger
	mu           sync.RWMutex
)

// Options настройки логгера
type Options struct {
	Level    string // debug | info | warn | error
	File     string // читаемый лог, пусто - не писать
	JSONFile string // JSON лог для UI, пусто - не писать
	Console  bool
	Truncate bool // очистка JSON лога при перезапуске
}

// Init инициализирует глобальный логгер
func Init(opts Options) error {
	l, err := newLogger(opts)
	if err != nil {
		return err
	}

	mu.Lock()
	globalLogger = l
	mu.Unlock()
	return nil
}

// GetLogger возвращает глобальный экземпляр логгера
func GetLogger() *zap.Logger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	// Init не вызывался (тесты, утилиты) - пишем только в консоль
	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		globalLogger, _ = newLogger(Options{Level: "info", Console: true})
	}
	return globalLogger
}

// Sync сбрасывает буферы
func Sync() {
	_ = GetLogger().Sync()
}

// Вспомогательные функции для удобства использования
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// newLogger создает новый экземпляр логгера
func newLogger(opts Options) (*zap.Logger, error) {
	// Конфигурация энкодера
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("02.01.2006 - 15:04:05.000000000Z07:00")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, err
		}
	}

	var cores []zapcore.Core

	if opts.Console {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.Lock(os.Stderr), level))
	}

	if opts.File != "" {
		readableFile, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(readableFile), level))
	}

	if opts.JSONFile != "" {
		flags := os.O_APPEND | os.O_CREATE | os.O_WRONLY
		if opts.Truncate {
			flags |= os.O_TRUNC
		}
		jsonFile, err := os.OpenFile(opts.JSONFile, flags, 0644)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(jsonFile), level))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	// Tee: консоль + читаемый файл + JSON файл
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)), nil
}
