package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из конфигурации ("debug", "info", ...).
// Неизвестные значения дают INFO.
func ParseLevel(s string) LogLevel {
	switch s {
	case "trace", "TRACE":
		return TRACE
	case "debug", "DEBUG":
		return DEBUG
	case "warn", "WARN", "warning":
		return WARN
	case "error", "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case TRACE, DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Options задаёт куда и с какой детализацией пишет логгер компонента.
type Options struct {
	Dir          string   // каталог для файлов логов, "" — без файла
	ConsoleLevel LogLevel // минимальный уровень для консоли
	FileLevel    LogLevel // минимальный уровень для файла
}

// DefaultOptions возвращает настройки по умолчанию: консоль INFO, файл DEBUG в ./logs.
func DefaultOptions() Options {
	return Options{Dir: "logs", ConsoleLevel: INFO, FileLevel: DEBUG}
}

// Logger - логгер одного компонента сервера поверх zap.
type Logger struct {
	component string
	sugar     *zap.SugaredLogger
	base      *zap.Logger
	file      *os.File

	consoleLevel zap.AtomicLevel
	fileLevel    zap.AtomicLevel
}

// NewLogger создаёт логгер компонента с настройками по умолчанию
func NewLogger(component string) (*Logger, error) {
	return NewLoggerWithOptions(component, DefaultOptions())
}

// NewLoggerWithOptions создаёт логгер компонента: консоль и (опционально) файл
// logs/<component>_<timestamp>.log.
func NewLoggerWithOptions(component string, opts Options) (*Logger, error) {
	l := &Logger{
		component:    component,
		consoleLevel: zap.NewAtomicLevelAt(opts.ConsoleLevel.zapLevel()),
		fileLevel:    zap.NewAtomicLevelAt(opts.FileLevel.zapLevel()),
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), l.consoleLevel),
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("ошибка создания директории %s: %w", opts.Dir, err)
		}
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		filename := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", component, timestamp))
		file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
		}
		l.file = file
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(file),
			l.fileLevel,
		))
	}

	l.base = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("component", component))
	l.sugar = l.base.Sugar()
	return l, nil
}

// Nop возвращает логгер, который ничего не пишет
func Nop() *Logger {
	base := zap.NewNop()
	return &Logger{
		component:    "nop",
		base:         base,
		sugar:        base.Sugar(),
		consoleLevel: zap.NewAtomicLevel(),
		fileLevel:    zap.NewAtomicLevel(),
	}
}

// Zap отдаёт нижележащий *zap.Logger для библиотек, которые его принимают.
func (l *Logger) Zap() *zap.Logger { return l.base }

// SetLevels меняет пороги консоли и файла на лету
func (l *Logger) SetLevels(console, file LogLevel) {
	l.consoleLevel.SetLevel(console.zapLevel())
	l.fileLevel.SetLevel(file.zapLevel())
}

func (l *Logger) Trace(format string, args ...interface{}) { l.sugar.Debugf("[TRACE] "+format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Close сбрасывает буферы и закрывает файл
func (l *Logger) Close() error {
	_ = l.base.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = Nop()
)

// InitDefaultLogger создаёт глобальный логгер процесса
func InitDefaultLogger(component string) error {
	return InitDefaultLoggerWithOptions(component, DefaultOptions())
}

// InitDefaultLoggerWithOptions создаёт глобальный логгер с явными настройками
func InitDefaultLoggerWithOptions(component string, opts Options) error {
	l, err := NewLoggerWithOptions(component, opts)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	return nil
}

// CloseDefaultLogger закрывает глобальный логгер и возвращает no-op
func CloseDefaultLogger() {
	defaultMu.Lock()
	l := defaultLogger
	defaultLogger = Nop()
	defaultMu.Unlock()
	_ = l.Close()
}

// Default возвращает текущий глобальный логгер
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Пакетные функции пишут в глобальный логгер. До InitDefaultLogger они молчат.

func Trace(format string, args ...interface{}) { Default().sugar.Debugf("[TRACE] "+format, args...) }
func Debug(format string, args ...interface{}) { Default().sugar.Debugf(format, args...) }
func Info(format string, args ...interface{})  { Default().sugar.Infof(format, args...) }
func Warn(format string, args ...interface{})  { Default().sugar.Warnf(format, args...) }
func Error(format string, args ...interface{}) { Default().sugar.Errorf(format, args...) }

// HexDump создает hex дамп данных (не более 256 байт)
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}
	if len(data) > 256 {
		return hex.Dump(data[:256]) + fmt.Sprintf("... (%d bytes truncated)", len(data)-256)
	}
	return hex.Dump(data)
}
