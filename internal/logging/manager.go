package logging

import (
	"fmt"
	"sort"
	"sync"
)

// LoggerManager управляет логгерами отдельных компонентов (network, world, storage...)
type LoggerManager struct {
	mu      sync.RWMutex
	opts    Options
	loggers map[string]*Logger
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		// Пока Configure не вызван, компоненты пишут только WARN+ в консоль
		globalManager = &LoggerManager{
			opts:    Options{ConsoleLevel: WARN, FileLevel: DEBUG},
			loggers: make(map[string]*Logger),
		}
	})
	return globalManager
}

// Configure задаёт настройки для логгеров, которые будут созданы после вызова
func (lm *LoggerManager) Configure(opts Options) {
	lm.mu.Lock()
	lm.opts = opts
	lm.mu.Unlock()
}

// GetLogger возвращает логгер компонента, создавая его при необходимости
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	if logger, ok := lm.loggers[component]; ok {
		lm.mu.RUnlock()
		return logger, nil
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if logger, ok := lm.loggers[component]; ok {
		return logger, nil
	}

	logger, err := NewLoggerWithOptions(component, lm.opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать логгер %s: %w", component, err)
	}
	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger возвращает логгер компонента или глобальный при ошибке
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		Default().Warn("⚠️ %v, используется глобальный логгер", err)
		return Default()
	}
	return logger
}

// CloseAll закрывает все логгеры компонентов
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var lastErr error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			lastErr = fmt.Errorf("не удалось закрыть логгер %s: %w", component, err)
		}
	}
	lm.loggers = make(map[string]*Logger)
	return lastErr
}

// ListComponents возвращает отсортированный список компонентов
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

// SetLogLevel меняет уровни существующего логгера компонента
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.RLock()
	logger, ok := lm.loggers[component]
	lm.mu.RUnlock()

	if !ok {
		return fmt.Errorf("логгер компонента %s не найден", component)
	}
	logger.SetLevels(consoleLevel, fileLevel)
	return nil
}

func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetNetworkLogger() *Logger { return GetComponentLogger("network") }

func GetWorldLogger() *Logger { return GetComponentLogger("world") }

func GetStorageLogger() *Logger { return GetComponentLogger("storage") }
