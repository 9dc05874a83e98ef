package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func newTestManager() *LoggerManager {
	return &LoggerManager{loggers: make(map[string]*Logger)}
}

func TestManagerReusesComponentLoggers(t *testing.T) {
	lm := newTestManager()
	lm.Configure(Options{ConsoleLevel: ERROR, FileLevel: DEBUG})

	world, err := lm.GetLogger("world")
	require.NoError(t, err)
	again, err := lm.GetLogger("world")
	require.NoError(t, err)
	assert.Same(t, world, again)
	assert.Equal(t, zapcore.ErrorLevel, world.consoleLevel.Level(), "логгер создан с настройками Configure")

	_, err = lm.GetLogger("network")
	require.NoError(t, err)
	assert.Equal(t, []string{"network", "world"}, lm.ListComponents())

	require.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
}

func TestManagerSetLogLevel(t *testing.T) {
	lm := newTestManager()
	assert.Error(t, lm.SetLogLevel("storage", DEBUG, DEBUG), "неизвестный компонент")

	storage := lm.MustGetLogger("storage")
	require.NoError(t, lm.SetLogLevel("storage", DEBUG, WARN))
	assert.Equal(t, zapcore.DebugLevel, storage.consoleLevel.Level())
	assert.Equal(t, zapcore.WarnLevel, storage.fileLevel.Level())
}

func TestComponentLoggersAreShared(t *testing.T) {
	assert.Same(t, GetNetworkLogger(), GetComponentLogger("network"))
	assert.Same(t, GetWorldLogger(), GetLoggerManager().MustGetLogger("world"))
	assert.NotNil(t, GetStorageLogger())
}
