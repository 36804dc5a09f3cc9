package logger

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-content/types"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("nonsense"))
}

func TestErrorWithErrStack_AddsCauseAndStack(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapWrapper(zap.New(core))

	err := errors.Wrap(errors.New("remote down"), "fetch pricing")
	l.ErrorWithErrStack("fetch failed", err, zap.String("key", "pricing"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	fields := entry.ContextMap()
	assert.Equal(t, "remote down", fields["error"])
	assert.Equal(t, "pricing", fields["key"])
	assert.Contains(t, fields["stack"], "zap_logger_test.go")
}

func TestCreateLogger_UnknownType(t *testing.T) {
	_, err := createLogger(&types.LoggerConfig{Type: "syslog", Level: "info"})
	assert.ErrorIs(t, err, types.ErrLoggerTypeUnknown)
}

func TestCreateLogger_Nop(t *testing.T) {
	l, err := createLogger(&types.LoggerConfig{Type: "nop", Level: "info"})
	require.NoError(t, err)
	assert.NotPanics(t, func() { l.Info("discarded") })
}

func TestCreateLogger_RegisteredType(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	var received interface{}
	RegisterLogger("observed", func(config interface{}) (types.Logger, error) {
		received = config
		return NewZapWrapper(zap.New(core)), nil
	})

	l, err := createLogger(&types.LoggerConfig{Type: "observed", Level: "info", Config: map[string]interface{}{"sink": "memory"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"sink": "memory"}, received)

	l.Info("content pushed", zap.String("key", "hero"))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "hero", logs.All()[0].ContextMap()["key"])
}

func TestZapWrapper_WithLeavesParentUntouched(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	parent := NewZapWrapper(zap.New(core))
	child := parent.With(zap.String("environment", "staging"))

	child.Info("content cached")
	parent.Info("content fetched")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "staging", logs.All()[0].ContextMap()["environment"])
	assert.NotContains(t, logs.All()[1].ContextMap(), "environment")
}

func TestOutputPaths(t *testing.T) {
	out, errOut, err := outputPaths(&ZapLoggerConfig{Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, []string{"stderr"}, out)
	assert.Equal(t, []string{"stderr"}, errOut)

	out, _, err = outputPaths(&ZapLoggerConfig{Output: "file"})
	require.NoError(t, err)
	assert.Equal(t, []string{"stdout"}, out)

	file := filepath.Join(t.TempDir(), "logs", "content.log")
	out, errOut, err = outputPaths(&ZapLoggerConfig{Output: "file", File: file})
	require.NoError(t, err)
	assert.Equal(t, []string{file}, out)
	assert.Equal(t, []string{file}, errOut)
	assert.DirExists(t, filepath.Dir(file))
}
