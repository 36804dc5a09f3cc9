package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

// callerSkip hides the wrapper and the manager frames from the caller field.
const callerSkip = 2

type ZapLoggerConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
	File   string `yaml:"file" json:"file"`
	// Sample drops repeated entries under load, useful when cache-hit
	// debugging is on in production.
	Sample bool `yaml:"sample" json:"sample"`
}

func NewDefaultLogger(config *types.LoggerConfig) (types.Logger, error) {
	lConfig := &ZapLoggerConfig{
		Format: "console",
		Output: "stdout",
		Level:  config.Level,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, lConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal logger config")
		}
	}

	zl, err := buildZapLogger(lConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	l := NewZapWrapper(zl)
	l.Debug("Logger initialized",
		zap.String("level", lConfig.Level),
		zap.String("format", lConfig.Format),
		zap.String("output", lConfig.Output),
		zap.Bool("sampled", lConfig.Sample),
	)

	return l, nil
}

// NewNop returns a logger that discards everything. Used by tests and dry tooling.
func NewNop() types.Logger {
	return NewZapWrapper(zap.NewNop())
}

func buildZapLogger(config *ZapLoggerConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if config.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.EncoderConfig.EncodeCaller = fullCallerEncoder
	}

	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.DisableStacktrace = true
	zapConfig.Level = zap.NewAtomicLevelAt(parseLogLevel(config.Level))
	if !config.Sample {
		zapConfig.Sampling = nil
	}

	out, errOut, err := outputPaths(config)
	if err != nil {
		return nil, err
	}
	zapConfig.OutputPaths = out
	zapConfig.ErrorOutputPaths = errOut

	return zapConfig.Build(zap.AddCaller())
}

// outputPaths maps the output setting to zap sinks. "file" without a path
// falls back to the standard streams.
func outputPaths(config *ZapLoggerConfig) ([]string, []string, error) {
	switch {
	case config.Output == "stderr":
		return []string{"stderr"}, []string{"stderr"}, nil
	case config.Output == "file" && config.File != "":
		if err := ensureLogDir(config.File); err != nil {
			return nil, nil, err
		}
		return []string{config.File}, []string{config.File}, nil
	default:
		return []string{"stdout"}, []string{"stderr"}, nil
	}
}

func fullCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(fmt.Sprintf("%s:%d", caller.File, caller.Line))
}

// parseLogLevel accepts zap level names plus "warning"; anything else is info.
func parseLogLevel(level string) zapcore.Level {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}

	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func ensureLogDir(logFile string) error {
	if logFile == "" {
		return types.ErrLogFileIsEmpty
	}

	dir := filepath.Dir(logFile)
	if dir == "." && !strings.ContainsRune(logFile, filepath.Separator) {
		return types.ErrLogFileWrongFormat
	}

	return types.WrapError(os.MkdirAll(dir, 0755), "access denied to log directory")
}

// ZapWrapper adapts a zap logger to types.Logger.
type ZapWrapper struct {
	Logger  *zap.Logger
	skipped *zap.Logger
}

func NewZapWrapper(logger *zap.Logger) *ZapWrapper {
	return &ZapWrapper{
		Logger:  logger,
		skipped: logger.WithOptions(zap.AddCallerSkip(callerSkip)),
	}
}

// With returns a wrapper whose entries all carry fields.
func (z *ZapWrapper) With(fields ...zap.Field) *ZapWrapper {
	return NewZapWrapper(z.Logger.With(fields...))
}

func (z *ZapWrapper) Sync() error {
	return z.Logger.Sync()
}

func (z *ZapWrapper) Error(msg string, fields ...zap.Field) {
	z.skipped.Error(msg, fields...)
}

func (z *ZapWrapper) Warn(msg string, fields ...zap.Field) {
	z.skipped.Warn(msg, fields...)
}

func (z *ZapWrapper) Info(msg string, fields ...zap.Field) {
	z.skipped.Info(msg, fields...)
}

func (z *ZapWrapper) Debug(msg string, fields ...zap.Field) {
	z.skipped.Debug(msg, fields...)
}

func (z *ZapWrapper) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	z.skipped.Log(lvl, msg, fields...)
}

// ErrorWithErrStack logs the root cause of err and, when the error was created
// with github.com/pkg/errors, the stack of the innermost frame.
func (z *ZapWrapper) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	if err == nil {
		z.Error(msg, fields...)
		return
	}

	all := make([]zap.Field, 0, len(fields)+2)
	all = append(all, zap.String("error", errors.Cause(err).Error()))
	all = append(all, fields...)
	if stack := errorStack(err); stack != "" {
		all = append(all, zap.String("stack", stack))
	}

	z.skipped.Error(msg, all...)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// errorStack prefers the stack recorded at the root cause over the outer wrap.
func errorStack(err error) string {
	for _, e := range []error{errors.Cause(err), err} {
		if st, ok := e.(stackTracer); ok {
			return strings.TrimSpace(fmt.Sprintf("%+v", st.StackTrace()))
		}
	}
	return ""
}
