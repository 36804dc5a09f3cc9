package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrHandlerIsNil         = errors.New("handler is nil")
	ErrPathNotFound         = errors.New("path not found")
)

var (
	ErrCacheKeyEmpty = errors.New("cache key empty")
)

var (
	ErrDocumentNotFound      = errors.New("document not found")
	ErrDocumentKeyEmpty      = errors.New("document key empty")
	ErrDocumentMalformed     = errors.New("document malformed")
	ErrDatabaseTypeUnknown   = errors.New("database type unknown")
	ErrDatabaseNotRunning    = errors.New("database not running")
	ErrDatabaseConnectFailed = errors.New("database connection failed")
)

var (
	ErrLocalStoreMissing = errors.New("local content store missing")
	ErrLocalStoreInvalid = errors.New("local content store invalid")
	ErrRemoteStoreFailed = errors.New("remote content store failed")
	ErrSyncFailed        = errors.New("sync failed")
)

var (
	ErrPolicyInvalid        = errors.New("content policy invalid")
	ErrPriorityUnknown      = errors.New("priority unknown")
	ErrExportFormatUnknown  = errors.New("export format unknown")
	ErrUnknownAction        = errors.New("unknown action")
	ErrMonitoringRunning    = errors.New("monitoring already running")
	ErrMonitoringNotRunning = errors.New("monitoring not running")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronIsRunning         = errors.New("cron is running")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronJobTimeout        = errors.New("cron job timeout")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsNotRunning  = errors.New("metrics manager is not running")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLogFileWrongFormat  = errors.New("log file wrong format")
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrServiceIsRunning    = errors.New("service is running")
	ErrServiceIsNotRunning = errors.New("service is not running")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotSupported     = errors.New("not supported")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
