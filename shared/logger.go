package shared

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig holds the configuration for the logger
type LoggerConfig struct {
	ServiceName string
	Development bool   // console encoder instead of JSON
	Level       string // debug, info, warn, error
}

// Logger wraps zap.Logger with additional context
type Logger struct {
	*zap.Logger
	serviceName string
}

// NewLogger creates a new logger instance based on the configuration.
// Output always goes to stderr; stdout is reserved for probe output.
func NewLogger(config LoggerConfig) (*Logger, error) {
	var zapConfig zap.Config
	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.OutputPaths = []string{"stderr"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	zapConfig.DisableStacktrace = true

	level := zapcore.InfoLevel
	if config.Development {
		level = zapcore.DebugLevel
	}
	if config.Level != "" {
		if err := level.UnmarshalText([]byte(config.Level)); err != nil {
			return nil, err
		}
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	zapLogger = zapLogger.With(zap.String("service", config.ServiceName))

	return &Logger{
		Logger:      zapLogger,
		serviceName: config.ServiceName,
	}, nil
}

// NewLoggerFromEnv creates a logger using DEVELOPMENT and LOG_LEVEL
func NewLoggerFromEnv(serviceName string) (*Logger, error) {
	return NewLogger(LoggerConfig{
		ServiceName: serviceName,
		Development: GetEnvBoolOrDefault("DEVELOPMENT", false),
		Level:       os.Getenv("LOG_LEVEL"),
	})
}

// NewNopLogger returns a Logger that discards everything
func NewNopLogger() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WrapLogger adopts an existing zap logger, e.g. one from zaptest
func WrapLogger(l *zap.Logger) *Logger {
	return &Logger{Logger: l}
}

// Target-aware logging
func (l *Logger) WithTarget(addr string) *Logger {
	if addr == "" {
		return l
	}
	return &Logger{Logger: l.Logger.With(zap.String("target", addr)), serviceName: l.serviceName}
}

// Run-aware logging
func (l *Logger) WithRun(runID string) *Logger {
	if runID == "" {
		return l
	}
	return &Logger{Logger: l.Logger.With(zap.String("run_id", runID)), serviceName: l.serviceName}
}

// Security event logging - for findings about the target's trust behaviour
func (l *Logger) Security(msg string, fields ...zap.Field) {
	l.Logger.Warn(msg, append(fields, zap.Bool("security_event", true))...)
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.Logger.Sync()
}
