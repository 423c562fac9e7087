package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ValidLogLevels lists the accepted level names.
var ValidLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// LoggingConfig is the subset of the logging configuration the logger needs.
// It is satisfied by *config.LoggingConfig.
type LoggingConfig interface {
	GetComponentLevel(component string) string
	GetDefaultLevel() string
	IsDevelopment() bool
}

// Logger wraps zap.SugaredLogger to provide a consistent logging interface across the project.
// It provides both structured logging (with fields) and printf-style logging methods.
type Logger struct {
	*zap.SugaredLogger

	atomicLevel zap.AtomicLevel
	component   string
}

// NewLogger creates a new logger with the specified configuration.
// level can be "debug", "info", "warn", "error"
// development mode enables stack traces and uses console encoder
func NewLogger(level string, development bool) (*Logger, error) {
	var config zap.Config

	if development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	zapLogger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{
		SugaredLogger: zapLogger.Sugar(),
		atomicLevel:   config.Level,
	}, nil
}

// NewComponentLogger creates a logger tagged with the given component.
// It panics on an invalid level, configuration is validated before loggers are built.
func NewComponentLogger(component, level string, development bool) *Logger {
	l, err := NewLogger(level, development)
	if err != nil {
		panic(fmt.Sprintf("failed to create logger for component %s: %v", component, err))
	}

	return l.WithComponent(component)
}

// NewComponentLoggerFromConfig creates a component logger using the level configured
// for that component, falling back to the default level. A nil config yields an info logger.
func NewComponentLoggerFromConfig(component string, cfg LoggingConfig) *Logger {
	if cfg == nil {
		return NewComponentLogger(component, "info", false)
	}

	return NewComponentLogger(component, cfg.GetComponentLevel(component), cfg.IsDevelopment())
}

// NewNopLogger creates a no-op logger that discards all logs.
// Useful for testing.
func NewNopLogger() *Logger {
	return &Logger{
		SugaredLogger: zap.NewNop().Sugar(),
		atomicLevel:   zap.NewAtomicLevelAt(zapcore.FatalLevel),
	}
}

// WithComponent creates a child logger with a component name field.
// The child shares the parent's level.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		SugaredLogger: l.With("component", component),
		atomicLevel:   l.atomicLevel,
		component:     component,
	}
}

// GetComponent returns the component name, empty for the root logger.
func (l *Logger) GetComponent() string {
	return l.component
}

// GetLevel returns the current level name.
func (l *Logger) GetLevel() string {
	return l.atomicLevel.Level().String()
}

// SetLevel changes the level of this logger and every logger sharing it.
func (l *Logger) SetLevel(level string) error {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}

	l.atomicLevel.SetLevel(zapLevel)
	return nil
}

// Close flushes any buffered log entries.
func (l *Logger) Close() error {
	return l.Sync()
}
