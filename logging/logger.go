package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogLevel represents the severity level of a log entry
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a LogLevel, defaulting to InfoLevel.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger represents a structured logger. Derived loggers share the
// underlying writer and never mutate their parent.
type Logger struct {
	level     LogLevel
	component string
	zl        zerolog.Logger
}

// Config represents logger configuration
type Config struct {
	Level        LogLevel
	Output       io.Writer
	Component    string
	EnableCaller bool
	// Format is "json" (default) or "text".
	Format string
}

// NewLogger creates a new structured logger
func NewLogger(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	out := config.Output
	if config.Format == "text" {
		out = zerolog.ConsoleWriter{Out: config.Output, TimeFormat: time.RFC3339, NoColor: true}
	}

	ctx := zerolog.New(out).Level(config.Level.zerolog()).With().Timestamp()
	if config.Component != "" {
		ctx = ctx.Str("component", config.Component)
	}
	if config.EnableCaller {
		ctx = ctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 2)
	}

	return &Logger{
		level:     config.Level,
		component: config.Component,
		zl:        ctx.Logger(),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{level: FatalLevel + 1, zl: zerolog.Nop()}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		level:     l.level,
		component: l.component,
		zl:        l.zl.With().Interface(key, value).Logger(),
	}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{
		level:     l.level,
		component: l.component,
		zl:        l.zl.With().Fields(fields).Logger(),
	}
}

// WithComponent sets the component for this logger
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		level:     l.level,
		component: component,
		zl:        l.zl.With().Str("component", component).Logger(),
	}
}

// Component returns the component name this logger reports under.
func (l *Logger) Component() string {
	return l.component
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log(DebugLevel, message, nil)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DebugLevel, fmt.Sprintf(format, args...), nil)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log(InfoLevel, message, nil)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(InfoLevel, fmt.Sprintf(format, args...), nil)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log(WarnLevel, message, nil)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WarnLevel, fmt.Sprintf(format, args...), nil)
}

// Error logs an error message
func (l *Logger) Error(message string) {
	l.log(ErrorLevel, message, nil)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ErrorLevel, fmt.Sprintf(format, args...), nil)
}

// ErrorWithErr logs an error message with an error object
func (l *Logger) ErrorWithErr(message string, err error) {
	l.log(ErrorLevel, message, err)
}

// WarnWithErr logs a warning with an error object
func (l *Logger) WarnWithErr(message string, err error) {
	l.log(WarnLevel, message, err)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string) {
	l.log(FatalLevel, message, nil)
	os.Exit(1)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(FatalLevel, fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// LogOperation logs the start and end of an operation with duration
func (l *Logger) LogOperation(operation string, fn func() error) error {
	start := time.Now()

	l.WithField("operation", operation).Debug("Operation started")

	err := fn()
	duration := time.Since(start).Milliseconds()

	logger := l.WithFields(map[string]interface{}{
		"operation":   operation,
		"duration_ms": duration,
	})

	if err != nil {
		logger.ErrorWithErr("Operation failed", err)
		return err
	}

	logger.Info("Operation completed")
	return nil
}

func (l *Logger) log(level LogLevel, message string, err error) {
	if level < l.level {
		return
	}

	var ev *zerolog.Event
	switch level {
	case DebugLevel:
		ev = l.zl.Debug()
	case InfoLevel:
		ev = l.zl.Info()
	case WarnLevel:
		ev = l.zl.Warn()
	case ErrorLevel:
		ev = l.zl.Error()
	default:
		// zerolog's Fatal exits on Msg; exit is handled by the caller
		ev = l.zl.WithLevel(zerolog.FatalLevel)
	}
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(message)
}

// Default logger instance
var defaultLogger = NewLogger(Config{
	Level:     InfoLevel,
	Component: "vcsd",
})

// SetDefaultLogger sets the default logger
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// GetDefaultLogger returns the default logger
func GetDefaultLogger() *Logger {
	return defaultLogger
}

// Package-level convenience functions
func Debug(message string) {
	defaultLogger.Debug(message)
}

func Debugf(format string, args ...interface{}) {
	defaultLogger.Debugf(format, args...)
}

func Info(message string) {
	defaultLogger.Info(message)
}

func Infof(format string, args ...interface{}) {
	defaultLogger.Infof(format, args...)
}

func Warn(message string) {
	defaultLogger.Warn(message)
}

func Warnf(format string, args ...interface{}) {
	defaultLogger.Warnf(format, args...)
}

func Error(message string) {
	defaultLogger.Error(message)
}

func Errorf(format string, args ...interface{}) {
	defaultLogger.Errorf(format, args...)
}

func ErrorWithErr(message string, err error) {
	defaultLogger.ErrorWithErr(message, err)
}

func Fatal(message string) {
	defaultLogger.Fatal(message)
}

func Fatalf(format string, args ...interface{}) {
	defaultLogger.Fatalf(format, args...)
}

// GinLogger is request logging middleware
func GinLogger(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		latency := time.Since(start).Milliseconds()
		status := c.Writer.Status()

		logFields := map[string]interface{}{
			"request_id":      requestID,
			"http_method":     method,
			"http_path":       path,
			"http_status":     status,
			"http_latency_ms": latency,
		}
		if projectID := c.Param("project_id"); projectID != "" {
			logFields["project_id"] = projectID
		}

		logLevel := InfoLevel
		if status >= 400 && status < 500 {
			logLevel = WarnLevel
		} else if status >= 500 {
			logLevel = ErrorLevel
		}

		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last()
		}
		logger.WithFields(logFields).log(logLevel, "HTTP request processed", err)
	}
}

// GetRequestID extracts request ID from gin context
func GetRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}
