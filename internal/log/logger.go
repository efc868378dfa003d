// Package log is the process-wide logging facade. The printf-style helpers
// keep call sites short; Logger exposes the underlying zerolog.Logger for
// structured fields.
//
// Nothing in this package may be called from the capture callback.
package log

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel defines the severity of a log message.
type LogLevel uint32

// Constants for log levels.
const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.FatalLevel
	}
}

// ParseLevel converts a string (case-insensitive) to a LogLevel.
// Returns LevelInfo and false if the string is not recognized.
func ParseLevel(levelStr string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

// --- Global Logger State ---

var (
	currentLevel atomic.Uint32
	logger       atomic.Pointer[zerolog.Logger]
)

func init() {
	SetOutput(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	SetLevel(LevelInfo)
}

// SetOutput replaces the destination of all log output. Tests pass a
// bytes.Buffer; main keeps the console writer.
func SetOutput(w io.Writer) {
	l := zerolog.New(w).With().Timestamp().Logger()
	l = l.Level(GetLevel().zerolog())
	logger.Store(&l)
}

// SetLevel sets the global logging level atomically.
func SetLevel(level LogLevel) {
	currentLevel.Store(uint32(level))
	if cur := logger.Load(); cur != nil {
		l := cur.Level(level.zerolog())
		logger.Store(&l)
	}
}

// GetLevel gets the current global logging level atomically.
func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// Logger returns the current zerolog logger for structured logging.
func Logger() *zerolog.Logger {
	return logger.Load()
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return logger.Load().With().Str("component", name).Logger()
}

// --- Public Logging Functions ---

// Debugf logs a formatted debug message if the level is appropriate.
func Debugf(format string, v ...any) {
	logger.Load().Debug().Msgf(format, v...)
}

// Infof logs a formatted info message if the level is appropriate.
func Infof(format string, v ...any) {
	logger.Load().Info().Msgf(format, v...)
}

// Warnf logs a formatted warning message if the level is appropriate.
func Warnf(format string, v ...any) {
	logger.Load().Warn().Msgf(format, v...)
}

// Errorf logs a formatted error message if the level is appropriate.
func Errorf(format string, v ...any) {
	logger.Load().Error().Msgf(format, v...)
}

// Fatalf logs a formatted fatal message and exits the application.
// Fatal messages are always logged regardless of the current level.
func Fatalf(format string, v ...any) {
	logger.Load().Fatal().Msgf(format, v...)
}

// Info logs an info message if the level is appropriate.
func Info(msg string) {
	logger.Load().Info().Msg(msg)
}

// Warn logs a warning message if the level is appropriate.
func Warn(msg string) {
	logger.Load().Warn().Msg(msg)
}

// Error logs an error message if the level is appropriate.
func Error(msg string) {
	logger.Load().Error().Msg(msg)
}
