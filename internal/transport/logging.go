package transport

import (
	"karaoke/internal/log"
	"karaoke/internal/pitch"

	"github.com/rs/zerolog"
)

// LoggingTransport writes each note event as a structured log line.
type LoggingTransport struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewLoggingTransport logs events at info level under the "notes" component.
func NewLoggingTransport() *LoggingTransport {
	return &LoggingTransport{
		logger: log.Component("notes"),
		level:  zerolog.InfoLevel,
	}
}

// NewLoggingTransportTo logs events through logger at the given level.
func NewLoggingTransportTo(logger zerolog.Logger, level zerolog.Level) *LoggingTransport {
	return &LoggingTransport{logger: logger, level: level}
}

// Send never fails.
func (lt *LoggingTransport) Send(ev pitch.NoteEvent) error {
	lt.logger.WithLevel(lt.level).
		Str("note", ev.Note).
		Float64("frequency", ev.Frequency).
		Float64("cents", ev.Cents).
		Float64("magnitude", ev.Magnitude).
		Int("bin", ev.Bin).
		Time("at", ev.Timestamp).
		Msg("note")
	return nil
}

// Close is a no-op.
func (lt *LoggingTransport) Close() error {
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
