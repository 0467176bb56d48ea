// Package logging provides structured logging for the filez CLI.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rescale/filez/internal/events"
)

// Logger wraps zerolog with the console formatting used across filez.
type Logger struct {
	zlog   zerolog.Logger
	output io.Writer // current output writer
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}
}

// NewLogger creates a logger writing to w.
func NewLogger(w io.Writer) *Logger {
	output := consoleWriter(w)
	return &Logger{
		zlog:   zerolog.New(output).With().Timestamp().Logger(),
		output: output,
	}
}

// NewDefaultCLILogger creates a default CLI logger.
// Logs go to stderr; stdout is reserved for listings and file contents.
func NewDefaultCLILogger() *Logger {
	return NewLogger(os.Stderr)
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop(), output: io.Discard}
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// With creates a child logger with additional context.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// SetOutput changes the output writer for the logger.
// This is useful for redirecting logs through progress bars.
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.zlog = zerolog.New(consoleWriter(w)).With().Timestamp().Logger()
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// Debugf logs a debug message with printf-style formatting.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Errorf logs an error message with printf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// Follow logs bus events until ctx is done or the bus is closed.
func (l *Logger) Follow(ctx context.Context, bus *events.EventBus) {
	ch := bus.SubscribeAll()
	defer bus.UnsubscribeAll(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			l.logEvent(ev)
		}
	}
}

func (l *Logger) logEvent(ev events.Event) {
	switch e := ev.(type) {
	case *events.LogEvent:
		var zev *zerolog.Event
		switch e.Level {
		case events.DebugLevel:
			zev = l.zlog.Debug()
		case events.WarnLevel:
			zev = l.zlog.Warn()
		case events.ErrorLevel:
			zev = l.zlog.Error()
		default:
			zev = l.zlog.Info()
		}
		zev.Str("path", e.Path).Err(e.Error).Msg(e.Message)
	case *events.TransferEvent:
		switch e.Type() {
		case events.EventTransferFailed:
			l.zlog.Error().Str("task", e.TaskID).Str("path", e.Path).Err(e.Error).Msg("upload failed")
		case events.EventTransferAborted:
			l.zlog.Warn().Str("task", e.TaskID).Str("path", e.Path).Msg("upload aborted")
		case events.EventTransferProgress:
			// progress is rendered by the progress bars
		default:
			l.zlog.Debug().Str("task", e.TaskID).Str("path", e.Path).Str("event", string(e.Type())).Msg("transfer")
		}
	case *events.OperationEvent:
		zev := l.zlog.Debug()
		if e.Error != nil {
			zev = l.zlog.Error()
		}
		zev.Str("op", e.Operation).Str("path", e.Path).Int("index", e.Index).Int("total", e.Total).
			Bool("halted", e.Halted).Err(e.Error).Msg(string(e.Type()))
	case *events.EditStateEvent:
		l.zlog.Debug().Str("path", e.Path).Str("from", e.OldState).Str("to", e.NewState).Msg("edit state")
	default:
		l.zlog.Debug().Str("event", string(ev.Type())).Msg("event")
	}
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
