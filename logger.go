package natsgo

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the structured logging interface threaded through Conn,
// Client, and each handler-less subscription's Queue; the jetstream and
// micro subpackages do not log. The library is silent by
// default (NopLogger); callers opt into output with WithLogger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// NopLogger discards everything. Apply and NewClient substitute it
// when no Logger is configured.
var NopLogger Logger = nopLogger{}

// ZeroLogger adapts a zerolog.Logger to the Logger interface.
type ZeroLogger struct {
	logger zerolog.Logger
}

// NewZeroLogger wraps l as a natsgo Logger.
func NewZeroLogger(l zerolog.Logger) ZeroLogger {
	return ZeroLogger{logger: l}
}

// NewDefaultLogger returns a ZeroLogger writing timestamped entries to
// stderr with no minimum level set, so Debugf output is written too,
// like the debug default of gonatsd's NewLogger on the broker side.
func NewDefaultLogger() ZeroLogger {
	return NewZeroLogger(zerolog.New(os.Stderr).With().Timestamp().Logger())
}

func (l ZeroLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l ZeroLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l ZeroLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l ZeroLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

var _ Logger = ZeroLogger{}
