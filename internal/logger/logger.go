package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the log level
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// Config represents logger configuration
type Config struct {
	Level LogLevel
	// Pretty enables the human-readable console writer instead of JSON lines.
	Pretty bool
	// Output defaults to os.Stdout
	Output io.Writer
}

var defaultLogger zerolog.Logger

// Configure installs the process-wide logger and returns it for injection.
func Configure(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339

	switch cfg.Level {
	case DebugLevel:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case WarnLevel:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case ErrorLevel:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	var w io.Writer = cfg.Output
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.RFC3339}
	}
	defaultLogger = zerolog.New(w).With().Timestamp().Logger()
	log.Logger = defaultLogger
	return defaultLogger
}

func Debug() *zerolog.Event { return defaultLogger.Debug() }
func Info() *zerolog.Event { return defaultLogger.Info() }
func Warn() *zerolog.Event { return defaultLogger.Warn() }
func Error() *zerolog.Event { return defaultLogger.Error() }
func Fatal() *zerolog.Event { return defaultLogger.Fatal() }

// WithComponent returns a child logger tagged with the component name.
func WithComponent(name string) zerolog.Logger {
	return defaultLogger.With().Str("component", name).Logger()
}

func init() {
	Configure(Config{Level: InfoLevel, Pretty: true, Output: os.Stdout})
}
