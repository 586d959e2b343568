package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/fluxdash/internal/errors"
	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
)

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// ParseLevel maps a configured level name to a LogLevel. Unknown names map to InfoLevel.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(name) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init initializes the global logger
func Init(level LogLevel, isService bool) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	mu.Lock()
	log = zerolog.New(output).With().Timestamp().Logger()
	mu.Unlock()

	SetLogLevel(level)
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

type zeroLogger struct {
	l zerolog.Logger
}

// Default returns a Logger backed by the global logger configured through Init
func Default() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &zeroLogger{l: log}
}

// New returns a Logger writing JSON lines to w, independent of the global logger
func New(w io.Writer) Logger {
	return &zeroLogger{l: zerolog.New(w).With().Timestamp().Logger()}
}

// Nop returns a Logger that discards everything
func Nop() Logger {
	return &zeroLogger{l: zerolog.Nop()}
}

func (z *zeroLogger) Debug() *LogEvent { return &LogEvent{z.l.Debug()} }
func (z *zeroLogger) Info() *LogEvent  { return &LogEvent{z.l.Info()} }
func (z *zeroLogger) Warn() *LogEvent  { return &LogEvent{z.l.Warn()} }
func (z *zeroLogger) Error() *LogEvent { return &LogEvent{z.l.Error()} }

func (z *zeroLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return withCode(z.l.Error(), err)
}

func (z *zeroLogger) With(component string) Logger {
	return &zeroLogger{l: z.l.With().Str("component", component).Logger()}
}

func withCode(ev *zerolog.Event, err errors.Error) *LogEvent {
	return &LogEvent{ev.
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

func global() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debug logs a debug message
func Debug() *LogEvent {
	l := global()
	return &LogEvent{l.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	l := global()
	return &LogEvent{l.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	l := global()
	return &LogEvent{l.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	l := global()
	return &LogEvent{l.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	l := global()
	return withCode(l.Error(), err)
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	l := global()
	return &LogEvent{l.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	l := global()
	return withCode(l.Fatal(), err)
}
