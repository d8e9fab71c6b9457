package log

import (
	"io"
	"os"

	"github.com/op/go-logging"
)

type Level logging.Level

// The levels that can be set via Config.
const (
	Debug Level = iota
	Info
	Notice
	Warning
	Error
)

// The logger format
var format = logging.MustStringFormatter(
	`%{color}[%{time:15:04:05.000}] [%{module}] [%{level}]%{color:reset} %{message}`,
)

// The logger interface
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})

	Notice(v ...interface{})
	Noticef(format string, v ...interface{})

	Info(v ...interface{})
	Infof(format string, v ...interface{})

	Warning(v ...interface{})
	Warningf(format string, v ...interface{})

	Error(v ...interface{})
	Errorf(format string, v ...interface{})
}

// Logging configuration. Verbosity is an explicit setting supplied by the
// entry point rather than a process-wide enable flag; components receive
// Logger values through their constructors.
type Config struct {
	// Minimum emitted level.
	Level Level

	// Output sink. Defaults to stdout when nil.
	Sink io.Writer
}

// Apply a logging configuration.
func Setup(cfg Config) {
	sink := cfg.Sink
	if sink == nil {
		sink = os.Stdout
	}

	backend := logging.NewLogBackend(sink, "", 0)
	backendWithFormatter := logging.NewBackendFormatter(backend, format)
	leveledBackend := logging.AddModuleLevel(backendWithFormatter)
	leveledBackend.SetLevel(toBackendLevel(cfg.Level), "")
	logging.SetBackend(leveledBackend)
}

// Create a new named logger.
func New(name string) Logger {
	return logging.MustGetLogger(name)
}

// A logger that drops everything. Used as the default when a component is
// constructed without an explicit logger.
func Nop() Logger {
	return nopLogger{}
}

func toBackendLevel(level Level) logging.Level {
	switch level {
	case Debug:
		return logging.DEBUG
	case Info:
		return logging.INFO
	case Notice:
		return logging.NOTICE
	case Warning:
		return logging.WARNING
	case Error:
		return logging.ERROR
	}
	return logging.NOTICE
}

type nopLogger struct{}

func (nopLogger) Debug(v ...interface{})                   {}
func (nopLogger) Debugf(format string, v ...interface{})   {}
func (nopLogger) Notice(v ...interface{})                  {}
func (nopLogger) Noticef(format string, v ...interface{})  {}
func (nopLogger) Info(v ...interface{})                    {}
func (nopLogger) Infof(format string, v ...interface{})    {}
func (nopLogger) Warning(v ...interface{})                 {}
func (nopLogger) Warningf(format string, v ...interface{}) {}
func (nopLogger) Error(v ...interface{})                   {}
func (nopLogger) Errorf(format string, v ...interface{})   {}

func init() {
	Setup(Config{Level: Notice})
}
