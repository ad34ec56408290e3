package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is silent until Init is called, so packages can log from tests.
var Logger = zerolog.Nop()

// Init configures the process logger. level is one of debug, info, warn, error;
// json switches from the console writer to plain JSON lines.
func Init(serviceName, level string, json bool) {
	var logLevel zerolog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	if json {
		out = os.Stderr
	}

	zerolog.SetGlobalLevel(logLevel)
	Logger = zerolog.New(out).
		With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}

func WithJobID(jobID string) *zerolog.Logger {
	l := Logger.With().Str("job_id", jobID).Logger()
	return &l
}

func WithCorrelationID(correlationID string) *zerolog.Logger {
	l := Logger.With().Str("correlation_id", correlationID).Logger()
	return &l
}

// WithWorker tags log lines from one worker goroutine.
func WithWorker(workerID int) *zerolog.Logger {
	l := Logger.With().Int("worker_id", workerID).Logger()
	return &l
}
