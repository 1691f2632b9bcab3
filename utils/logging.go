package utils

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps logrus with the structured fields the sink pipeline
// attaches to its log lines.
type Logger struct {
	*logrus.Logger
}

// NewLogger builds a Logger that writes to stdout and, if configured, a
// rotating log file.
func NewLogger(config *Config) (*Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if config.LogFilePath == "" {
		return &Logger{Logger: logger}, nil
	}

	logDir := filepath.Dir(config.LogFilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	fileLogger := &lumberjack.Logger{
		Filename:   config.LogFilePath,
		MaxSize:    100, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	multiWriter := io.MultiWriter(os.Stdout, fileLogger)
	logger.SetOutput(multiWriter)

	return &Logger{Logger: logger}, nil
}

// WithRequestID tags a log entry with the request's sequence/UUID handle.
func (l *Logger) WithRequestID(id string) *logrus.Entry {
	return l.WithField("request_id", id)
}

// WithSink tags a log entry with the owning sink's name.
func (l *Logger) WithSink(name string) *logrus.Entry {
	return l.WithField("sink", name)
}

// WithComponent tags a log entry with the pipeline component emitting it.
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.WithField("component", component)
}
