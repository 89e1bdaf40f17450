package logger

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu  sync.Mutex
	log = logrus.New()
)

// Config controls the process-wide logger.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string
	// OutputFile enables rotating file output alongside stderr; empty
	// logs to stderr only.
	OutputFile string
	// MaxSizeMB caps one log file before rotation (default 100).
	MaxSizeMB int
	// MaxBackups is how many rotated files to keep (default 5).
	MaxBackups int
	// MaxAgeDays drops rotated files older than this (default 14).
	MaxAgeDays int
	// Compress gzips rotated files.
	Compress bool
}

// Init configures the process logger. Safe to call again on config reload.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
	})

	if cfg.OutputFile == "" {
		log.SetOutput(os.Stderr)
		return nil
	}

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 14
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.OutputFile,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return nil
}

// L returns the process logger.
func L() *logrus.Logger {
	return log
}

// Component returns an entry tagged with the owning component, the form
// every package logs through.
func Component(name string) *logrus.Entry {
	return log.WithField("component", name)
}
