// Package logging configures the process-wide zerolog logger and hands out
// per-component child loggers.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names used as the "component" field.
const (
	CompServer  = "server"
	CompSession = "session"
	CompHub     = "hub"
	CompPTY     = "pty"
	CompWS      = "ws"
	CompHTTP    = "http"
	CompNotify  = "notify"
	CompDB      = "db"
	CompRecord  = "record"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string

	// Dev switches stderr output to the human-readable console writer.
	Dev bool

	// File, when set, also writes JSON logs to a rotated file.
	File string

	// MaxSizeMB is the max size in MB before rotation (default: 10)
	MaxSizeMB int

	// MaxBackups is rotated files to keep (default: 5)
	MaxBackups int

	// MaxAgeDays is days to keep rotated files (default: 10)
	MaxAgeDays int

	Compress bool
}

var (
	mu     sync.RWMutex
	base   = zerolog.New(os.Stderr).With().Timestamp().Logger()
	rotate *lumberjack.Logger
)

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LevelFromEnv returns "debug" when DEBUG is set to a truthy value.
func LevelFromEnv(fallback string) string {
	switch strings.ToLower(os.Getenv("DEBUG")) {
	case "1", "true", "yes":
		return "debug"
	}
	return fallback
}

// Init sets up the global logger. It is safe to call more than once; the
// previous log file, if any, is closed.
func Init(cfg Config) error {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 10
	}

	var console io.Writer = os.Stderr
	if cfg.Dev {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{console}
	var lj *lumberjack.Logger
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return err
		}
		lj = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, lj)
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	mu.Lock()
	old := rotate
	base = logger
	rotate = lj
	mu.Unlock()

	log.Logger = logger

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// SetOutput replaces the global writer. Tests use it to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = zerolog.New(w).With().Timestamp().Logger()
	log.Logger = base
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// For returns a child logger tagged with the component name. Call it after
// Init so the child picks up the configured writers.
func For(component string) zerolog.Logger {
	return Logger().With().Str("component", component).Logger()
}

// Close flushes and closes the rotated log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if rotate == nil {
		return nil
	}
	err := rotate.Close()
	rotate = nil
	return err
}
