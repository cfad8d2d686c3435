// Package logging configures the global zerolog logger for Converse.
// All packages log through the zerolog global (log.Info().Msg(...)), so
// configuration here applies process-wide. Console output can be disabled
// when a presentation shell owns the terminal.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config configures logger behavior.
type Config struct {
	Level    string // debug, info, warn, error
	FilePath string // Optional file path for persistent logs
	Colored  bool   // Enable colored console output
	Console  bool   // Write to stderr in addition to the file
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:   "info",
		Colored: true,
		Console: true,
	}
}

// Setup applies the configuration to the global zerolog logger.
// It returns a closer for the log file, if one was opened.
func Setup(cfg *Config) (io.Closer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    !cfg.Colored,
			TimeFormat: "15:04:05.000",
		})
	}

	var file *os.File
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		writers = append(writers, f)
	}

	switch len(writers) {
	case 0:
		log.Logger = zerolog.Nop()
	case 1:
		log.Logger = zerolog.New(writers[0]).With().Timestamp().Logger()
	default:
		log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	}

	if file != nil {
		return file, nil
	}
	return nopCloser{}, nil
}

// DisableConsoleOutput routes all logging to io.Discard. Presentation shells
// call this before taking over the terminal.
func DisableConsoleOutput() {
	log.Logger = zerolog.New(io.Discard)
}

// ParseLevel parses a string into a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
