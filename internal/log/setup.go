// Package log configures the process-wide zerolog logger.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects level and sinks
type Options struct {
	Level   string `yaml:"level"`   // Default: info
	File    string `yaml:"file"`    // rolling file path; empty disables
	Console *bool  `yaml:"console"` // nil means auto-detect a TTY on stderr

	MaxSizeMB  int `yaml:"max_size_mb"` // Default: 50
	MaxBackups int `yaml:"max_backups"` // Default: 5
	MaxAgeDays int `yaml:"max_age_days"` // Default: 14
}

// Setup builds the logger described by opts and installs it as the global logger
func Setup(opts Options, stderr io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	if stderr == nil {
		stderr = os.Stderr
	}

	console := isTerminal(stderr)
	if opts.Console != nil {
		console = *opts.Console
	}

	var primary io.Writer = stderr
	if console {
		primary = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{primary}
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		roll := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 14),
			Compress:   true,
		}
		writers = append(writers, roll)
		closer = roll
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Str("service", "tradecore").
		Logger()

	log.Logger = logger
	zerolog.SetGlobalLevel(level)
	return logger, closer, nil
}

// ParseLevel maps a level name to zerolog, defaulting to info
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
