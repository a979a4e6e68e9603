// Package logging configures the application-wide zerolog logger.
//
// Console output uses zerolog's human-readable writer when stderr is a
// terminal; otherwise structured JSON is emitted so batch runs under cron or
// CI remain machine-parseable. An optional file sink can be layered on top.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Format selects the log output encoding.
const (
	FormatAuto    = "auto"
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config controls logger construction.
type Config struct {
	// Level is a zerolog level name ("debug", "info", ...). Invalid values
	// fall back to info.
	Level string

	// Format is one of FormatAuto, FormatConsole, FormatJSON.
	Format string

	// File, when non-empty, is a path that receives a JSON copy of every
	// log line in addition to the console/JSON stderr output.
	File string
}

// Result holds the constructed logger plus the file handle that must be
// closed when the process exits.
type Result struct {
	Logger    zerolog.Logger
	FilePath  string
	UsingFile bool

	file *os.File
}

// Close releases the log file handle, if any.
func (r *Result) Close() {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// New builds a logger from cfg. Errors opening the log file are returned,
// never swallowed: a batch run that silently loses its log trail is worse
// than one that fails fast.
func New(cfg Config) (Result, error) {
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		lvl = zerolog.InfoLevel
	}

	format := cfg.Format
	if format == "" || format == FormatAuto {
		if isTerminal(os.Stderr) {
			format = FormatConsole
		} else {
			format = FormatJSON
		}
	}

	var writers []io.Writer
	if format == FormatConsole {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	} else {
		writers = append(writers, os.Stderr)
	}

	result := Result{}
	if cfg.File != "" {
		if mkErr := os.MkdirAll(filepath.Dir(cfg.File), 0750); mkErr != nil {
			return Result{}, fmt.Errorf("failed to create log directory: %w", mkErr)
		}
		f, openErr := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if openErr != nil {
			return Result{}, fmt.Errorf("failed to open log file: %w", openErr)
		}
		result.file = f
		result.FilePath = cfg.File
		result.UsingFile = true
		writers = append(writers, f)
	}

	result.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	return result, nil
}

// Component returns a child logger tagged with a component name, so log
// lines can be filtered per subsystem.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
