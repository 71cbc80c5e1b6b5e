// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Options controls New.
type Options struct {
	Level string
	// Console forces the human-readable writer. Nil means auto-detect: the
	// console writer is used when the output is a terminal and NO_COLOR is
	// unset.
	Console *bool
	Output  io.Writer
}

// ParseLevel maps debug|info|warn|error (case-insensitive) to a zerolog
// level. Unknown names fall back to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func New(opt Options) zerolog.Logger {
	out := opt.Output
	if out == nil {
		out = os.Stderr
	}
	console := isTerminal(out) && os.Getenv("NO_COLOR") == ""
	if opt.Console != nil {
		console = *opt.Console
	}
	if console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly, NoColor: !isTerminal(out)}
	}
	return zerolog.New(out).Level(ParseLevel(opt.Level)).With().Timestamp().Logger()
}

// Component tags a child logger.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
