// Package logging wraps stdlib log.Logger with level filtering driven by
// the logging_level config key (spec.md §6). The teacher logs through
// bare log.Printf in middleware/logging_middleware.go and
// server/server.go — no structured-logging library appears anywhere in
// the example pack for a component this shape, so this package keeps
// that texture rather than reaching for one (see DESIGN.md).
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Level is a logging_level value, ordered so a higher Level suppresses
// more output.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a logging_level config string (case-insensitive) to a
// Level, defaulting to LevelInfo for anything unrecognized.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger filters log.Logger output by level. The zero value is not
// usable; build one with New.
type Logger struct {
	min  Level
	base *log.Logger
}

// New builds a Logger writing to w, prefixed with name, that suppresses
// any message below min.
func New(w io.Writer, name string, min Level) *Logger {
	return &Logger{min: min, base: log.New(w, "["+name+"] ", log.LstdFlags)}
}

func (l *Logger) log(level Level, format string, args ...any) {
	if level < l.min {
		return
	}
	l.base.Output(3, level.String()+": "+fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, format, args...) }

// Std returns a *log.Logger view of this Logger at a fixed level, for
// handing to collaborators (stage.New, client.New, server.NewServer)
// that were grounded on the teacher's plain *log.Logger parameter and
// have no reason to take on a level-aware type of their own.
func (l *Logger) Std(level Level) *log.Logger {
	return log.New(stdWriter{l, level}, "", 0)
}

type stdWriter struct {
	l     *Logger
	level Level
}

func (w stdWriter) Write(p []byte) (int, error) {
	if w.level < w.l.min {
		return len(p), nil
	}
	w.l.base.Output(4, w.level.String()+": "+strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
