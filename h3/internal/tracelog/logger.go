// Package tracelog is a small reimplementation of quic-go's internal
// leveled logger (internal/utils.Logger). That package is internal to
// quic-go and cannot be imported from outside the module, so this
// package reproduces its surface — level-gated Debugf/Infof/Errorf and
// a WithPrefix prefix chain writing to an io.Writer — in the same
// idiom, rather than reaching for a generic structured-logging
// framework the teacher never used.
package tracelog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is a logging verbosity level, ordered the same way quic-go's
// does: debug is the most verbose, nothing is the least.
type Level int

const (
	LevelNothing Level = iota
	LevelError
	LevelInfo
	LevelDebug
)

// Logger is the logging surface h3 and netloop depend on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithPrefix(prefix string) Logger
}

type logger struct {
	mu     *sync.Mutex
	out    io.Writer
	level  Level
	prefix string
}

// New creates a Logger writing to out at the given level. A nil out
// defaults to os.Stderr.
func New(out io.Writer, level Level) Logger {
	if out == nil {
		out = os.Stderr
	}
	return &logger{mu: &sync.Mutex{}, out: out, level: level}
}

// WithPrefix returns a Logger that nests prefix under this one's,
// joined by "/", mirroring quic-go's connection/stream prefix chains
// (e.g. "conn 1a2b3c/stream 4").
func (l *logger) WithPrefix(prefix string) Logger {
	p := prefix
	if l.prefix != "" {
		p = l.prefix + "/" + prefix
	}
	return &logger{mu: l.mu, out: l.out, level: l.level, prefix: p}
}

func (l *logger) logf(level Level, format string, args ...interface{}) {
	if l.level < level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	if l.prefix != "" {
		fmt.Fprintf(l.out, "%s %s: %s\n", ts, l.prefix, msg)
	} else {
		fmt.Fprintf(l.out, "%s %s\n", ts, msg)
	}
}

func (l *logger) Debugf(format string, args ...interface{}) { l.logf(LevelDebug, format, args...) }
func (l *logger) Infof(format string, args ...interface{})  { l.logf(LevelInfo, format, args...) }
func (l *logger) Errorf(format string, args ...interface{}) { l.logf(LevelError, format, args...) }

// NopLogger discards everything; it is the default when no Logger is
// configured.
var NopLogger Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{})  {}
func (nopLogger) Infof(string, ...interface{})   {}
func (nopLogger) Errorf(string, ...interface{})  {}
func (nopLogger) WithPrefix(string) Logger       { return nopLogger{} }
