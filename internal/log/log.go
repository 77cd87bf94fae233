// Package log provides the structured logger interface used throughout
// jetcash. It mirrors the teacher pack's libs/log.Logger shape so that
// every component takes a Logger rather than writing to a global one.
package log

import (
	"fmt"
	"io"
	"os"

	kitlog "github.com/go-kit/kit/log"
)

// Logger is what any jetcash package should take.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})

	With(keyvals ...interface{}) Logger
}

type kitLogger struct {
	kl kitlog.Logger
}

// NewLogger returns a Logger that writes leveled, key-value log lines to w.
func NewLogger(w io.Writer) Logger {
	kl := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	kl = kitlog.With(kl, "ts", kitlog.DefaultTimestampUTC)
	return &kitLogger{kl: kl}
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return &kitLogger{kl: kitlog.NewNopLogger()}
}

// NewStdoutLogger is the default logger used by cmd/jetcashd.
func NewStdoutLogger() Logger {
	return NewLogger(os.Stdout)
}

func (l *kitLogger) Debug(msg string, keyvals ...interface{}) {
	l.log("debug", msg, keyvals...)
}

func (l *kitLogger) Info(msg string, keyvals ...interface{}) {
	l.log("info", msg, keyvals...)
}

func (l *kitLogger) Error(msg string, keyvals ...interface{}) {
	l.log("error", msg, keyvals...)
}

func (l *kitLogger) With(keyvals ...interface{}) Logger {
	return &kitLogger{kl: kitlog.With(l.kl, keyvals...)}
}

func (l *kitLogger) log(level, msg string, keyvals ...interface{}) {
	args := append([]interface{}{"level", level, "msg", msg}, keyvals...)
	if err := l.kl.Log(args...); err != nil {
		fmt.Fprintf(os.Stderr, "log error: %v\n", err)
	}
}
