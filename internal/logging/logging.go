// Package logging builds the per-component loggers used across tasksync.
//
// Every component takes a plain *log.Logger whose prefix names it, for
// example "[sync] ". Output goes to stderr, optionally duplicated into a
// size-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the log sink.
type Options struct {
	// File, when set, receives a copy of all output and is rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Quiet drops console output. The file, if any, still receives logs.
	Quiet bool

	// Console defaults to os.Stderr.
	Console io.Writer

	// Flags are the log.Logger flags (default: log.LstdFlags; negative
	// means none).
	Flags int
}

// Factory hands out component loggers sharing one sink.
type Factory struct {
	out    io.Writer
	flags  int
	rotate *lumberjack.Logger
}

// Setup creates the sink described by opts.
func Setup(opts Options) (*Factory, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	if opts.Quiet {
		console = io.Discard
	}
	flags := opts.Flags
	switch {
	case flags == 0:
		flags = log.LstdFlags
	case flags < 0:
		flags = 0
	}

	f := &Factory{out: console, flags: flags}
	if opts.File == "" {
		return f, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, err
	}
	f.rotate = &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	if opts.Quiet {
		f.out = f.rotate
	} else {
		f.out = io.MultiWriter(console, f.rotate)
	}
	return f, nil
}

// New returns a logger prefixed with "[component] ".
func (f *Factory) New(component string) *log.Logger {
	return log.New(f.out, "["+component+"] ", f.flags)
}

// Writer returns the shared sink.
func (f *Factory) Writer() io.Writer {
	return f.out
}

// Rotate closes the current log file and opens a new one.
func (f *Factory) Rotate() error {
	if f.rotate == nil {
		return nil
	}
	return f.rotate.Rotate()
}

// Close releases the log file.
func (f *Factory) Close() error {
	if f.rotate == nil {
		return nil
	}
	return f.rotate.Close()
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
