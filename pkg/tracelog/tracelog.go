// Package tracelog implements the append-only text log calls are written to.
package tracelog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/blacktop/calltrace/pkg/probe"
)

// DefaultPath is the log file used when none is configured.
const DefaultPath = "calllog.log"

const targetBanner = "========= Target Module Loaded: "

// Log is a line oriented trace log. Every line is assembled first and then
// written with a single call while holding the lock, so lines from concurrent
// writers never interleave.
type Log struct {
	mu  sync.Mutex
	w   *bufio.Writer
	c   io.Closer
	buf []byte
}

// New returns a Log writing to w.
func New(w io.Writer) *Log {
	l := &Log{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		l.c = c
	}
	return l
}

// Create truncates or creates the file at path and returns a Log writing to it.
func Create(path string) (*Log, error) {
	if path == "" {
		path = DefaultPath
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace log %s: %w", path, err)
	}
	return New(f), nil
}

func (l *Log) writeLine(format string, args ...any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return os.ErrClosed
	}
	l.buf = fmt.Appendf(l.buf[:0], format, args...)
	l.buf = append(l.buf, '\n')
	_, err := l.w.Write(l.buf)
	return err
}

// ModuleLoaded writes the bare module name.
func (l *Log) ModuleLoaded(name string) error {
	return l.writeLine("%s", name)
}

// TargetLoaded writes the target module banner.
func (l *Log) TargetLoaded(base, top uint64) error {
	return l.writeLine(targetBanner+"%#x , %#x", base, top)
}

// Transfer writes one call event.
func (l *Log) Transfer(ev probe.TransferEvent) error {
	return l.writeLine("Original: %#x, Execution address: %#x, TargetAddr: %#x", ev.Original, ev.Normalized, ev.Target)
}

// Instruction writes a single-address trace event.
func (l *Log) Instruction(original, normalized uint64) error {
	return l.writeLine("Original: %#x, Execution address: %#x", original, normalized)
}

// Flush writes any buffered lines to the underlying writer.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	return l.w.Flush()
}

// Close flushes the log and closes the underlying writer if it is closable.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	err := l.w.Flush()
	l.w = nil
	if l.c != nil {
		if cerr := l.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var _ probe.Sink = (*Log)(nil)
