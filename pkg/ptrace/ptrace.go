// Package ptrace is a single-step instrumentation host for native processes.
//
// The traced program is started stopped, every thread is stepped one
// instruction at a time and each instruction address is discovered once. The
// loaded modules are read from /proc/<pid>/maps at start and after every
// instruction that entered the kernel.
package ptrace

import "errors"

// ErrUnsupportedPlatform is returned by Trace on platforms without a host.
var ErrUnsupportedPlatform = errors.New("ptrace host is only supported on linux/amd64")

// Config is a ptrace host configuration object
type Config struct {
	// CacheSize is the number of discovered instructions to keep.
	CacheSize int
	// Verbose logs every hooked instruction when it is discovered.
	Verbose bool
}
