//go:build !(linux && amd64)

package ptrace

import (
	"context"

	"github.com/blacktop/calltrace/pkg/probe"
)

// Trace is not available on this platform.
func Trace(ctx context.Context, tool probe.Tool, conf *Config, argv []string) (int, error) {
	return -1, ErrUnsupportedPlatform
}
