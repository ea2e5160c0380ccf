package tracelog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blacktop/calltrace/pkg/probe"
	"golang.org/x/sync/errgroup"
)

func TestLogFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	if err := l.ModuleLoaded("/usr/lib/libtarget.so"); err != nil {
		t.Fatal(err)
	}
	if err := l.TargetLoaded(0x1000, 0x2000); err != nil {
		t.Fatal(err)
	}
	if err := l.Transfer(probe.TransferEvent{Original: 0x1500, Normalized: 0x10000500, Target: 0x9999}); err != nil {
		t.Fatal(err)
	}
	if err := l.Instruction(0x1504, 0x10000504); err != nil {
		t.Fatal(err)
	}
	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}

	want := "/usr/lib/libtarget.so\n" +
		"========= Target Module Loaded: 0x1000 , 0x2000\n" +
		"Original: 0x1500, Execution address: 0x10000500, TargetAddr: 0x9999\n" +
		"Original: 0x1504, Execution address: 0x10000504\n"
	if got := buf.String(); got != want {
		t.Errorf("log mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestCreateUnwritablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "calllog.log")
	if _, err := Create(path); err == nil {
		t.Fatalf("expected error creating %s", path)
	}
}

func TestCreateAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calllog.log")
	l, err := Create(path)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := l.ModuleLoaded("a.out"); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := l.ModuleLoaded("late"); err == nil {
		t.Errorf("expected write after Close to fail")
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a.out\n" {
		t.Errorf("got %q, want %q", data, "a.out\n")
	}
}

func TestConcurrentWritersDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	const writers = 8
	const perWriter = 500

	var g errgroup.Group
	for w := range writers {
		g.Go(func() error {
			for i := range perWriter {
				pc := uint64(0x1000 + w*perWriter + i)
				if err := l.Transfer(probe.TransferEvent{Original: pc, Normalized: pc, Target: pc}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != writers*perWriter {
		t.Fatalf("got %d lines, want %d", len(lines), writers*perWriter)
	}
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		var a, b, c uint64
		if _, err := fmt.Sscanf(line, "Original: %v, Execution address: %v, TargetAddr: %v", &a, &b, &c); err != nil {
			t.Fatalf("malformed line %q: %v", line, err)
		}
		if a != b || b != c {
			t.Fatalf("garbled line %q", line)
		}
		if seen[line] {
			t.Fatalf("duplicate line %q", line)
		}
		seen[line] = true
	}
}
