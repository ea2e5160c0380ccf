package ptrace

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/blacktop/calltrace/pkg/probe"
)

// Mapping is one line of /proc/<pid>/maps.
type Mapping struct {
	Low    uint64
	High   uint64
	Perms  string
	Offset uint64
	Path   string
}

// Exec reports whether the mapping is executable.
func (m Mapping) Exec() bool {
	return len(m.Perms) >= 3 && m.Perms[2] == 'x'
}

// FileBacked reports whether the mapping comes from a file on disk (as
// opposed to anonymous memory, [stack], [vdso] and friends).
func (m Mapping) FileBacked() bool {
	return strings.HasPrefix(m.Path, "/")
}

func (m Mapping) String() string {
	return fmt.Sprintf("%#x-%#x %s %#x %s", m.Low, m.High, m.Perms, m.Offset, m.Path)
}

// ParseMaps parses the contents of a /proc/<pid>/maps file.
func ParseMaps(r io.Reader) ([]Mapping, error) {
	var maps []Mapping

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		m, err := parseMapping(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		maps = append(maps, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read maps: %w", err)
	}

	return maps, nil
}

// 7f3c1a000000-7f3c1a022000 r-xp 00000000 08:01 1311 /usr/lib/libc.so.6
func parseMapping(line string) (Mapping, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Mapping{}, fmt.Errorf("malformed mapping %q", line)
	}

	low, high, ok := strings.Cut(fields[0], "-")
	if !ok {
		return Mapping{}, fmt.Errorf("malformed address range %q", fields[0])
	}

	var (
		m   Mapping
		err error
	)
	if m.Low, err = strconv.ParseUint(low, 16, 64); err != nil {
		return Mapping{}, fmt.Errorf("bad start address %q: %w", low, err)
	}
	if m.High, err = strconv.ParseUint(high, 16, 64); err != nil {
		return Mapping{}, fmt.Errorf("bad end address %q: %w", high, err)
	}
	if m.Offset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
		return Mapping{}, fmt.Errorf("bad offset %q: %w", fields[2], err)
	}
	m.Perms = fields[1]

	if len(fields) > 5 {
		// paths may contain spaces
		m.Path = strings.Join(fields[5:], " ")
	}

	return m, nil
}

// Modules folds the file-backed mappings into one module per path that has at
// least one executable mapping, spanning the lowest to the highest address
// mapped from that file. Modules are sorted by load address.
func Modules(maps []Mapping) []probe.Module {
	spans := make(map[string]*probe.Module)
	exec := make(map[string]bool)

	for _, m := range maps {
		if !m.FileBacked() {
			continue
		}
		if m.Exec() {
			exec[m.Path] = true
		}
		s, ok := spans[m.Path]
		if !ok {
			spans[m.Path] = &probe.Module{Name: m.Path, Low: m.Low, High: m.High}
			continue
		}
		s.Low = min(s.Low, m.Low)
		s.High = max(s.High, m.High)
	}

	var mods []probe.Module
	for path, s := range spans {
		if exec[path] {
			mods = append(mods, *s)
		}
	}
	sort.Slice(mods, func(i, j int) bool {
		return mods[i].Low < mods[j].Low
	})

	return mods
}

// moduleTracker remembers which modules were already reported.
type moduleTracker struct {
	seen map[string]probe.Module
}

func newModuleTracker() *moduleTracker {
	return &moduleTracker{seen: make(map[string]probe.Module)}
}

// update returns the modules that appeared since the last call, and whether a
// previously reported module went away. A module that is unmapped and mapped
// again is reported again.
func (t *moduleTracker) update(maps []Mapping) (added []probe.Module, removed bool) {
	current := make(map[string]probe.Module)
	for _, m := range Modules(maps) {
		current[m.Name] = m
		if _, ok := t.seen[m.Name]; !ok {
			added = append(added, m)
		}
	}
	for name := range t.seen {
		if _, ok := current[name]; !ok {
			removed = true
		}
	}
	t.seen = current
	return added, removed
}
