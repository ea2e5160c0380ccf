// Package host contains the instrumentation logic shared by the concrete
// hosts: discovering each instruction once, asking the probe whether it needs a
// hook and firing that hook before every execution.
package host

import (
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/calltrace/pkg/disass"
	"github.com/blacktop/calltrace/pkg/probe"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of discovered instructions kept per host.
const DefaultCacheSize = 1 << 16

// Config is a dispatcher configuration object
type Config struct {
	Arch      disass.Arch
	CacheSize int
	Verbose   bool
}

type entry struct {
	ins  *disass.Instruction
	hook *probe.HookRequest
}

// Dispatcher keeps the code cache of a host. An instruction that falls out of
// the cache is discovered again the next time it executes. A Dispatcher is
// driven from a single goroutine.
type Dispatcher struct {
	tool  probe.Tool
	conf  *Config
	cache *lru.Cache[uint64, *entry]

	discovered uint64
	executed   uint64
	fired      uint64
}

// NewDispatcher creates a new dispatcher driving tool.
func NewDispatcher(tool probe.Tool, conf *Config) (*Dispatcher, error) {
	if conf.Arch.MaxLen() == 0 {
		return nil, fmt.Errorf("%w: %q", disass.ErrUnsupportedArch, conf.Arch)
	}
	size := conf.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[uint64, *entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create instruction cache: %v", err)
	}
	return &Dispatcher{
		tool:  tool,
		conf:  conf,
		cache: cache,
	}, nil
}

// Step must be called right before the instruction at pc executes. It returns
// the decoded instruction, or nil if the bytes at pc could not be decoded.
func (d *Dispatcher) Step(pc uint64, regs disass.RegisterReader, mem disass.MemoryReader) (*disass.Instruction, error) {
	d.executed++

	e, ok := d.cache.Get(pc)
	if !ok {
		if e = d.discover(pc, mem); e == nil {
			return nil, nil
		}
		d.cache.Add(pc, e)
	}
	if e.hook == nil {
		return e.ins, nil
	}

	d.fired++

	// calls and branches on the supported architectures are never
	// predicated, reaching this point means the instruction will run
	const predicate = true

	switch e.hook.Kind {
	case probe.HookCallStatic:
		return e.ins, d.tool.Record(pc, e.hook.Target, predicate)
	case probe.HookCallDynamic:
		target, err := e.ins.ResolveTarget(regs, mem)
		if err != nil {
			log.WithError(err).WithField("pc", fmt.Sprintf("%#x", pc)).Warn("Failed to resolve call target")
			return e.ins, nil
		}
		return e.ins, d.tool.Record(pc, target, predicate)
	case probe.HookTrace:
		return e.ins, d.tool.TraceInstruction(pc, predicate)
	default:
		return e.ins, fmt.Errorf("unknown hook kind %s at %#x", e.hook.Kind, pc)
	}
}

// discover decodes and classifies the instruction at pc. It returns nil when
// the bytes cannot be read or decoded yet; nothing is cached in that case so
// the instruction is retried on its next execution.
func (d *Dispatcher) discover(pc uint64, mem disass.MemoryReader) *entry {
	code := make([]byte, d.conf.Arch.MaxLen())
	n, err := mem.ReadMemory(code, pc)
	if n == 0 {
		log.WithError(err).WithField("pc", fmt.Sprintf("%#x", pc)).Debug("Failed to read instruction")
		return nil
	}

	ins, err := disass.Decode(d.conf.Arch, code[:n], pc)
	if err != nil {
		log.WithError(err).Debug("Skipping undecodable instruction")
		return nil
	}

	d.discovered++
	e := &entry{ins: ins, hook: d.tool.OnInstruction(ins)}
	if d.conf.Verbose && e.hook != nil {
		log.Debugf("%s ; hook=%s", ins.Colored(), e.hook.Kind)
	}
	return e
}

// Invalidate drops every discovered instruction, e.g. after code was unmapped.
func (d *Dispatcher) Invalidate() {
	d.cache.Purge()
}

// Stats returns the number of discovered instructions, executed instructions
// and fired hooks.
func (d *Dispatcher) Stats() (discovered, executed, fired uint64) {
	return d.discovered, d.executed, d.fired
}
