package probe

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
)

// Config is a probe configuration object
type Config struct {
	// Target is matched as a substring of every mapped module name.
	Target string
	// TraceAll enables the single-address hook on every in-range instruction
	// that is not a call.
	TraceAll bool
}

// Probe is the process scoped tracing context shared by all host callbacks.
type Probe struct {
	conf *Config
	sink Sink

	rng atomic.Pointer[AddressRange]

	modules   atomic.Uint64
	hooks     atomic.Uint64
	transfers atomic.Uint64
	traced    atomic.Uint64
}

// New creates a new probe writing to sink
func New(conf *Config, sink Sink) (*Probe, error) {
	if conf == nil || conf.Target == "" {
		return nil, fmt.Errorf("probe: target module name must not be empty")
	}
	if sink == nil {
		return nil, fmt.Errorf("probe: nil sink")
	}
	return &Probe{
		conf: conf,
		sink: sink,
	}, nil
}

// Range returns a snapshot of the target module range.
func (p *Probe) Range() AddressRange {
	if r := p.rng.Load(); r != nil {
		return *r
	}
	return AddressRange{}
}

// OnModuleMapped records the module name and, on the first module whose name
// contains the configured target, captures its address range.
func (p *Probe) OnModuleMapped(m Module) error {
	p.modules.Add(1)

	if err := p.sink.ModuleLoaded(m.Name); err != nil {
		return fmt.Errorf("failed to log module %s: %w", m.Name, err)
	}

	if !strings.Contains(m.Name, p.conf.Target) {
		return nil
	}
	if m.Low >= m.High {
		log.WithField("module", m.String()).Warn("Ignoring target module with empty range")
		return nil
	}

	r := &AddressRange{Base: m.Low, Top: m.High, Loaded: true}
	if !p.rng.CompareAndSwap(nil, r) {
		log.WithField("module", m.String()).Debug("Target module already loaded, keeping first range")
		return nil
	}

	log.WithFields(log.Fields{
		"name": m.Name,
		"base": fmt.Sprintf("%#x", r.Base),
		"top":  fmt.Sprintf("%#x", r.Top),
		"size": humanize.Bytes(r.Size()),
	}).Debug("Target module loaded")

	if err := p.sink.TargetLoaded(r.Base, r.Top); err != nil {
		return fmt.Errorf("failed to log target module range: %w", err)
	}
	return nil
}

// OnInstruction decides whether ins needs a runtime hook. It returns nil when
// the instruction is left uninstrumented.
func (p *Probe) OnInstruction(ins Instruction) *HookRequest {
	r := p.rng.Load()
	if r == nil || ins == nil {
		return nil
	}

	addr := ins.Address()
	if !r.Contains(addr) {
		return nil
	}

	var req *HookRequest
	switch {
	case ins.IsCall() && ins.IsDirectCall():
		req = &HookRequest{Address: addr, Kind: HookCallStatic, Target: ins.DirectTarget()}
	case ins.IsCall() && ins.IsIndirectBranchOrCall():
		req = &HookRequest{Address: addr, Kind: HookCallDynamic}
	case p.conf.TraceAll && !ins.IsCall():
		req = &HookRequest{Address: addr, Kind: HookTrace}
	default:
		return nil
	}

	p.hooks.Add(1)
	return req
}

// Record is the runtime hook for calls. It must be invoked before the call at
// pc executes; predicate carries the outcome of the instruction's condition.
func (p *Probe) Record(pc, target uint64, predicate bool) error {
	if !predicate {
		return nil
	}
	r := p.rng.Load()
	if r == nil || !r.Contains(pc) {
		return nil
	}

	ev := TransferEvent{
		Original:   pc,
		Normalized: r.Rebase(pc),
		Target:     target,
	}
	if r.Contains(target) {
		ev.Target = r.Rebase(target)
	}

	p.transfers.Add(1)
	return p.sink.Transfer(ev)
}

// TraceInstruction is the single-address runtime hook.
func (p *Probe) TraceInstruction(pc uint64, predicate bool) error {
	if !predicate {
		return nil
	}
	r := p.rng.Load()
	if r == nil || !r.Contains(pc) {
		return nil
	}
	p.traced.Add(1)
	return p.sink.Instruction(pc, r.Rebase(pc))
}

// Fini is called once when the traced process exits.
func (p *Probe) Fini(code int) error {
	log.WithFields(log.Fields{
		"exit_code": code,
		"modules":   p.modules.Load(),
		"hooks":     p.hooks.Load(),
		"calls":     p.transfers.Load(),
		"traced":    p.traced.Load(),
	}).Debug("Probe finished")
	return p.sink.Flush()
}

var _ Tool = (*Probe)(nil)
