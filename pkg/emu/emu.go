//go:build unicorn

package emu

import (
	"errors"
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/calltrace/pkg/disass"
	"github.com/blacktop/calltrace/pkg/host"
	"github.com/blacktop/calltrace/pkg/probe"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

const (
	STACK_BASE  = 0x60000000
	STACK_GUARD = STACK_BASE + 0x1000
	STACK_DATA  = STACK_GUARD + 0x1000
	STACK_SIZE  = 0x800000

	// returning to this address ends the emulation
	exitAddress = 0x4000000f4000
)

// ErrSyscall is reported when the emulated code enters the kernel.
var ErrSyscall = errors.New("system calls are not emulated")

// Config is a emulation configuration object
type Config struct {
	// Arch is required for raw code and selects the slice of universal binaries.
	Arch disass.Arch
	// Count stops the emulation after this many instructions (0 is unlimited).
	Count     uint64
	CacheSize int
	Verbose   bool
}

// Emulation is a unicorn instrumentation host
type Emulation struct {
	mu   uc.Unicorn
	conf *Config
	arch disass.Arch
	tool probe.Tool
	disp *host.Dispatcher
	mem  *MemMap
	regs []register

	entry uint64
	// first error raised inside a hook
	err error
}

// NewEmulation creates a new emulation instance for arch driving tool
func NewEmulation(tool probe.Tool, arch disass.Arch, conf *Config) (*Emulation, error) {
	disp, err := host.NewDispatcher(tool, &host.Config{
		Arch:      arch,
		CacheSize: conf.CacheSize,
		Verbose:   conf.Verbose,
	})
	if err != nil {
		return nil, err
	}

	e := &Emulation{
		conf: conf,
		arch: arch,
		tool: tool,
		disp: disp,
		mem:  NewMemMap(),
		regs: registersFor(arch),
	}

	switch arch {
	case disass.ArchAMD64:
		e.mu, err = uc.NewUnicorn(uc.ARCH_X86, uc.MODE_64)
		if err != nil {
			return nil, fmt.Errorf("failed to create new unicorn instance: %v", err)
		}
	case disass.ArchARM64:
		e.mu, err = uc.NewUnicorn(uc.ARCH_ARM64, uc.MODE_ARM)
		if err != nil {
			return nil, fmt.Errorf("failed to create new unicorn instance: %v", err)
		}
		if err := e.mu.SetCPUModel(uc.CPU_ARM64_MAX); err != nil {
			return nil, fmt.Errorf("failed to set cpu model to CPU_AARCH64_MAX: %v", err)
		}
		if err := e.mu.RegWrite(uc.ARM64_REG_PSTATE, 0); err != nil {
			return nil, fmt.Errorf("failed to init PSTATE register: %v", err)
		}
		// enable vfp
		cpacrEL1, err := e.mu.RegRead(uc.ARM64_REG_CPACR_EL1)
		if err != nil {
			return nil, fmt.Errorf("failed to read cpacr_el1 register: %v", err)
		}
		if err := e.mu.RegWrite(uc.ARM64_REG_CPACR_EL1, cpacrEL1|0x300000); err != nil {
			return nil, fmt.Errorf("failed to enable vfp: %v", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", disass.ErrUnsupportedArch, arch)
	}

	return e, nil
}

func (e *Emulation) Close() error {
	return e.mu.Close()
}

// Entry returns the entry point of the last loaded image.
func (e *Emulation) Entry() uint64 {
	return e.entry
}

// LoadImage maps img and reports it to the tool as a loaded module.
func (e *Emulation) LoadImage(img *Image) error {
	if img.Arch != e.arch {
		return fmt.Errorf("cannot load %s image %s into %s emulator", img.Arch, img.Name, e.arch)
	}

	low, high := img.Bounds()
	addr, size, err := e.mem.Map(low, high-low)
	if err != nil {
		return fmt.Errorf("failed to map %s: %v", img.Name, err)
	}
	if err := e.mu.MemMap(addr, size); err != nil {
		return fmt.Errorf("failed to memmap %s at %#x: %v", img.Name, addr, err)
	}
	for _, seg := range img.Segments {
		if len(seg.Data) == 0 {
			continue
		}
		if err := e.mu.MemWrite(seg.Addr, seg.Data); err != nil {
			return fmt.Errorf("failed to write segment %s data at %#x: %v", seg.Name, seg.Addr, err)
		}
		log.WithFields(log.Fields{
			"segment": seg.Name,
			"addr":    fmt.Sprintf("%#x", seg.Addr),
			"size":    fmt.Sprintf("%#x", seg.Memsz),
		}).Debug("Mapped segment")
	}

	e.entry = img.Entry
	return e.tool.OnModuleMapped(probe.Module{Name: img.Name, Low: low, High: high})
}

// InitStack maps an 8MB stack and arranges for a return from the first
// function to end the emulation.
func (e *Emulation) InitStack() error {
	addr, size, err := e.mem.Map(STACK_BASE, STACK_SIZE)
	if err != nil {
		return fmt.Errorf("failed to map stack: %v", err)
	}
	if err := e.mu.MemMap(addr, size); err != nil {
		return fmt.Errorf("failed to memmap stack at %#x: %v", STACK_BASE, err)
	}

	top := uint64(STACK_BASE + STACK_SIZE - 0x100)

	switch e.arch {
	case disass.ArchAMD64:
		// fs:0x28 holds the stack protector canary
		if err := e.PutPointer(STACK_DATA+0x28, GetRandomUint64(), 8); err != nil {
			return fmt.Errorf("failed to write stack canary @ %#x: %v", STACK_DATA+0x28, err)
		}
		if err := e.mu.RegWrite(uc.X86_REG_FS_BASE, STACK_DATA); err != nil {
			return fmt.Errorf("failed to init fs_base register: %v", err)
		}
		top -= 8
		if err := e.PutPointer(top, exitAddress, 8); err != nil {
			return fmt.Errorf("failed to push return address: %v", err)
		}
		if err := e.mu.RegWrite(uc.X86_REG_RSP, top); err != nil {
			return fmt.Errorf("failed to set RSP register to %#x: %v", top, err)
		}
	case disass.ArchARM64:
		if err := e.PutPointer(STACK_GUARD, GetRandomUint64(), 8); err != nil {
			return fmt.Errorf("failed to write random ___stack_chk_guard @ %#x: %v", STACK_GUARD, err)
		}
		if err := e.mu.RegWrite(uc.ARM64_REG_TPIDRRO_EL0, STACK_DATA); err != nil {
			return fmt.Errorf("failed to init tpidrro_el0 register: %v", err)
		}
		if err := e.mu.RegWrite(uc.ARM64_REG_LR, exitAddress); err != nil {
			return fmt.Errorf("failed to set LR register to %#x: %v", uint64(exitAddress), err)
		}
		if err := e.mu.RegWrite(uc.ARM64_REG_SP, top); err != nil {
			return fmt.Errorf("failed to set SP register to %#x: %v", top, err)
		}
	}

	return nil
}

// SetState applies the registers and stack bytes of a state file. Stack
// bytes without an address are written at the stack pointer.
func (e *Emulation) SetState(state *State) error {
	regs, err := state.RegisterValues()
	if err != nil {
		return err
	}
	for name, value := range regs {
		if err := e.WriteRegister(name, value); err != nil {
			return err
		}
	}

	addr, data, err := state.StackData()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if addr == 0 {
		sp := "sp"
		if e.arch == disass.ArchAMD64 {
			sp = "rsp"
		}
		if addr, err = e.ReadRegister(sp); err != nil {
			return err
		}
	}
	if err := e.mu.MemWrite(addr, data); err != nil {
		return fmt.Errorf("failed to write stack data at %#x: %v", addr, err)
	}
	return nil
}

// SetupHooks adds all the unicorn hooks
func (e *Emulation) SetupHooks() error {
	//*************
	//* HOOK_CODE *
	//*************
	if _, err := e.mu.HookAdd(uc.HOOK_CODE, func(mu uc.Unicorn, addr uint64, size uint32) {
		if e.err != nil {
			return
		}
		ins, err := e.disp.Step(addr, e, e)
		if err != nil {
			e.fail(err)
			return
		}
		if e.conf.Verbose && ins != nil {
			fmt.Println(e.disassemble(ins))
		}
	}, 1, 0); err != nil {
		return fmt.Errorf("failed to register code hook: %v", err)
	}
	//***********************************************************************
	//* HOOK_MEM_READ_INVALID|HOOK_MEM_WRITE_INVALID|HOOK_MEM_FETCH_INVALID *
	//***********************************************************************
	if _, err := e.mu.HookAdd(uc.HOOK_MEM_READ_INVALID|uc.HOOK_MEM_WRITE_INVALID|uc.HOOK_MEM_FETCH_INVALID,
		func(mu uc.Unicorn, access int, addr uint64, size int, value int64) bool {
			var kind string
			switch access {
			case uc.MEM_WRITE_UNMAPPED:
				kind = "MEM_WRITE_UNMAPPED"
			case uc.MEM_WRITE_PROT:
				kind = "MEM_WRITE_PROT"
			case uc.MEM_READ_UNMAPPED:
				kind = "MEM_READ_UNMAPPED"
			case uc.MEM_READ_PROT:
				kind = "MEM_READ_PROT"
			case uc.MEM_FETCH_UNMAPPED:
				kind = "MEM_FETCH_UNMAPPED"
			case uc.MEM_FETCH_PROT:
				kind = "MEM_FETCH_PROT"
			default:
				kind = fmt.Sprintf("MEM_INVALID(%d)", access)
			}
			if e.conf.Verbose {
				fmt.Print(colorHook("[" + kind + "]"))
				fmt.Print(colorDetails(" @ %#x, size=%d, value: %#x\n", addr, size, value))
			}
			e.fail(fmt.Errorf("%s at %#x (size=%d)", kind, addr, size))
			return false
		}, 1, 0); err != nil {
		return fmt.Errorf("failed to register mem invalid read/write/fetch hook: %v", err)
	}
	//*************
	//* HOOK_INTR *
	//*************
	if _, err := e.mu.HookAdd(uc.HOOK_INTR, func(mu uc.Unicorn, intno uint32) {
		pc, _ := e.ReadRegister("pc")
		log.WithField("pc", fmt.Sprintf("%#x", pc)).Debugf("Interrupt %d", intno)
		e.fail(ErrSyscall)
	}, 1, 0); err != nil {
		return fmt.Errorf("failed to register interrupt hook: %v", err)
	}
	if e.arch == disass.ArchAMD64 {
		if _, err := e.mu.HookAdd(uc.HOOK_INSN, func(mu uc.Unicorn) {
			e.fail(ErrSyscall)
		}, 1, 0, uc.X86_INS_SYSCALL); err != nil {
			return fmt.Errorf("failed to register syscall hook: %v", err)
		}
	}

	return nil
}

func (e *Emulation) fail(err error) {
	if e.err == nil {
		e.err = err
	}
	e.mu.Stop()
}

// Start runs the emulation from begin until the first function returns, the
// instruction budget is spent, the code enters the kernel or an error occurs.
// The tool's Fini is called once the emulation ends.
func (e *Emulation) Start(begin uint64) error {
	err := e.mu.StartWithOptions(begin, exitAddress, &uc.UcOptions{Count: e.conf.Count})
	if e.err != nil {
		err = e.err
	}

	_, executed, fired := e.disp.Stats()
	log.WithFields(log.Fields{
		"executed": executed,
		"hooks":    fired,
	}).Debug("Emulation stopped")

	if errors.Is(err, ErrSyscall) {
		log.Warn("Stopped at system call, system calls are not emulated")
		err = nil
	}

	code := 0
	if err != nil {
		code = 1
		fmt.Print(e.DumpRegisters())
		fmt.Print(colorHook("\n[MEM_REGIONS]\n"))
		e.DumpMemRegions()
	}
	if ferr := e.tool.Fini(code); ferr != nil && err == nil {
		return ferr
	}
	if err != nil {
		return fmt.Errorf("failed to emulate: %v", err)
	}
	return nil
}
