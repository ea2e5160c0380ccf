//go:build linux && amd64

package ptrace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/apex/log"
	"github.com/blacktop/calltrace/pkg/disass"
	"github.com/blacktop/calltrace/pkg/host"
	"github.com/blacktop/calltrace/pkg/probe"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type tracer struct {
	tool    probe.Tool
	disp    *host.Dispatcher
	modules *moduleTracker
	pid     int
	threads map[int]*thread
}

// Trace starts argv as a traced process, instruments it until all of its
// threads have exited and returns its exit code. A process killed by a signal
// reports 128 plus the signal number. Cancelling ctx kills the process.
func Trace(ctx context.Context, tool probe.Tool, conf *Config, argv []string) (int, error) {
	if len(argv) == 0 {
		return -1, fmt.Errorf("no program to trace")
	}

	disp, err := host.NewDispatcher(tool, &host.Config{
		Arch:      disass.ArchAMD64,
		CacheSize: conf.CacheSize,
		Verbose:   conf.Verbose,
	})
	if err != nil {
		return -1, err
	}

	// all ptrace requests must come from the thread that became the tracer
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
	if err := cmd.Start(); err != nil {
		return -1, errors.Wrapf(err, "failed to start %s", argv[0])
	}

	t := &tracer{
		tool:    tool,
		disp:    disp,
		modules: newModuleTracker(),
		pid:     cmd.Process.Pid,
	}
	t.threads = map[int]*thread{t.pid: {started: true}}

	var ws unix.WaitStatus
	if _, err := unix.Wait4(t.pid, &ws, unix.WALL, nil); err != nil {
		return -1, errors.Wrapf(err, "failed to wait for %s", argv[0])
	}
	if !ws.Stopped() {
		return -1, fmt.Errorf("%s did not stop after exec (status %#x)", argv[0], uint32(ws))
	}
	if err := unix.PtraceSetOptions(t.pid, unix.PTRACE_O_TRACECLONE|unix.PTRACE_O_EXITKILL); err != nil {
		unix.Kill(t.pid, unix.SIGKILL)
		return -1, errors.Wrap(err, "failed to set ptrace options")
	}

	log.WithFields(log.Fields{
		"pid":  t.pid,
		"argv": argv,
	}).Debug("Tracing process")

	code, err := t.run(ctx)
	if err != nil {
		unix.Kill(t.pid, unix.SIGKILL)
	}
	if ferr := tool.Fini(code); ferr != nil && err == nil {
		err = ferr
	}

	_, executed, fired := disp.Stats()
	log.WithFields(log.Fields{
		"exit_code": code,
		"executed":  executed,
		"hooks":     fired,
	}).Debug("Process exited")

	return code, err
}

func (t *tracer) run(ctx context.Context) (int, error) {
	code := -1

	if err := t.rescan(); err != nil {
		return code, err
	}
	if err := t.step(t.pid, t.threads[t.pid]); err != nil {
		return code, err
	}

	killed := false
	for len(t.threads) > 0 {
		if !killed && ctx.Err() != nil {
			log.Warn("Interrupted, killing traced process")
			unix.Kill(t.pid, unix.SIGKILL)
			killed = true
		}

		var ws unix.WaitStatus
		tid, err := unix.Wait4(-1, &ws, unix.WALL, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD:
			return code, nil
		case err != nil:
			return code, errors.Wrap(err, "wait4 failed")
		}

		switch {
		case ws.Exited():
			delete(t.threads, tid)
			if tid == t.pid {
				code = ws.ExitStatus()
			}
		case ws.Signaled():
			delete(t.threads, tid)
			if tid == t.pid {
				code = 128 + int(ws.Signal())
			}
		case ws.Stopped():
			if err := t.stopped(tid, ws); err != nil {
				return code, err
			}
		}
	}

	return code, nil
}

func (t *tracer) stopped(tid int, ws unix.WaitStatus) error {
	th, ok := t.threads[tid]
	if !ok {
		// a new thread may report before its parent's clone event
		th = &thread{}
		t.threads[tid] = th
	}

	switch sig := ws.StopSignal(); {
	case sig == unix.SIGTRAP && ws.TrapCause() == unix.PTRACE_EVENT_CLONE:
		if msg, err := unix.PtraceGetEventMsg(tid); err == nil {
			if _, ok := t.threads[int(msg)]; !ok {
				t.threads[int(msg)] = &thread{}
			}
			log.Debugf("Thread %d created thread %d", tid, msg)
		}
		return singleStep(tid, 0)
	case sig == unix.SIGTRAP:
		return t.step(tid, th)
	case sig == unix.SIGSTOP && !th.started:
		th.started = true
		return t.step(tid, th)
	case sig == unix.SIGSTOP, sig == unix.SIGTSTP, sig == unix.SIGTTIN, sig == unix.SIGTTOU:
		// job control stops would never be resumed while single-stepping
		return t.resume(tid, th)
	default:
		return singleStep(tid, sig)
	}
}

// step runs the hooks of the instruction at the thread's pc and executes it.
func (t *tracer) step(tid int, th *thread) error {
	var r regs
	if err := unix.PtraceGetRegs(tid, (*unix.PtraceRegs)(&r)); err != nil {
		if err == unix.ESRCH {
			return nil
		}
		return errors.Wrapf(err, "failed to read registers of thread %d", tid)
	}

	if th.inKernel {
		th.inKernel = false
		if changesMappings(r.Orig_rax) {
			if err := t.rescan(); err != nil {
				return err
			}
		}
	}

	ins, err := t.disp.Step(r.Rip, &r, memory(tid))
	if err != nil {
		return err
	}
	th.dispatched(r.Rip)
	th.inKernel = ins != nil && ins.IsSyscall()

	return singleStep(tid, 0)
}

// resume suppresses a stop signal and continues stepping. The instruction at
// the thread's pc is dispatched unless its hooks already ran for the
// interrupted single-step.
func (t *tracer) resume(tid int, th *thread) error {
	var r unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &r); err != nil {
		if err == unix.ESRCH {
			return nil
		}
		return errors.Wrapf(err, "failed to read registers of thread %d", tid)
	}
	if th.needsDispatch(r.Rip) {
		return t.step(tid, th)
	}
	return singleStep(tid, 0)
}

func changesMappings(nr uint64) bool {
	switch nr {
	case unix.SYS_MMAP, unix.SYS_MUNMAP, unix.SYS_MREMAP, unix.SYS_MPROTECT,
		unix.SYS_EXECVE, unix.SYS_EXECVEAT, unix.SYS_REMAP_FILE_PAGES, unix.SYS_SHMAT, unix.SYS_SHMDT:
		return true
	default:
		return false
	}
}

// rescan reports the modules mapped since the last scan to the tool.
func (t *tracer) rescan() error {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", t.pid))
	if err != nil {
		return errors.Wrap(err, "failed to open memory map")
	}
	defer f.Close()

	maps, err := ParseMaps(f)
	if err != nil {
		return errors.Wrapf(err, "failed to parse %s", f.Name())
	}

	added, removed := t.modules.update(maps)
	if removed {
		log.Debug("Module unmapped, dropping discovered instructions")
		t.disp.Invalidate()
	}
	for _, m := range added {
		log.WithFields(log.Fields{
			"name": m.Name,
			"low":  fmt.Sprintf("%#x", m.Low),
			"high": fmt.Sprintf("%#x", m.High),
		}).Debug("Module mapped")
		if err := t.tool.OnModuleMapped(m); err != nil {
			return err
		}
	}

	return nil
}

// singleStep resumes tid for one instruction, delivering sig if non-zero.
func singleStep(tid int, sig unix.Signal) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_SINGLESTEP, uintptr(tid), 0, uintptr(sig), 0, 0)
	if errno != 0 && errno != unix.ESRCH {
		return errors.Wrapf(errno, "failed to single-step thread %d", tid)
	}
	return nil
}
