package ptrace

type thread struct {
	// started is false until a new thread reports its initial SIGSTOP
	started bool
	// inKernel is set when the last stepped instruction entered the kernel
	inKernel bool
	// pending is the pc whose hooks ran for the outstanding single-step
	pending  uint64
	stepping bool
}

func (th *thread) dispatched(pc uint64) {
	th.pending = pc
	th.stepping = true
}

// needsDispatch reports whether the instruction at pc still has to be
// dispatched. A stop that arrives before the outstanding single-step executed
// leaves the thread at the pc that was already dispatched.
func (th *thread) needsDispatch(pc uint64) bool {
	return !th.stepping || th.pending != pc
}
