package ptrace

import "testing"

func TestThreadNeedsDispatch(t *testing.T) {
	th := &thread{}
	if !th.needsDispatch(0x1000) {
		t.Error("new thread must dispatch its first instruction")
	}

	th.dispatched(0x1000)
	// stopped before the step executed
	if th.needsDispatch(0x1000) {
		t.Error("instruction at 0x1000 would be dispatched twice")
	}
	// stopped after the step executed
	if !th.needsDispatch(0x1005) {
		t.Error("instruction at 0x1005 would run without its hooks")
	}

	th.dispatched(0x1005)
	if th.needsDispatch(0x1005) || !th.needsDispatch(0x1000) {
		t.Errorf("pending = %#x after second dispatch", th.pending)
	}
}
