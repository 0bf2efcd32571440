package host

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kmrgirish/hostsim/internal/simulation/descriptor"
	"github.com/kmrgirish/hostsim/internal/simulation/fs"
	"github.com/kmrgirish/hostsim/internal/simulation/memory"
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

func TestNewProcess(t *testing.T) {
	h := New(1, "", fs.NewEmptyFilesystem(1), nil)
	if h.Name != "host-1" {
		t.Errorf("name %q", h.Name)
	}
	p, err := h.NewProcess("app")
	if err != nil {
		t.Fatal(err)
	}
	if p.MainThread().TID != p.PID {
		t.Errorf("main thread tid %d, pid %d", p.MainThread().TID, p.PID)
	}
	want := []memory.Region{
		{Start: TextBase, Length: TextSize, Prot: memory.ProtRead | memory.ProtExec, Name: "[text]"},
		{Start: ScratchBase, Length: StackSize, Prot: memory.ProtRead | memory.ProtWrite, Name: "[stack]"},
	}
	if diff := cmp.Diff(want, p.AddressSpace.Regions()); diff != "" {
		t.Errorf("layout diff: %s", diff)
	}
	q, _ := h.NewProcess("other")
	if q.PID == p.PID {
		t.Error("duplicate pid")
	}
	if got, ok := h.Process(q.PID); !ok || got != q {
		t.Error("lookup failed")
	}
}

func TestExitReleases(t *testing.T) {
	h := New(1, "h", fs.NewEmptyFilesystem(1), nil)
	p, _ := h.NewProcess("app")

	var exited []int
	h.OnProcessExit(func(p *Process) { exited = append(exited, p.PID) })

	reg := fs.NewRegular("memfd:x", h.NextInode(), 0o600)
	of := descriptor.NewOpenFile(reg, syscallabi.O_RDWR)
	if _, err := p.Descriptors.Insert(descriptor.NewDescriptor(descriptor.NewNative(of), 0)); err != nil {
		t.Fatal(err)
	}
	inflight := of.Clone()

	var ps syscallabi.Pollers
	cond := syscallabi.NewCondition(&ps, syscallabi.Readable)
	p.MainThread().Block(cond)
	p.MainThread().SetContinuation(42)

	if err := p.Kill(); err != nil {
		t.Fatal(err)
	}
	if code, ok := p.Exited(); !ok || code != KilledExitCode {
		t.Errorf("exit %d %v", code, ok)
	}
	if p.Descriptors.Len() != 0 || len(p.AddressSpace.Regions()) != 0 {
		t.Error("resources not released")
	}
	if ps.Len() != 0 || p.MainThread().Blocked() != nil || p.MainThread().Continuation() != nil {
		t.Error("blocked call not abandoned")
	}
	if of.Closed() {
		t.Error("file closed while an in-flight reference remains")
	}
	inflight.Release()
	if !of.Closed() {
		t.Error("file not closed")
	}
	if diff := cmp.Diff([]int{p.PID}, exited); diff != "" {
		t.Errorf("hooks: %s", diff)
	}

	// exiting again does nothing
	p.Exit(0)
	if code, _ := p.Exited(); code != KilledExitCode || len(exited) != 1 {
		t.Error("second exit had effects")
	}
}

func TestClock(t *testing.T) {
	h := New(1, "h", fs.NewEmptyFilesystem(1), nil)
	h.AdvanceTo(5)
	h.AdvanceTo(3)
	if h.Now() != 5 {
		t.Errorf("clock went backwards: %v", h.Now())
	}
}
