// Package host models the simulated machines, processes, and threads that
// syscalls run on behalf of.
package host

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/kmrgirish/hostsim/internal/simulation/descriptor"
	"github.com/kmrgirish/hostsim/internal/simulation/fs"
	"github.com/kmrgirish/hostsim/internal/simulation/memory"
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

// Guest address space layout.
const (
	TextBase  = 0x400000
	TextSize  = memory.PageSize
	HeapBase  = 0x600000
	StackSize = 64 << 10
	StackTop  = 0x7ffe00000000
	// ScratchBase is the lowest stack address. Scripted programs use the
	// stack as a scratch buffer for arguments.
	ScratchBase = StackTop - StackSize
)

// A Host is one simulated machine with its own filesystem, processes, and
// clock. A host is driven by a single goroutine.
type Host struct {
	ID         int
	Name       string
	Filesystem *fs.Filesystem
	Logger     *slog.Logger

	now time.Duration

	nextPID   int
	nextInode uint64
	processes []*Process

	exitHooks []func(*Process)
}

func New(id int, name string, filesystem *fs.Filesystem, logger *slog.Logger) *Host {
	if name == "" {
		name = fmt.Sprintf("host-%d", id)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		ID:         id,
		Name:       name,
		Filesystem: filesystem,
		Logger:     logger.With("host", name),
		nextPID:    1000,
		nextInode:  1,
	}
}

// Now is the host's simulated time since the start of the simulation.
func (h *Host) Now() time.Duration {
	return h.now
}

// AdvanceTo moves the clock forward. The clock never goes backwards.
func (h *Host) AdvanceTo(t time.Duration) {
	if t > h.now {
		h.now = t
	}
}

// NextInode allocates an inode number for an anonymous native file.
func (h *Host) NextInode() uint64 {
	ino := h.nextInode
	h.nextInode++
	return ino
}

// OnProcessExit registers a hook that runs after a process has released its
// descriptors and memory.
func (h *Host) OnProcessExit(f func(*Process)) {
	h.exitHooks = append(h.exitHooks, f)
}

// Processes returns all processes, including exited ones, in creation order.
func (h *Host) Processes() []*Process {
	return slices.Clone(h.processes)
}

func (h *Host) Process(pid int) (*Process, bool) {
	for _, p := range h.processes {
		if p.PID == pid {
			return p, true
		}
	}
	return nil, false
}

// NewProcess creates a process with one thread, an empty descriptor table, and
// a mapped text page and stack.
func (h *Host) NewProcess(name string) (*Process, error) {
	pid := h.nextPID
	h.nextPID++

	as := memory.NewAddressSpace()
	if err := as.MapFixed(TextBase, TextSize, memory.ProtRead|memory.ProtExec, "[text]"); err != nil {
		return nil, fmt.Errorf("mapping text: %w", err)
	}
	if err := as.MapFixed(ScratchBase, StackSize, memory.ProtRead|memory.ProtWrite, "[stack]"); err != nil {
		return nil, fmt.Errorf("mapping stack: %w", err)
	}

	p := &Process{
		PID:          pid,
		Name:         name,
		host:         h,
		Descriptors:  descriptor.NewTable(descriptor.DefaultLimit),
		AddressSpace: as,
		Memory:       memory.NewManager(as),
		nextTID:      pid,
	}
	p.NewThread()
	h.processes = append(h.processes, p)
	h.Logger.Debug("process created", "pid", pid, "name", name)
	return p, nil
}

func (h *Host) processExited(p *Process) {
	for _, hook := range h.exitHooks {
		hook(p)
	}
}

// A Process is a guest process: a descriptor table, an address space, and
// threads. Only one of its threads is in a syscall at a time.
type Process struct {
	PID  int
	Name string

	Descriptors  *descriptor.Table
	AddressSpace *memory.AddressSpace
	Memory       *memory.Manager

	host    *Host
	threads []*Thread
	nextTID int

	exited   bool
	exitCode int
}

func (p *Process) Host() *Host {
	return p.host
}

func (p *Process) Threads() []*Thread {
	return slices.Clone(p.threads)
}

func (p *Process) MainThread() *Thread {
	return p.threads[0]
}

func (p *Process) NewThread() *Thread {
	t := &Thread{
		TID:     p.nextTID,
		process: p,
	}
	p.nextTID++
	p.threads = append(p.threads, t)
	return t
}

// Exited returns the exit code once the process has exited.
func (p *Process) Exited() (int, bool) {
	return p.exitCode, p.exited
}

// Exit terminates the process. Blocked calls are abandoned without touching
// guest memory, every descriptor is released, and the address space is
// unmapped. Exiting twice is a no-op.
func (p *Process) Exit(code int) error {
	if p.exited {
		return nil
	}
	p.exited = true
	p.exitCode = code

	for _, t := range p.threads {
		t.abandon()
	}
	err := p.Descriptors.RemoveAll()
	p.AddressSpace.Release()
	p.host.Logger.Debug("process exited", "pid", p.PID, "code", code)
	p.host.processExited(p)
	if err != nil {
		return fmt.Errorf("closing files of pid %d: %w", p.PID, err)
	}
	return nil
}

// KilledExitCode is the exit status of a process killed with SIGKILL.
const KilledExitCode = 128 + 9

// Kill terminates the process from outside, as SIGKILL would.
func (p *Process) Kill() error {
	return p.Exit(KilledExitCode)
}

// A Thread is a guest thread. While it is blocked in a syscall it keeps the
// condition it waits on and any handler state needed to resume the call.
type Thread struct {
	TID     int
	process *Process

	blocked      *syscallabi.Condition
	continuation any
}

func (t *Thread) Process() *Process {
	return t.process
}

// Block parks the thread on cond.
func (t *Thread) Block(cond *syscallabi.Condition) {
	if t.blocked != nil {
		syscallabi.Fatalf("thread %d blocked twice", t.TID)
	}
	t.blocked = cond
}

// Blocked returns the condition the thread waits on, or nil.
func (t *Thread) Blocked() *syscallabi.Condition {
	return t.blocked
}

// Unblock cancels the wait so the call can be dispatched again.
func (t *Thread) Unblock() {
	if t.blocked != nil {
		t.blocked.Cancel()
		t.blocked = nil
	}
}

// Continuation returns the state a handler stored before blocking.
func (t *Thread) Continuation() any {
	return t.continuation
}

func (t *Thread) SetContinuation(v any) {
	t.continuation = v
}

// CallDone clears per-call state after a call completed.
func (t *Thread) CallDone() {
	t.continuation = nil
}

func (t *Thread) abandon() {
	t.Unblock()
	t.continuation = nil
}
