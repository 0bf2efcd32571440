// Package handler dispatches guest syscalls. Each syscall number maps to a
// native handler that runs against host state directly, or is delegated to
// the legacy subsystem. Handlers that resolve a descriptor first delegate per
// descriptor: a legacy file is always serviced by the legacy subsystem.
package handler

import (
	"context"
	"fmt"

	"github.com/kmrgirish/hostsim/internal/simulation/descriptor"
	"github.com/kmrgirish/hostsim/internal/simulation/host"
	"github.com/kmrgirish/hostsim/internal/simulation/memory"
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
	"github.com/kmrgirish/hostsim/internal/simulation/trace"
)

// A SyscallContext bundles everything one syscall needs. It lives for the
// duration of one dispatch and must not be retained.
type SyscallContext struct {
	Host    *host.Host
	Process *host.Process
	Thread  *host.Thread
	Args    *syscallabi.SysCallArgs

	delegated bool
}

// NewSyscallContext returns the context for a call made by t.
func NewSyscallContext(t *host.Thread, args *syscallabi.SysCallArgs) *SyscallContext {
	p := t.Process()
	return &SyscallContext{
		Host:    p.Host(),
		Process: p,
		Thread:  t,
		Args:    args,
	}
}

func (c *SyscallContext) Memory() *memory.Manager {
	return c.Process.Memory
}

func (c *SyscallContext) Descriptors() *descriptor.Table {
	return c.Process.Descriptors
}

// Delegated reports whether the call was serviced by the legacy subsystem.
func (c *SyscallContext) Delegated() bool {
	return c.delegated
}

// LegacyReturn is the outcome of a delegated call in the platform convention:
// a return register in which [-4095, -1] is a negated errno, or a condition
// to wait on.
type LegacyReturn struct {
	Retval  int64
	Blocked *syscallabi.Condition
}

// Legacy is the legacy syscall implementation calls are delegated to.
type Legacy interface {
	Syscall(ctx *SyscallContext) LegacyReturn
}

// An UnsupportedSyscallError is returned for syscall numbers that have no
// handler. It is never visible to the guest.
type UnsupportedSyscallError struct {
	Number syscallabi.NR
}

func (e *UnsupportedSyscallError) Error() string {
	return fmt.Sprintf("unsupported syscall %s (%d)", e.Number, uint64(e.Number))
}

type entry struct {
	schema trace.Schema
	fn     func(ctx *SyscallContext) syscallabi.SyscallResult
}

// A SyscallHandler routes syscalls to their handlers. It holds no per-call
// state and may be shared by all processes of a host.
type SyscallHandler struct {
	legacy Legacy
	sink   trace.Sink
	table  map[syscallabi.NR]entry
}

type Option func(*SyscallHandler)

// WithSink sends a trace record for every dispatched call to sink.
func WithSink(sink trace.Sink) Option {
	return func(h *SyscallHandler) {
		h.sink = sink
	}
}

func New(legacy Legacy, opts ...Option) *SyscallHandler {
	h := &SyscallHandler{
		legacy: legacy,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.table = h.buildTable()
	return h
}

// Supported reports whether nr has a handler.
func (h *SyscallHandler) Supported(nr syscallabi.NR) bool {
	_, ok := h.table[nr]
	return ok
}

// Syscall dispatches one call. The returned error is non-nil only for calls
// the simulator cannot service at all; guest-visible failures are results.
func (h *SyscallHandler) Syscall(ctx *SyscallContext) (syscallabi.SyscallResult, error) {
	e, ok := h.table[ctx.Args.Number]
	if !ok {
		return syscallabi.SyscallResult{}, &UnsupportedSyscallError{Number: ctx.Args.Number}
	}
	ctx.delegated = false
	result := e.fn(ctx)
	if h.sink != nil {
		h.emit(ctx, e.schema, result)
	}
	return result, nil
}

func (h *SyscallHandler) emit(ctx *SyscallContext, schema trace.Schema, result syscallabi.SyscallResult) {
	values := schema.Decode(ctx.Args, func(addr uint64) (string, error) {
		return ctx.Memory().ReadString(syscallabi.NewForeignPtr[byte](addr), trace.MaxPath)
	})
	h.sink.Record(context.Background(), &trace.Record{
		Time:      ctx.Host.Now(),
		PID:       ctx.Process.PID,
		TID:       ctx.Thread.TID,
		Syscall:   ctx.Args.Number.String(),
		Args:      values,
		Result:    result,
		Delegated: ctx.delegated,
	})
}

// legacySyscall delegates the call unchanged and adapts the legacy return
// value. Errnos pass through as they are.
func (h *SyscallHandler) legacySyscall(ctx *SyscallContext) syscallabi.SyscallResult {
	if h.legacy == nil {
		syscallabi.Fatalf("%s delegated without a legacy subsystem", ctx.Args.Number)
	}
	ctx.delegated = true
	ret := h.legacy.Syscall(ctx)
	if ret.Blocked != nil {
		return syscallabi.Block(ret.Blocked)
	}
	return syscallabi.FromRetval(ret.Retval)
}

// errResult turns a failed native operation into a result.
func errResult(err error) syscallabi.SyscallResult {
	return syscallabi.ResultFrom(0, err)
}

func arg(name string, kind trace.Kind) trace.Arg {
	return trace.Arg{Name: name, Kind: kind}
}

func (h *SyscallHandler) buildTable() map[syscallabi.NR]entry {
	const (
		Int         = trace.Int
		Hex         = trace.Hex
		Fd          = trace.Fd
		DirFd       = trace.DirFd
		Ptr         = trace.Ptr
		Size        = trace.Size
		Offset      = trace.Offset
		Path        = trace.Path
		OpenFlags   = trace.OpenFlags
		Mode        = trace.Mode
		ProtFlags   = trace.ProtFlags
		MapFlags    = trace.MapFlags
		MRemapFlags = trace.MRemapFlags
		AtFlags     = trace.AtFlags
		FcntlCmd    = trace.FcntlCmd
		Whence      = trace.Whence
		MemfdFlags  = trace.MemfdFlags
		StatxMask   = trace.StatxMask
	)
	legacy := h.legacySyscall

	return map[syscallabi.NR]entry{
		// file open family
		syscallabi.NR_open: {
			trace.Schema{arg("path", Path), arg("flags", OpenFlags), arg("mode", Mode)},
			legacy,
		},
		syscallabi.NR_openat: {
			trace.Schema{arg("dirfd", DirFd), arg("path", Path), arg("flags", OpenFlags), arg("mode", Mode)},
			legacy,
		},

		// memory mapping family
		syscallabi.NR_brk: {
			trace.Schema{arg("addr", Ptr)},
			legacy,
		},
		syscallabi.NR_mmap: {
			trace.Schema{arg("addr", Ptr), arg("length", Size), arg("prot", ProtFlags), arg("flags", MapFlags), arg("fd", Fd), arg("offset", Offset)},
			legacy,
		},
		syscallabi.NR_mremap: {
			trace.Schema{arg("old_address", Ptr), arg("old_size", Size), arg("new_size", Size), arg("flags", MRemapFlags), arg("new_address", Ptr)},
			legacy,
		},
		syscallabi.NR_munmap: {
			trace.Schema{arg("addr", Ptr), arg("length", Size)},
			legacy,
		},
		syscallabi.NR_mprotect: {
			trace.Schema{arg("addr", Ptr), arg("length", Size), arg("prot", ProtFlags)},
			legacy,
		},

		// stat family
		syscallabi.NR_fstat: {
			trace.Schema{arg("fd", Fd), arg("statbuf", Ptr)},
			h.sysFstat,
		},
		syscallabi.NR_newfstatat: {
			trace.Schema{arg("dirfd", DirFd), arg("path", Path), arg("statbuf", Ptr), arg("flags", AtFlags)},
			legacy,
		},
		syscallabi.NR_statx: {
			trace.Schema{arg("dirfd", DirFd), arg("path", Path), arg("flags", AtFlags), arg("mask", StatxMask), arg("statxbuf", Ptr)},
			legacy,
		},
		syscallabi.NR_fstatfs: {
			trace.Schema{arg("fd", Fd), arg("buf", Ptr)},
			legacy,
		},

		// descriptors
		syscallabi.NR_close: {
			trace.Schema{arg("fd", Fd)},
			h.sysClose,
		},
		syscallabi.NR_dup: {
			trace.Schema{arg("oldfd", Fd)},
			h.sysDup,
		},
		syscallabi.NR_dup2: {
			trace.Schema{arg("oldfd", Fd), arg("newfd", Fd)},
			h.sysDup2,
		},
		syscallabi.NR_dup3: {
			trace.Schema{arg("oldfd", Fd), arg("newfd", Fd), arg("flags", OpenFlags)},
			h.sysDup3,
		},
		syscallabi.NR_fcntl: {
			trace.Schema{arg("fd", Fd), arg("cmd", FcntlCmd), arg("arg", Hex)},
			h.sysFcntl,
		},
		syscallabi.NR_read: {
			trace.Schema{arg("fd", Fd), arg("buf", Ptr), arg("count", Size)},
			h.sysRead,
		},
		syscallabi.NR_write: {
			trace.Schema{arg("fd", Fd), arg("buf", Ptr), arg("count", Size)},
			h.sysWrite,
		},
		syscallabi.NR_lseek: {
			trace.Schema{arg("fd", Fd), arg("offset", Offset), arg("whence", Whence)},
			h.sysLseek,
		},
		syscallabi.NR_pipe2: {
			trace.Schema{arg("pipefd", Ptr), arg("flags", OpenFlags)},
			h.sysPipe2,
		},
		syscallabi.NR_memfd_create: {
			trace.Schema{arg("name", Path), arg("flags", MemfdFlags)},
			h.sysMemfdCreate,
		},

		// process
		syscallabi.NR_nanosleep: {
			trace.Schema{arg("req", Ptr), arg("rem", Ptr)},
			h.sysNanosleep,
		},
		syscallabi.NR_getpid: {
			nil,
			h.sysGetpid,
		},
		syscallabi.NR_gettid: {
			nil,
			h.sysGettid,
		},
		syscallabi.NR_exit_group: {
			trace.Schema{arg("status", Int)},
			h.sysExitGroup,
		},
	}
}
