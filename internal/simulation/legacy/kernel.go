// Package legacy is the syscall implementation that native handlers delegate
// to. It keeps its own table of open files over the host filesystem and
// implements the file, memory mapping, and stat families in the platform
// return convention.
package legacy

import (
	"log/slog"

	"github.com/kmrgirish/hostsim/internal/simulation/descriptor"
	"github.com/kmrgirish/hostsim/internal/simulation/fs"
	"github.com/kmrgirish/hostsim/internal/simulation/handler"
	"github.com/kmrgirish/hostsim/internal/simulation/host"
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

// PathMax is the size of the longest path including its terminator.
const PathMax = 4096

// openFile is an open file description owned by the kernel.
type openFile struct {
	inode int
	path  string
	flags int
	pos   int64
	dir   bool
}

// A Kernel services delegated syscalls for all processes of one host.
type Kernel struct {
	host   *host.Host
	fs     *fs.Filesystem
	logger *slog.Logger

	files map[descriptor.LegacyHandle]*openFile
	next  descriptor.LegacyHandle

	brk map[int]uint64
}

var _ handler.Legacy = &Kernel{}

func New(h *host.Host) *Kernel {
	k := &Kernel{
		host:   h,
		fs:     h.Filesystem,
		logger: h.Logger.With("subsystem", "legacy"),
		files:  make(map[descriptor.LegacyHandle]*openFile),
		next:   1,
		brk:    make(map[int]uint64),
	}
	h.OnProcessExit(func(p *host.Process) {
		delete(k.brk, p.PID)
	})
	return k
}

// OpenHandles is the number of open file descriptions.
func (k *Kernel) OpenHandles() int {
	return len(k.files)
}

func (k *Kernel) Syscall(ctx *handler.SyscallContext) handler.LegacyReturn {
	a := ctx.Args
	var ret int64
	var err error
	switch a.Number {
	case syscallabi.NR_open:
		ret, err = k.openat(ctx, syscallabi.AT_FDCWD, a.Get(0), int(a.Get(1).I32()), a.Get(2).U32())
	case syscallabi.NR_openat:
		ret, err = k.openat(ctx, int(a.Get(0).I32()), a.Get(1), int(a.Get(2).I32()), a.Get(3).U32())
	case syscallabi.NR_read:
		ret, err = k.read(ctx, int(a.Get(0).I32()), a.Get(1), a.Get(2).U64())
	case syscallabi.NR_write:
		ret, err = k.write(ctx, int(a.Get(0).I32()), a.Get(1), a.Get(2).U64())
	case syscallabi.NR_lseek:
		ret, err = k.lseek(ctx, int(a.Get(0).I32()), a.Get(1).I64(), int(a.Get(2).I32()))
	case syscallabi.NR_fcntl:
		ret, err = k.fcntl(ctx, int(a.Get(0).I32()), int(a.Get(1).I32()), int(a.Get(2).I32()))
	case syscallabi.NR_brk:
		ret, err = k.sysBrk(ctx, a.Get(0).U64())
	case syscallabi.NR_mmap:
		ret, err = k.mmap(ctx, a.Get(0).U64(), a.Get(1).U64(), int(a.Get(2).I32()), int(a.Get(3).I32()), int(a.Get(4).I32()), a.Get(5).I64())
	case syscallabi.NR_munmap:
		ret, err = 0, ctx.Process.AddressSpace.Unmap(a.Get(0).U64(), a.Get(1).U64())
	case syscallabi.NR_mprotect:
		ret, err = 0, k.mprotect(ctx, a.Get(0).U64(), a.Get(1).U64(), int(a.Get(2).I32()))
	case syscallabi.NR_mremap:
		var addr uint64
		addr, err = ctx.Process.AddressSpace.Remap(a.Get(0).U64(), a.Get(1).U64(), a.Get(2).U64(), int(a.Get(3).I32()), a.Get(4).U64())
		ret = int64(addr)
	case syscallabi.NR_fstat:
		ret, err = 0, k.fstat(ctx, int(a.Get(0).I32()), a.Get(1))
	case syscallabi.NR_newfstatat:
		ret, err = 0, k.newfstatat(ctx, int(a.Get(0).I32()), a.Get(1), a.Get(2), int(a.Get(3).I32()))
	case syscallabi.NR_statx:
		ret, err = 0, k.statx(ctx, int(a.Get(0).I32()), a.Get(1), int(a.Get(2).I32()), a.Get(3).U32(), a.Get(4))
	case syscallabi.NR_fstatfs:
		ret, err = 0, k.fstatfs(ctx, int(a.Get(0).I32()), a.Get(1))
	default:
		err = syscallabi.ENOSYS
	}
	return toReturn(ret, err)
}

func toReturn(ret int64, err error) handler.LegacyReturn {
	if err == nil {
		return handler.LegacyReturn{Retval: ret}
	}
	if b, ok := err.(*syscallabi.Blocked); ok {
		return handler.LegacyReturn{Blocked: b.Cond}
	}
	errno, ok := syscallabi.ErrnoOf(err)
	if !ok {
		syscallabi.Fatalf("legacy error is not an errno: %v", err)
	}
	return handler.LegacyReturn{Retval: -int64(errno)}
}

// newHandle registers an open file description and returns a LegacyFile
// holding the only reference to it.
func (k *Kernel) newHandle(f *openFile) *descriptor.LegacyFile {
	h := k.next
	k.next++
	k.files[h] = f
	return descriptor.NewLegacyFile(h, k.release)
}

func (k *Kernel) release(h descriptor.LegacyHandle) error {
	f, ok := k.files[h]
	if !ok {
		syscallabi.Fatalf("release of unknown legacy handle %d", h)
	}
	delete(k.files, h)
	k.fs.CloseFile(f.inode)
	return nil
}

// errNative marks a descriptor that refers to a native file.
type errNative struct {
	of *descriptor.OpenFile
}

func (e *errNative) Error() string {
	return "native descriptor"
}

// lookup resolves fd to a legacy open file. Native files are returned as
// *errNative so callers can decide how to treat them.
func (k *Kernel) lookup(ctx *handler.SyscallContext, fd int) (*openFile, error) {
	d, err := ctx.Descriptors().Get(fd)
	if err != nil {
		return nil, err
	}
	lf, ok := d.File().AsLegacy()
	if !ok {
		of, _ := d.File().AsNative()
		return nil, &errNative{of: of}
	}
	f, ok := k.files[lf.Handle()]
	if !ok {
		syscallabi.Fatalf("descriptor %d refers to unknown legacy handle %d", fd, lf.Handle())
	}
	return f, nil
}

// lookupLegacy is lookup for calls that never apply to native files.
func (k *Kernel) lookupLegacy(ctx *handler.SyscallContext, fd int) (*openFile, error) {
	f, err := k.lookup(ctx, fd)
	if _, ok := err.(*errNative); ok {
		return nil, syscallabi.EBADF
	}
	return f, err
}
