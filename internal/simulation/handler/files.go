package handler

import (
	"github.com/kmrgirish/hostsim/internal/simulation/descriptor"
	"github.com/kmrgirish/hostsim/internal/simulation/fs"
	"github.com/kmrgirish/hostsim/internal/simulation/memory"
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

// MaxRW is the largest transfer a single read or write performs, as on Linux.
const MaxRW = 0x7ffff000

// memfdNameMax is the longest memfd name, excluding the "memfd:" prefix.
const memfdNameMax = 249

// resolve looks up fd and takes a reference on its file for the duration of
// the call.
func resolve(ctx *SyscallContext, fd int) (descriptor.CompatFile, error) {
	d, err := ctx.Descriptors().Get(fd)
	if err != nil {
		return descriptor.CompatFile{}, err
	}
	return d.File().Clone(), nil
}

func done(f descriptor.CompatFile) {
	// the descriptor still holds a reference unless it was closed during
	// the call, in which case this closes the file
	_ = f.Release()
}

func (h *SyscallHandler) sysFstat(ctx *SyscallContext) syscallabi.SyscallResult {
	fd := int(ctx.Args.Get(0).I32())
	statbuf := syscallabi.PtrOf[syscallabi.Stat](ctx.Args.Get(1))

	f, err := resolve(ctx, fd)
	if err != nil {
		return errResult(err)
	}
	defer done(f)

	of, ok := f.AsNative()
	if !ok {
		return h.legacySyscall(ctx)
	}
	st, err := of.Stat()
	if err != nil {
		return errResult(err)
	}
	if err := memory.Write(ctx.Memory(), statbuf, st); err != nil {
		return errResult(err)
	}
	return syscallabi.Done(0)
}

func (h *SyscallHandler) sysClose(ctx *SyscallContext) syscallabi.SyscallResult {
	fd := int(ctx.Args.Get(0).I32())
	d, err := ctx.Descriptors().Remove(fd)
	if err != nil {
		return errResult(err)
	}
	if err := d.Release(); err != nil {
		return errResult(err)
	}
	return syscallabi.Done(0)
}

func (h *SyscallHandler) sysDup(ctx *SyscallContext) syscallabi.SyscallResult {
	oldfd := int(ctx.Args.Get(0).I32())
	return syscallabi.ResultFrom(ctx.Descriptors().Dup(oldfd, 0, 0))
}

// dupTo installs a copy of oldfd at newfd.
func dupTo(ctx *SyscallContext, oldfd, newfd int, flags descriptor.DescriptorFlags) syscallabi.SyscallResult {
	table := ctx.Descriptors()
	d, err := table.Get(oldfd)
	if err != nil {
		return errResult(err)
	}
	f := d.File().Clone()
	if err := table.Set(newfd, descriptor.NewDescriptor(f, flags)); err != nil {
		_ = f.Release()
		return errResult(err)
	}
	return syscallabi.Done(int64(newfd))
}

func (h *SyscallHandler) sysDup2(ctx *SyscallContext) syscallabi.SyscallResult {
	oldfd := int(ctx.Args.Get(0).I32())
	newfd := int(ctx.Args.Get(1).I32())
	if oldfd == newfd {
		if _, err := ctx.Descriptors().Get(oldfd); err != nil {
			return errResult(err)
		}
		return syscallabi.Done(int64(newfd))
	}
	return dupTo(ctx, oldfd, newfd, 0)
}

func (h *SyscallHandler) sysDup3(ctx *SyscallContext) syscallabi.SyscallResult {
	oldfd := int(ctx.Args.Get(0).I32())
	newfd := int(ctx.Args.Get(1).I32())
	flags := int(ctx.Args.Get(2).I32())
	if oldfd == newfd || flags&^syscallabi.O_CLOEXEC != 0 {
		return syscallabi.Failed(syscallabi.EINVAL)
	}
	var dflags descriptor.DescriptorFlags
	if flags&syscallabi.O_CLOEXEC != 0 {
		dflags = descriptor.CloseOnExec
	}
	return dupTo(ctx, oldfd, newfd, dflags)
}

func (h *SyscallHandler) sysFcntl(ctx *SyscallContext) syscallabi.SyscallResult {
	fd := int(ctx.Args.Get(0).I32())
	cmd := int(ctx.Args.Get(1).I32())
	arg := ctx.Args.Get(2)

	table := ctx.Descriptors()
	d, err := table.Get(fd)
	if err != nil {
		return errResult(err)
	}

	switch cmd {
	case syscallabi.F_DUPFD:
		return syscallabi.ResultFrom(table.Dup(fd, int(arg.I32()), 0))
	case syscallabi.F_DUPFD_CLOEXEC:
		return syscallabi.ResultFrom(table.Dup(fd, int(arg.I32()), descriptor.CloseOnExec))
	case syscallabi.F_GETFD:
		return syscallabi.Done(int64(d.Flags()))
	case syscallabi.F_SETFD:
		d.SetFlags(descriptor.DescriptorFlags(arg.I32()))
		return syscallabi.Done(0)
	case syscallabi.F_GETFL, syscallabi.F_SETFL:
		of, ok := d.File().AsNative()
		if !ok {
			return h.legacySyscall(ctx)
		}
		if cmd == syscallabi.F_GETFL {
			return syscallabi.Done(int64(of.Flags()))
		}
		of.SetStatusFlags(int(arg.I32()))
		return syscallabi.Done(0)
	default:
		return syscallabi.Failed(syscallabi.EINVAL)
	}
}

func (h *SyscallHandler) sysRead(ctx *SyscallContext) syscallabi.SyscallResult {
	fd := int(ctx.Args.Get(0).I32())
	count := min(ctx.Args.Get(2).U64(), MaxRW)
	buf := syscallabi.ArrayOf[byte](ctx.Args.Get(1), int(count))

	f, err := resolve(ctx, fd)
	if err != nil {
		return errResult(err)
	}
	defer done(f)

	of, ok := f.AsNative()
	if !ok {
		return h.legacySyscall(ctx)
	}
	if err := ctx.Memory().CheckAccess(buf.Addr(), count, memory.AccessWrite); err != nil {
		return errResult(err)
	}
	if count == 0 {
		return syscallabi.Done(0)
	}
	data := make([]byte, count)
	n, err := of.Read(data)
	if err != nil {
		return errResult(err)
	}
	if err := ctx.Memory().WriteBytes(buf, data[:n]); err != nil {
		return errResult(err)
	}
	return syscallabi.Done(int64(n))
}

func (h *SyscallHandler) sysWrite(ctx *SyscallContext) syscallabi.SyscallResult {
	fd := int(ctx.Args.Get(0).I32())
	count := min(ctx.Args.Get(2).U64(), MaxRW)
	buf := syscallabi.ArrayOf[byte](ctx.Args.Get(1), int(count))

	f, err := resolve(ctx, fd)
	if err != nil {
		return errResult(err)
	}
	defer done(f)

	of, ok := f.AsNative()
	if !ok {
		return h.legacySyscall(ctx)
	}
	if err := ctx.Memory().CheckAccess(buf.Addr(), count, memory.AccessRead); err != nil {
		return errResult(err)
	}
	if count == 0 {
		return syscallabi.Done(0)
	}
	data := make([]byte, count)
	if err := ctx.Memory().ReadBytes(buf, data); err != nil {
		return errResult(err)
	}
	return syscallabi.ResultFrom(of.Write(data))
}

func (h *SyscallHandler) sysLseek(ctx *SyscallContext) syscallabi.SyscallResult {
	fd := int(ctx.Args.Get(0).I32())
	offset := ctx.Args.Get(1).I64()
	whence := int(ctx.Args.Get(2).I32())

	f, err := resolve(ctx, fd)
	if err != nil {
		return errResult(err)
	}
	defer done(f)

	of, ok := f.AsNative()
	if !ok {
		return h.legacySyscall(ctx)
	}
	return syscallabi.ResultFrom(of.Seek(offset, whence))
}

// install adds a native file to the table. The file's reference is dropped
// if the table is full.
func install(ctx *SyscallContext, f descriptor.File, openFlags int, cloexec bool) (int, error) {
	var dflags descriptor.DescriptorFlags
	if cloexec {
		dflags = descriptor.CloseOnExec
	}
	of := descriptor.NewOpenFile(f, openFlags)
	fd, err := ctx.Descriptors().Insert(descriptor.NewDescriptor(descriptor.NewNative(of), dflags))
	if err != nil {
		_ = of.Release()
		return 0, err
	}
	return fd, nil
}

// uninstall removes and releases a descriptor installed earlier in the same
// call.
func uninstall(ctx *SyscallContext, fd int) {
	d, err := ctx.Descriptors().Remove(fd)
	if err != nil {
		syscallabi.Fatalf("rolling back fd %d: %v", fd, err)
	}
	_ = d.Release()
}

func (h *SyscallHandler) sysPipe2(ctx *SyscallContext) syscallabi.SyscallResult {
	fds := syscallabi.PtrOf[[2]int32](ctx.Args.Get(0))
	flags := int(ctx.Args.Get(1).I32())
	if flags&^(syscallabi.O_CLOEXEC|syscallabi.O_NONBLOCK) != 0 {
		return syscallabi.Failed(syscallabi.EINVAL)
	}
	cloexec := flags&syscallabi.O_CLOEXEC != 0
	nonblock := flags & syscallabi.O_NONBLOCK

	r, w := fs.NewPipe(ctx.Host.NextInode())
	rfd, err := install(ctx, r, syscallabi.O_RDONLY|nonblock, cloexec)
	if err != nil {
		_ = w.Close()
		return errResult(err)
	}
	wfd, err := install(ctx, w, syscallabi.O_WRONLY|nonblock, cloexec)
	if err != nil {
		uninstall(ctx, rfd)
		return errResult(err)
	}
	if err := memory.Write(ctx.Memory(), fds, [2]int32{int32(rfd), int32(wfd)}); err != nil {
		uninstall(ctx, wfd)
		uninstall(ctx, rfd)
		return errResult(err)
	}
	return syscallabi.Done(0)
}

func (h *SyscallHandler) sysMemfdCreate(ctx *SyscallContext) syscallabi.SyscallResult {
	namePtr := syscallabi.PtrOf[byte](ctx.Args.Get(0))
	flags := ctx.Args.Get(1).U32()
	if flags&^uint32(syscallabi.MFD_CLOEXEC|syscallabi.MFD_ALLOW_SEALING) != 0 {
		return syscallabi.Failed(syscallabi.EINVAL)
	}
	name, err := ctx.Memory().ReadString(namePtr, memfdNameMax)
	if err == syscallabi.ENAMETOOLONG {
		return syscallabi.Failed(syscallabi.EINVAL)
	}
	if err != nil {
		return errResult(err)
	}

	f := fs.NewRegular("memfd:"+name, ctx.Host.NextInode(), 0o777)
	return syscallabi.ResultFrom(install(ctx, f, syscallabi.O_RDWR, flags&syscallabi.MFD_CLOEXEC != 0))
}
