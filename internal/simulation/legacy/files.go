package legacy

import (
	"github.com/kmrgirish/hostsim/internal/simulation/descriptor"
	"github.com/kmrgirish/hostsim/internal/simulation/fs"
	"github.com/kmrgirish/hostsim/internal/simulation/handler"
	"github.com/kmrgirish/hostsim/internal/simulation/memory"
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

// statusFlags are the open flags reported by F_GETFL and changed by F_SETFL.
const statusFlags = syscallabi.O_APPEND | syscallabi.O_NONBLOCK

func (k *Kernel) readPath(ctx *handler.SyscallContext, reg syscallabi.SyscallReg) (string, error) {
	return ctx.Memory().ReadString(syscallabi.PtrOf[byte](reg), PathMax-1)
}

// dirInode resolves the directory relative paths start at.
func (k *Kernel) dirInode(ctx *handler.SyscallContext, dirfd int, path string) (int, error) {
	if (len(path) > 0 && path[0] == '/') || dirfd == syscallabi.AT_FDCWD {
		return fs.RootInode, nil
	}
	f, err := k.lookup(ctx, dirfd)
	if _, ok := err.(*errNative); ok {
		return 0, syscallabi.ENOTDIR
	}
	if err != nil {
		return 0, err
	}
	if !f.dir {
		return 0, syscallabi.ENOTDIR
	}
	return f.inode, nil
}

func (k *Kernel) openat(ctx *handler.SyscallContext, dirfd int, pathReg syscallabi.SyscallReg, flags int, mode uint32) (int64, error) {
	path, err := k.readPath(ctx, pathReg)
	if err != nil {
		return 0, err
	}
	if flags&syscallabi.O_ACCMODE == syscallabi.O_ACCMODE {
		return 0, syscallabi.EINVAL
	}
	base, err := k.dirInode(ctx, dirfd, path)
	if err != nil {
		return 0, err
	}

	inode, err := k.fs.OpenFile(base, path, flags, mode&0o7777)
	if err != nil {
		return 0, err
	}
	lf := k.newHandle(&openFile{
		inode: inode,
		path:  path,
		flags: flags & (syscallabi.O_ACCMODE | statusFlags),
		dir:   k.fs.IsDir(inode),
	})

	var dflags descriptor.DescriptorFlags
	if flags&syscallabi.O_CLOEXEC != 0 {
		dflags = descriptor.CloseOnExec
	}
	fd, err := ctx.Descriptors().Insert(descriptor.NewDescriptor(descriptor.NewLegacy(lf), dflags))
	if err != nil {
		_ = lf.Release()
		return 0, err
	}
	k.logger.Debug("open", "pid", ctx.Process.PID, "path", path, "fd", fd, "inode", inode)
	return int64(fd), nil
}

func (k *Kernel) read(ctx *handler.SyscallContext, fd int, bufReg syscallabi.SyscallReg, count uint64) (int64, error) {
	f, err := k.lookupLegacy(ctx, fd)
	if err != nil {
		return 0, err
	}
	if f.flags&syscallabi.O_ACCMODE == syscallabi.O_WRONLY {
		return 0, syscallabi.EBADF
	}
	if f.dir {
		return 0, syscallabi.EISDIR
	}
	count = min(count, handler.MaxRW)
	buf := syscallabi.ArrayOf[byte](bufReg, int(count))
	if err := ctx.Memory().CheckAccess(buf.Addr(), count, memory.AccessWrite); err != nil {
		return 0, err
	}
	data := make([]byte, min(count, uint64(max(k.fs.Size(f.inode)-f.pos, 0))))
	n := k.fs.Read(f.inode, f.pos, data)
	if err := ctx.Memory().WriteBytes(buf, data[:n]); err != nil {
		return 0, err
	}
	f.pos += int64(n)
	return int64(n), nil
}

func (k *Kernel) write(ctx *handler.SyscallContext, fd int, bufReg syscallabi.SyscallReg, count uint64) (int64, error) {
	f, err := k.lookupLegacy(ctx, fd)
	if err != nil {
		return 0, err
	}
	if f.flags&syscallabi.O_ACCMODE == syscallabi.O_RDONLY {
		return 0, syscallabi.EBADF
	}
	count = min(count, handler.MaxRW)
	buf := syscallabi.ArrayOf[byte](bufReg, int(count))
	if err := ctx.Memory().CheckAccess(buf.Addr(), count, memory.AccessRead); err != nil {
		return 0, err
	}
	data := make([]byte, count)
	if err := ctx.Memory().ReadBytes(buf, data); err != nil {
		return 0, err
	}
	if f.flags&syscallabi.O_APPEND != 0 {
		f.pos = k.fs.Size(f.inode)
	}
	if f.pos+int64(count) < f.pos {
		return 0, syscallabi.EINVAL
	}
	n := k.fs.Write(f.inode, f.pos, data)
	f.pos += int64(n)
	return int64(n), nil
}

func (k *Kernel) lseek(ctx *handler.SyscallContext, fd int, offset int64, whence int) (int64, error) {
	f, err := k.lookupLegacy(ctx, fd)
	if err != nil {
		return 0, err
	}
	var base int64
	switch whence {
	case syscallabi.SEEK_SET:
	case syscallabi.SEEK_CUR:
		base = f.pos
	case syscallabi.SEEK_END:
		base = k.fs.Size(f.inode)
	default:
		return 0, syscallabi.EINVAL
	}
	pos := base + offset
	if (offset > 0 && pos < base) || pos < 0 {
		return 0, syscallabi.EINVAL
	}
	f.pos = pos
	return pos, nil
}

func (k *Kernel) fcntl(ctx *handler.SyscallContext, fd int, cmd int, arg int) (int64, error) {
	f, err := k.lookupLegacy(ctx, fd)
	if err != nil {
		return 0, err
	}
	switch cmd {
	case syscallabi.F_GETFL:
		return int64(f.flags), nil
	case syscallabi.F_SETFL:
		f.flags = f.flags&^statusFlags | arg&statusFlags
		return 0, nil
	default:
		return 0, syscallabi.EINVAL
	}
}
