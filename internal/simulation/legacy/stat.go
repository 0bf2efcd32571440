package legacy

import (
	"github.com/kmrgirish/hostsim/internal/simulation/fs"
	"github.com/kmrgirish/hostsim/internal/simulation/handler"
	"github.com/kmrgirish/hostsim/internal/simulation/memory"
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

const (
	statAtFlags  = syscallabi.AT_SYMLINK_NOFOLLOW | syscallabi.AT_NO_AUTOMOUNT | syscallabi.AT_EMPTY_PATH
	statxAtFlags = statAtFlags | syscallabi.AT_STATX_SYNC_TYPE

	// statxReserved is STATX__RESERVED.
	statxReserved = 0x80000000
)

// statFd stats an open descriptor of either kind.
func (k *Kernel) statFd(ctx *handler.SyscallContext, fd int) (syscallabi.Stat, error) {
	f, err := k.lookup(ctx, fd)
	if native, ok := err.(*errNative); ok {
		return native.of.Stat()
	}
	if err != nil {
		return syscallabi.Stat{}, err
	}
	return k.fs.Statfd(f.inode), nil
}

// statAt resolves dirfd and path like the *at family.
func (k *Kernel) statAt(ctx *handler.SyscallContext, dirfd int, pathReg syscallabi.SyscallReg, flags int) (syscallabi.Stat, error) {
	path, err := k.readPath(ctx, pathReg)
	if err != nil {
		return syscallabi.Stat{}, err
	}
	if path == "" {
		if flags&syscallabi.AT_EMPTY_PATH == 0 {
			return syscallabi.Stat{}, syscallabi.ENOENT
		}
		if dirfd == syscallabi.AT_FDCWD {
			return k.fs.Stat(fs.RootInode, "/")
		}
		return k.statFd(ctx, dirfd)
	}
	base, err := k.dirInode(ctx, dirfd, path)
	if err != nil {
		return syscallabi.Stat{}, err
	}
	return k.fs.Stat(base, path)
}

func (k *Kernel) fstat(ctx *handler.SyscallContext, fd int, bufReg syscallabi.SyscallReg) error {
	st, err := k.statFd(ctx, fd)
	if err != nil {
		return err
	}
	return memory.Write(ctx.Memory(), syscallabi.PtrOf[syscallabi.Stat](bufReg), st)
}

func (k *Kernel) newfstatat(ctx *handler.SyscallContext, dirfd int, pathReg, bufReg syscallabi.SyscallReg, flags int) error {
	if flags&^statAtFlags != 0 {
		return syscallabi.EINVAL
	}
	st, err := k.statAt(ctx, dirfd, pathReg, flags)
	if err != nil {
		return err
	}
	return memory.Write(ctx.Memory(), syscallabi.PtrOf[syscallabi.Stat](bufReg), st)
}

func (k *Kernel) statx(ctx *handler.SyscallContext, dirfd int, pathReg syscallabi.SyscallReg, flags int, mask uint32, bufReg syscallabi.SyscallReg) error {
	if flags&^statxAtFlags != 0 || flags&syscallabi.AT_STATX_SYNC_TYPE == syscallabi.AT_STATX_SYNC_TYPE {
		return syscallabi.EINVAL
	}
	if mask&statxReserved != 0 {
		return syscallabi.EINVAL
	}
	st, err := k.statAt(ctx, dirfd, pathReg, flags)
	if err != nil {
		return err
	}
	return memory.Write(ctx.Memory(), syscallabi.PtrOf[syscallabi.Statx](bufReg), st.Statx())
}

func (k *Kernel) fstatfs(ctx *handler.SyscallContext, fd int, bufReg syscallabi.SyscallReg) error {
	_, err := k.lookup(ctx, fd)
	var st syscallabi.Statfs
	if native, ok := err.(*errNative); ok {
		fst, err := native.of.Stat()
		if err != nil {
			return err
		}
		st = syscallabi.Statfs{Type: syscallabi.TMPFS_MAGIC, Bsize: fs.BlockSize, Namelen: fs.NameMax, Frsize: fs.BlockSize}
		if fst.Mode&syscallabi.S_IFMT == syscallabi.S_IFIFO {
			st.Type = syscallabi.PIPEFS_MAGIC
		}
	} else if err != nil {
		return err
	} else {
		st = k.fs.Statfs()
	}
	return memory.Write(ctx.Memory(), syscallabi.PtrOf[syscallabi.Statfs](bufReg), st)
}
