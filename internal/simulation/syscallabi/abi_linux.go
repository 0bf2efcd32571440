//go:build linux

package syscallabi

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// The guest ABI is x86_64 Linux. Errno values and the flag constants below are
// identical across Linux architectures, so they are taken from x/sys/unix. The
// few values that differ between architectures are spelled out explicitly.

// Errno is a guest-visible error number.
type Errno = unix.Errno

// ErrnoName returns the symbolic name of an errno, like "EBADF".
func ErrnoName(e Errno) string {
	if name := unix.ErrnoName(e); name != "" {
		return name
	}
	return fmt.Sprintf("errno(%d)", uint64(e))
}

// LookupErrno finds an errno by its symbolic name.
func LookupErrno(name string) (Errno, bool) {
	for e := Errno(1); e < MaxErrno; e++ {
		if unix.ErrnoName(e) == name {
			return e, true
		}
	}
	return 0, false
}

const (
	EPERM        = unix.EPERM
	ENOENT       = unix.ENOENT
	EINTR        = unix.EINTR
	EBADF        = unix.EBADF
	EAGAIN       = unix.EAGAIN
	ENOMEM       = unix.ENOMEM
	EACCES       = unix.EACCES
	EFAULT       = unix.EFAULT
	EEXIST       = unix.EEXIST
	ENODEV       = unix.ENODEV
	ENOTDIR      = unix.ENOTDIR
	EISDIR       = unix.EISDIR
	EINVAL       = unix.EINVAL
	EMFILE       = unix.EMFILE
	ESPIPE       = unix.ESPIPE
	EPIPE        = unix.EPIPE
	ERANGE       = unix.ERANGE
	ENAMETOOLONG = unix.ENAMETOOLONG
	ENOSYS       = unix.ENOSYS
	EOPNOTSUPP   = unix.EOPNOTSUPP
)

const (
	O_ACCMODE   = unix.O_ACCMODE
	O_RDONLY    = unix.O_RDONLY
	O_WRONLY    = unix.O_WRONLY
	O_RDWR      = unix.O_RDWR
	O_CREAT     = unix.O_CREAT
	O_EXCL      = unix.O_EXCL
	O_NOCTTY    = unix.O_NOCTTY
	O_TRUNC     = unix.O_TRUNC
	O_APPEND    = unix.O_APPEND
	O_NONBLOCK  = unix.O_NONBLOCK
	O_CLOEXEC   = unix.O_CLOEXEC
	O_DIRECTORY = 0x10000 // x86_64 value; differs on arm64
	O_NOFOLLOW  = 0x20000 // x86_64 value; differs on arm64
	O_DIRECT    = 0x4000  // x86_64 value; differs on arm64
	O_LARGEFILE = 0x8000  // x86_64 value; differs on arm64
)

const (
	AT_FDCWD            = unix.AT_FDCWD
	AT_SYMLINK_NOFOLLOW = unix.AT_SYMLINK_NOFOLLOW
	AT_NO_AUTOMOUNT     = unix.AT_NO_AUTOMOUNT
	AT_EMPTY_PATH       = unix.AT_EMPTY_PATH
	AT_STATX_SYNC_TYPE  = unix.AT_STATX_FORCE_SYNC | unix.AT_STATX_DONT_SYNC
)

const (
	F_DUPFD         = unix.F_DUPFD
	F_GETFD         = unix.F_GETFD
	F_SETFD         = unix.F_SETFD
	F_GETFL         = unix.F_GETFL
	F_SETFL         = unix.F_SETFL
	F_DUPFD_CLOEXEC = unix.F_DUPFD_CLOEXEC
	FD_CLOEXEC      = unix.FD_CLOEXEC
)

const (
	PROT_NONE  = unix.PROT_NONE
	PROT_READ  = unix.PROT_READ
	PROT_WRITE = unix.PROT_WRITE
	PROT_EXEC  = unix.PROT_EXEC

	MAP_SHARED          = unix.MAP_SHARED
	MAP_PRIVATE         = unix.MAP_PRIVATE
	MAP_SHARED_VALIDATE = 0x3
	MAP_TYPE            = 0xf
	MAP_FIXED           = unix.MAP_FIXED
	MAP_ANONYMOUS       = unix.MAP_ANONYMOUS
	MAP_NORESERVE       = unix.MAP_NORESERVE
	MAP_POPULATE        = unix.MAP_POPULATE
	MAP_FIXED_NOREPLACE = 0x100000

	MREMAP_MAYMOVE = unix.MREMAP_MAYMOVE
	MREMAP_FIXED   = unix.MREMAP_FIXED
)

const (
	S_IFMT   = unix.S_IFMT
	S_IFIFO  = unix.S_IFIFO
	S_IFDIR  = unix.S_IFDIR
	S_IFREG  = unix.S_IFREG
	S_IFLNK  = unix.S_IFLNK
	S_IFSOCK = unix.S_IFSOCK

	STATX_BASIC_STATS = unix.STATX_BASIC_STATS

	MFD_CLOEXEC       = unix.MFD_CLOEXEC
	MFD_ALLOW_SEALING = unix.MFD_ALLOW_SEALING

	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2

	TMPFS_MAGIC  = unix.TMPFS_MAGIC
	PIPEFS_MAGIC = unix.PIPEFS_MAGIC
)
