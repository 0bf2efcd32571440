package script

import (
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

var atFDCWD int64 = syscallabi.AT_FDCWD

// constants are the symbolic names usable as arguments. Names may be combined
// with '|'.
var constants = map[string]uint64{
	"AT_FDCWD":            uint64(atFDCWD),
	"AT_SYMLINK_NOFOLLOW": syscallabi.AT_SYMLINK_NOFOLLOW,
	"AT_NO_AUTOMOUNT":     syscallabi.AT_NO_AUTOMOUNT,
	"AT_EMPTY_PATH":       syscallabi.AT_EMPTY_PATH,

	"O_RDONLY":    syscallabi.O_RDONLY,
	"O_WRONLY":    syscallabi.O_WRONLY,
	"O_RDWR":      syscallabi.O_RDWR,
	"O_CREAT":     syscallabi.O_CREAT,
	"O_EXCL":      syscallabi.O_EXCL,
	"O_NOCTTY":    syscallabi.O_NOCTTY,
	"O_TRUNC":     syscallabi.O_TRUNC,
	"O_APPEND":    syscallabi.O_APPEND,
	"O_NONBLOCK":  syscallabi.O_NONBLOCK,
	"O_CLOEXEC":   syscallabi.O_CLOEXEC,
	"O_DIRECTORY": syscallabi.O_DIRECTORY,
	"O_NOFOLLOW":  syscallabi.O_NOFOLLOW,
	"O_DIRECT":    syscallabi.O_DIRECT,
	"O_LARGEFILE": syscallabi.O_LARGEFILE,

	"F_DUPFD":         syscallabi.F_DUPFD,
	"F_GETFD":         syscallabi.F_GETFD,
	"F_SETFD":         syscallabi.F_SETFD,
	"F_GETFL":         syscallabi.F_GETFL,
	"F_SETFL":         syscallabi.F_SETFL,
	"F_DUPFD_CLOEXEC": syscallabi.F_DUPFD_CLOEXEC,
	"FD_CLOEXEC":      syscallabi.FD_CLOEXEC,

	"PROT_NONE":  syscallabi.PROT_NONE,
	"PROT_READ":  syscallabi.PROT_READ,
	"PROT_WRITE": syscallabi.PROT_WRITE,
	"PROT_EXEC":  syscallabi.PROT_EXEC,

	"MAP_SHARED":          syscallabi.MAP_SHARED,
	"MAP_PRIVATE":         syscallabi.MAP_PRIVATE,
	"MAP_SHARED_VALIDATE": syscallabi.MAP_SHARED_VALIDATE,
	"MAP_FIXED":           syscallabi.MAP_FIXED,
	"MAP_ANONYMOUS":       syscallabi.MAP_ANONYMOUS,
	"MAP_ANON":            syscallabi.MAP_ANONYMOUS,
	"MAP_NORESERVE":       syscallabi.MAP_NORESERVE,
	"MAP_POPULATE":        syscallabi.MAP_POPULATE,
	"MAP_FIXED_NOREPLACE": syscallabi.MAP_FIXED_NOREPLACE,

	"MREMAP_MAYMOVE": syscallabi.MREMAP_MAYMOVE,
	"MREMAP_FIXED":   syscallabi.MREMAP_FIXED,

	"SEEK_SET": syscallabi.SEEK_SET,
	"SEEK_CUR": syscallabi.SEEK_CUR,
	"SEEK_END": syscallabi.SEEK_END,

	"MFD_CLOEXEC":       syscallabi.MFD_CLOEXEC,
	"MFD_ALLOW_SEALING": syscallabi.MFD_ALLOW_SEALING,

	"STATX_BASIC_STATS": syscallabi.STATX_BASIC_STATS,

	"NULL": 0,
}
