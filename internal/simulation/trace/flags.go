package trace

import (
	"fmt"
	"strings"

	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

// A flagSet renders a flags register like strace: the enumerated field under
// mask first, then named bits in table order, then leftover bits in hex.
type flagSet struct {
	mask  int
	field map[int]string
	bits  []flagBit
	// zero names the value 0 when there is no enumerated field.
	zero string
}

type flagBit struct {
	value int
	name  string
}

func (f *flagSet) format(v int) string {
	var parts []string
	if f.mask != 0 {
		masked := v & f.mask
		v &^= f.mask
		if name, ok := f.field[masked]; ok {
			parts = append(parts, name)
		} else {
			parts = append(parts, fmt.Sprintf("%#x", uint32(masked)))
		}
	}
	for _, b := range f.bits {
		if v&b.value == b.value {
			v &^= b.value
			parts = append(parts, b.name)
		}
	}
	if v != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(v)))
	}
	if len(parts) == 0 {
		if f.zero != "" {
			return f.zero
		}
		return "0"
	}
	return strings.Join(parts, "|")
}

var openFlags = &flagSet{
	mask: syscallabi.O_ACCMODE,
	field: map[int]string{
		syscallabi.O_RDONLY: "O_RDONLY",
		syscallabi.O_WRONLY: "O_WRONLY",
		syscallabi.O_RDWR:   "O_RDWR",
	},
	bits: []flagBit{
		{syscallabi.O_CREAT, "O_CREAT"},
		{syscallabi.O_EXCL, "O_EXCL"},
		{syscallabi.O_NOCTTY, "O_NOCTTY"},
		{syscallabi.O_TRUNC, "O_TRUNC"},
		{syscallabi.O_APPEND, "O_APPEND"},
		{syscallabi.O_NONBLOCK, "O_NONBLOCK"},
		{syscallabi.O_DIRECT, "O_DIRECT"},
		{syscallabi.O_LARGEFILE, "O_LARGEFILE"},
		{syscallabi.O_DIRECTORY, "O_DIRECTORY"},
		{syscallabi.O_NOFOLLOW, "O_NOFOLLOW"},
		{syscallabi.O_CLOEXEC, "O_CLOEXEC"},
	},
}

var protFlags = &flagSet{
	bits: []flagBit{
		{syscallabi.PROT_READ, "PROT_READ"},
		{syscallabi.PROT_WRITE, "PROT_WRITE"},
		{syscallabi.PROT_EXEC, "PROT_EXEC"},
	},
	zero: "PROT_NONE",
}

var mapFlags = &flagSet{
	mask: syscallabi.MAP_TYPE,
	field: map[int]string{
		syscallabi.MAP_SHARED:          "MAP_SHARED",
		syscallabi.MAP_PRIVATE:         "MAP_PRIVATE",
		syscallabi.MAP_SHARED_VALIDATE: "MAP_SHARED_VALIDATE",
	},
	bits: []flagBit{
		{syscallabi.MAP_FIXED, "MAP_FIXED"},
		{syscallabi.MAP_ANONYMOUS, "MAP_ANONYMOUS"},
		{syscallabi.MAP_NORESERVE, "MAP_NORESERVE"},
		{syscallabi.MAP_POPULATE, "MAP_POPULATE"},
		{syscallabi.MAP_FIXED_NOREPLACE, "MAP_FIXED_NOREPLACE"},
	},
}

var mremapFlags = &flagSet{
	bits: []flagBit{
		{syscallabi.MREMAP_MAYMOVE, "MREMAP_MAYMOVE"},
		{syscallabi.MREMAP_FIXED, "MREMAP_FIXED"},
	},
}

var atFlags = &flagSet{
	bits: []flagBit{
		{syscallabi.AT_SYMLINK_NOFOLLOW, "AT_SYMLINK_NOFOLLOW"},
		{syscallabi.AT_NO_AUTOMOUNT, "AT_NO_AUTOMOUNT"},
		{syscallabi.AT_EMPTY_PATH, "AT_EMPTY_PATH"},
	},
}

var memfdFlags = &flagSet{
	bits: []flagBit{
		{syscallabi.MFD_CLOEXEC, "MFD_CLOEXEC"},
		{syscallabi.MFD_ALLOW_SEALING, "MFD_ALLOW_SEALING"},
	},
}

var fcntlCmds = map[int]string{
	syscallabi.F_DUPFD:         "F_DUPFD",
	syscallabi.F_GETFD:         "F_GETFD",
	syscallabi.F_SETFD:         "F_SETFD",
	syscallabi.F_GETFL:         "F_GETFL",
	syscallabi.F_SETFL:         "F_SETFL",
	syscallabi.F_DUPFD_CLOEXEC: "F_DUPFD_CLOEXEC",
}

var whences = map[int]string{
	syscallabi.SEEK_SET: "SEEK_SET",
	syscallabi.SEEK_CUR: "SEEK_CUR",
	syscallabi.SEEK_END: "SEEK_END",
}
