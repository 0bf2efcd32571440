// Package trace describes syscall arguments for tracing and delivers
// decoded syscall records to a sink.
package trace

import (
	"fmt"
	"strconv"

	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

// Kind is the semantic type of a syscall argument.
type Kind int

const (
	Int Kind = iota
	Uint
	Hex
	Fd
	DirFd
	Ptr
	Size
	Offset
	Path
	OpenFlags
	Mode
	ProtFlags
	MapFlags
	MRemapFlags
	AtFlags
	FcntlCmd
	Whence
	MemfdFlags
	StatxMask
)

// An Arg names one argument position.
type Arg struct {
	Name string
	Kind Kind
}

// A Schema lists the arguments of a syscall in register order.
type Schema []Arg

// A Value is a decoded argument.
type Value struct {
	Name string
	Kind Kind
	Raw  uint64
	// Str is the string a Path argument points to. Err is set instead when
	// the string could not be read.
	Str string
	Err error
}

// StringReader reads a NUL-terminated string from guest memory.
type StringReader func(addr uint64) (string, error)

// MaxPath is the longest path decoded for tracing.
const MaxPath = 4096

// Decode interprets args according to s. Path arguments are read with
// readString; a failure to read is recorded in the value, never returned.
func (s Schema) Decode(args *syscallabi.SysCallArgs, readString StringReader) []Value {
	out := make([]Value, len(s))
	for i, arg := range s {
		raw := args.Args[i].U64()
		v := Value{Name: arg.Name, Kind: arg.Kind, Raw: raw}
		if arg.Kind == Path && readString != nil {
			v.Str, v.Err = readString(raw)
		}
		out[i] = v
	}
	return out
}

func (v Value) String() string {
	switch v.Kind {
	case Int, Size, Offset:
		return strconv.FormatInt(int64(v.Raw), 10)
	case Fd:
		return strconv.Itoa(int(int32(v.Raw)))
	case DirFd:
		if int32(v.Raw) == syscallabi.AT_FDCWD {
			return "AT_FDCWD"
		}
		return strconv.Itoa(int(int32(v.Raw)))
	case Uint:
		return strconv.FormatUint(v.Raw, 10)
	case Hex, Ptr:
		if v.Raw == 0 && v.Kind == Ptr {
			return "NULL"
		}
		return fmt.Sprintf("%#x", v.Raw)
	case Path:
		if v.Err != nil {
			return fmt.Sprintf("%#x <%s>", v.Raw, errString(v.Err))
		}
		return strconv.Quote(v.Str)
	case OpenFlags:
		return openFlags.format(int(int32(v.Raw)))
	case Mode:
		return fmt.Sprintf("%#o", uint32(v.Raw))
	case ProtFlags:
		return protFlags.format(int(int32(v.Raw)))
	case MapFlags:
		return mapFlags.format(int(int32(v.Raw)))
	case MRemapFlags:
		return mremapFlags.format(int(int32(v.Raw)))
	case AtFlags:
		return atFlags.format(int(int32(v.Raw)))
	case FcntlCmd:
		if name, ok := fcntlCmds[int(int32(v.Raw))]; ok {
			return name
		}
		return strconv.Itoa(int(int32(v.Raw)))
	case Whence:
		if name, ok := whences[int(int32(v.Raw))]; ok {
			return name
		}
		return strconv.Itoa(int(int32(v.Raw)))
	case MemfdFlags:
		return memfdFlags.format(int(uint32(v.Raw)))
	case StatxMask:
		return fmt.Sprintf("%#x", uint32(v.Raw))
	default:
		return fmt.Sprintf("%#x", v.Raw)
	}
}

func errString(err error) string {
	if errno, ok := syscallabi.ErrnoOf(err); ok {
		return syscallabi.ErrnoName(errno)
	}
	return err.Error()
}
