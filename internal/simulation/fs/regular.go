package fs

import (
	"github.com/kmrgirish/hostsim/internal/simulation/chunked"
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

// MemfdDev is the device number reported for anonymous native files.
const MemfdDev = 0x1

// A Regular is an anonymous in-memory file, as created by memfd_create. It is
// always readable and writable, so it never blocks.
type Regular struct {
	name string
	ino  uint64
	mode uint32
	data *chunked.File
	ps   syscallabi.Pollers
}

func NewRegular(name string, ino uint64, mode uint32) *Regular {
	return NewRegularFromBytes(name, ino, mode, nil)
}

func NewRegularFromBytes(name string, ino uint64, mode uint32, data []byte) *Regular {
	f := &Regular{
		name: name,
		ino:  ino,
		mode: mode & 0o7777,
		data: chunked.FromBytes(data),
	}
	f.ps.Notify(syscallabi.Readable | syscallabi.Writable)
	return f
}

func (f *Regular) Name() string {
	return f.name
}

func (f *Regular) Stat() (syscallabi.Stat, error) {
	if f.data == nil {
		return syscallabi.Stat{}, syscallabi.EBADF
	}
	size := int64(f.data.Size())
	return syscallabi.Stat{
		Dev:     MemfdDev,
		Ino:     f.ino,
		Nlink:   1,
		Mode:    syscallabi.S_IFREG | f.mode,
		Size:    size,
		Blksize: BlockSize,
		Blocks:  (size + 511) / 512,
	}, nil
}

func (f *Regular) ReadAt(dst []byte, off int64) (int, error) {
	return f.data.ReadAt(dst, int(off)), nil
}

func (f *Regular) WriteAt(src []byte, off int64) (int, error) {
	if off+int64(len(src)) < off {
		return 0, syscallabi.EINVAL
	}
	f.data.WriteAt(src, int(off))
	return len(src), nil
}

func (f *Regular) Size() int64 {
	return int64(f.data.Size())
}

func (f *Regular) Seekable() bool {
	return true
}

func (f *Regular) Pollers() *syscallabi.Pollers {
	return &f.ps
}

func (f *Regular) Close() error {
	f.data.Free()
	f.data = nil
	return nil
}
