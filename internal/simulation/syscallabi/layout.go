package syscallabi

// Guest struct layouts for x86_64. Field order and padding match the kernel
// ABI so that encoding/binary produces the exact bytes the guest expects.

type Timespec struct {
	Sec  int64
	Nsec int64
}

// Stat is struct stat as written by fstat and newfstatat (144 bytes).
type Stat struct {
	Dev     uint64
	Ino     uint64
	Nlink   uint64
	Mode    uint32
	Uid     uint32
	Gid     uint32
	_       int32
	Rdev    uint64
	Size    int64
	Blksize int64
	Blocks  int64
	Atim    Timespec
	Mtim    Timespec
	Ctim    Timespec
	_       [3]int64
}

type StatxTimestamp struct {
	Sec  int64
	Nsec uint32
	_    int32
}

// Statx is struct statx (256 bytes).
type Statx struct {
	Mask           uint32
	Blksize        uint32
	Attributes     uint64
	Nlink          uint32
	Uid            uint32
	Gid            uint32
	Mode           uint16
	_              uint16
	Ino            uint64
	Size           uint64
	Blocks         uint64
	AttributesMask uint64
	Atime          StatxTimestamp
	Btime          StatxTimestamp
	Ctime          StatxTimestamp
	Mtime          StatxTimestamp
	RdevMajor      uint32
	RdevMinor      uint32
	DevMajor       uint32
	DevMinor       uint32
	MntID          uint64
	DioMemAlign    uint32
	DioOffsetAlign uint32
	_              [12]uint64
}

// Statfs is struct statfs (120 bytes).
type Statfs struct {
	Type    int64
	Bsize   int64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Fsid    [2]int32
	Namelen int64
	Frsize  int64
	Flags   int64
	_       [4]int64
}

// Statx converts a stat record into the statx layout, filling in the fields
// selected by STATX_BASIC_STATS.
func (s *Stat) Statx() Statx {
	ts := func(t Timespec) StatxTimestamp {
		return StatxTimestamp{Sec: t.Sec, Nsec: uint32(t.Nsec)}
	}
	return Statx{
		Mask:     STATX_BASIC_STATS,
		Blksize:  uint32(s.Blksize),
		Nlink:    uint32(s.Nlink),
		Uid:      s.Uid,
		Gid:      s.Gid,
		Mode:     uint16(s.Mode),
		Ino:      s.Ino,
		Size:     uint64(s.Size),
		Blocks:   uint64(s.Blocks),
		Atime:    ts(s.Atim),
		Ctime:    ts(s.Ctim),
		Mtime:    ts(s.Mtim),
		DevMajor: uint32(s.Dev >> 8),
		DevMinor: uint32(s.Dev & 0xff),
	}
}
