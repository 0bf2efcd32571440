// Package descriptor implements the per-process descriptor table and the
// file objects it refers to.
//
// A descriptor refers to a CompatFile, which is either a *LegacyFile (an
// opaque handle owned by the legacy subsystem) or an *OpenFile wrapping a
// native File. Both variants are reference counted; duplicated descriptors
// and in-flight syscalls hold references, and the underlying file is closed
// when the last one is released.
package descriptor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

// File is the capability set of a native file implementation. Errors are
// syscallabi.Errno values.
type File interface {
	Stat() (syscallabi.Stat, error)
	// ReadAt and WriteAt ignore off for files that are not seekable.
	ReadAt(dst []byte, off int64) (int, error)
	WriteAt(src []byte, off int64) (int, error)
	Size() int64
	Seekable() bool
	Pollers() *syscallabi.Pollers
	Close() error
}

// An OpenFile is a native open file description: a File plus the offset and
// status flags shared by all descriptors duplicated from it.
type OpenFile struct {
	refs atomic.Int32

	mu     sync.Mutex
	file   File
	flags  int
	pos    int64
	closed bool
}

// statusFlags are the flags F_SETFL may change.
const statusFlags = syscallabi.O_APPEND | syscallabi.O_NONBLOCK

// NewOpenFile returns an OpenFile holding one reference. flags are the open
// flags; only the access mode and status flags are kept.
func NewOpenFile(f File, flags int) *OpenFile {
	of := &OpenFile{
		file:  f,
		flags: flags & (syscallabi.O_ACCMODE | statusFlags),
	}
	of.refs.Store(1)
	return of
}

// Clone takes another reference.
func (f *OpenFile) Clone() *OpenFile {
	if f.refs.Add(1) <= 1 {
		syscallabi.Fatalf("clone of released file")
	}
	return f
}

// Release drops a reference and closes the file when it was the last one.
func (f *OpenFile) Release() error {
	n := f.refs.Add(-1)
	if n < 0 {
		syscallabi.Fatalf("file released too often")
	}
	if n > 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.file.Close()
}

func (f *OpenFile) Refs() int {
	return int(f.refs.Load())
}

func (f *OpenFile) File() File {
	return f.file
}

func (f *OpenFile) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Flags returns the access mode and status flags.
func (f *OpenFile) Flags() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags
}

// SetStatusFlags implements F_SETFL. The access mode and any other bits are
// ignored.
func (f *OpenFile) SetStatusFlags(flags int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = f.flags&^statusFlags | flags&statusFlags
}

func (f *OpenFile) Stat() (syscallabi.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Stat()
}

func (f *OpenFile) canRead() bool {
	return f.flags&syscallabi.O_ACCMODE != syscallabi.O_WRONLY
}

func (f *OpenFile) canWrite() bool {
	return f.flags&syscallabi.O_ACCMODE != syscallabi.O_RDONLY
}

// wouldBlock turns EAGAIN into a *syscallabi.Blocked for blocking files.
func (f *OpenFile) wouldBlock(err error, want syscallabi.Readiness) error {
	if err != syscallabi.EAGAIN || f.flags&syscallabi.O_NONBLOCK != 0 {
		return err
	}
	return &syscallabi.Blocked{Cond: syscallabi.NewCondition(f.file.Pollers(), want)}
}

// Read reads at the current offset and advances it.
func (f *OpenFile) Read(dst []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.canRead() {
		return 0, syscallabi.EBADF
	}
	n, err := f.file.ReadAt(dst, f.pos)
	if err != nil {
		return 0, f.wouldBlock(err, syscallabi.Readable|syscallabi.Closed)
	}
	if f.file.Seekable() {
		f.pos += int64(n)
	}
	return n, nil
}

// Write writes at the current offset, or at the end for O_APPEND, and
// advances the offset.
func (f *OpenFile) Write(src []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.canWrite() {
		return 0, syscallabi.EBADF
	}
	if f.flags&syscallabi.O_APPEND != 0 && f.file.Seekable() {
		f.pos = f.file.Size()
	}
	n, err := f.file.WriteAt(src, f.pos)
	if err != nil {
		return 0, f.wouldBlock(err, syscallabi.Writable|syscallabi.Closed)
	}
	if f.file.Seekable() {
		f.pos += int64(n)
	}
	return n, nil
}

// Seek implements lseek.
func (f *OpenFile) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.file.Seekable() {
		return 0, syscallabi.ESPIPE
	}
	var base int64
	switch whence {
	case syscallabi.SEEK_SET:
	case syscallabi.SEEK_CUR:
		base = f.pos
	case syscallabi.SEEK_END:
		base = f.file.Size()
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

func (f *OpenFile) String() string {
	return fmt.Sprintf("native(%T)", f.file)
}

// A LegacyHandle identifies a file inside the legacy subsystem.
type LegacyHandle uint64

// A LegacyFile is a reference to a file owned by the legacy subsystem. Only
// the legacy side interprets the handle.
type LegacyFile struct {
	refs    atomic.Int32
	handle  LegacyHandle
	release func(LegacyHandle) error
}

// NewLegacyFile returns a LegacyFile holding one reference. release is called
// once the last reference is dropped.
func NewLegacyFile(handle LegacyHandle, release func(LegacyHandle) error) *LegacyFile {
	f := &LegacyFile{
		handle:  handle,
		release: release,
	}
	f.refs.Store(1)
	return f
}

func (f *LegacyFile) Handle() LegacyHandle {
	return f.handle
}

func (f *LegacyFile) Clone() *LegacyFile {
	if f.refs.Add(1) <= 1 {
		syscallabi.Fatalf("clone of released legacy file")
	}
	return f
}

func (f *LegacyFile) Release() error {
	n := f.refs.Add(-1)
	if n < 0 {
		syscallabi.Fatalf("legacy file released too often")
	}
	if n > 0 || f.release == nil {
		return nil
	}
	return f.release(f.handle)
}

func (f *LegacyFile) Refs() int {
	return int(f.refs.Load())
}

func (f *LegacyFile) String() string {
	return fmt.Sprintf("legacy(%d)", f.handle)
}

// A CompatFile is either a legacy or a native file. The variant is chosen
// when it is created and cannot change.
type CompatFile struct {
	legacy *LegacyFile
	native *OpenFile
}

func NewLegacy(f *LegacyFile) CompatFile {
	if f == nil {
		syscallabi.Fatalf("nil legacy file")
	}
	return CompatFile{legacy: f}
}

func NewNative(f *OpenFile) CompatFile {
	if f == nil {
		syscallabi.Fatalf("nil native file")
	}
	return CompatFile{native: f}
}

func (c CompatFile) IsLegacy() bool {
	return c.legacy != nil
}

func (c CompatFile) AsLegacy() (*LegacyFile, bool) {
	return c.legacy, c.legacy != nil
}

func (c CompatFile) AsNative() (*OpenFile, bool) {
	return c.native, c.native != nil
}

// Clone takes another reference on the underlying file.
func (c CompatFile) Clone() CompatFile {
	if c.legacy != nil {
		return CompatFile{legacy: c.legacy.Clone()}
	}
	return CompatFile{native: c.native.Clone()}
}

func (c CompatFile) Release() error {
	if c.legacy != nil {
		return c.legacy.Release()
	}
	return c.native.Release()
}

func (c CompatFile) String() string {
	if c.legacy != nil {
		return c.legacy.String()
	}
	return c.native.String()
}
