// Package memory mediates every access the simulator makes to guest memory.
//
// Guest addresses arrive as syscallabi.ForeignPtr values. Manager checks each
// access against the current mappings of the process and then copies bytes in
// or out; nothing in the simulator ever turns a guest address into a Go
// pointer.
package memory

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

// Access is the kind of access being validated.
type Access uint8

const (
	AccessRead Access = iota + 1
	AccessWrite
)

func (a Access) prot() Prot {
	switch a {
	case AccessRead:
		return ProtRead
	case AccessWrite:
		return ProtWrite
	default:
		syscallabi.Fatalf("bad access mode %d", a)
		return 0
	}
}

func (a Access) String() string {
	if a == AccessWrite {
		return "write"
	}
	return "read"
}

// A Provider exposes the mapping state of one address space. The Manager
// holds the Provider's lock while it calls the other methods. CopyIn and
// CopyOut are only called on ranges IsAccessible accepted.
type Provider interface {
	sync.Locker
	IsAccessible(addr, n uint64, mode Access) bool
	CopyIn(addr uint64, dst []byte)
	CopyOut(addr uint64, src []byte)
}

// A Manager validates and performs accesses to one process's memory.
type Manager struct {
	p Provider
}

func NewManager(p Provider) *Manager {
	return &Manager{p: p}
}

// CheckAccess reports EFAULT unless [addr, addr+n) is mapped with the
// permission mode needs.
func (m *Manager) CheckAccess(addr, n uint64, mode Access) error {
	m.p.Lock()
	defer m.p.Unlock()
	return m.checkLocked(addr, n, mode)
}

func (m *Manager) checkLocked(addr, n uint64, mode Access) error {
	if n == 0 {
		return nil
	}
	if addr+n < addr || !m.p.IsAccessible(addr, n, mode) {
		return syscallabi.EFAULT
	}
	return nil
}

func sizeAndAlign[T any]() (int, uint64) {
	var zero T
	size := binary.Size(zero)
	if size < 0 {
		syscallabi.Fatalf("type %T has no fixed size", zero)
	}
	return size, uint64(unsafe.Alignof(zero))
}

// Read copies a T out of guest memory.
func Read[T any](m *Manager, ptr syscallabi.ForeignPtr[T]) (T, error) {
	var v T
	size, align := sizeAndAlign[T]()
	if ptr.Addr()%align != 0 {
		return v, syscallabi.EFAULT
	}
	buf := make([]byte, size)

	m.p.Lock()
	if err := m.checkLocked(ptr.Addr(), uint64(size), AccessRead); err != nil {
		m.p.Unlock()
		return v, err
	}
	m.p.CopyIn(ptr.Addr(), buf)
	m.p.Unlock()

	if _, err := binary.Decode(buf, binary.LittleEndian, &v); err != nil {
		syscallabi.Fatalf("decoding %T: %v", v, err)
	}
	return v, nil
}

// Write copies v into guest memory. Nothing is written unless the whole
// value fits in writable memory.
func Write[T any](m *Manager, ptr syscallabi.ForeignPtr[T], v T) error {
	size, align := sizeAndAlign[T]()
	if ptr.Addr()%align != 0 {
		return syscallabi.EFAULT
	}
	buf := make([]byte, size)
	if _, err := binary.Encode(buf, binary.LittleEndian, &v); err != nil {
		syscallabi.Fatalf("encoding %T: %v", v, err)
	}

	m.p.Lock()
	defer m.p.Unlock()
	if err := m.checkLocked(ptr.Addr(), uint64(size), AccessWrite); err != nil {
		return err
	}
	m.p.CopyOut(ptr.Addr(), buf)
	return nil
}

// ReadArray copies every element of ptr out of guest memory.
func ReadArray[T any](m *Manager, ptr syscallabi.ForeignArrayPtr[T]) ([]T, error) {
	size, align := sizeAndAlign[T]()
	if ptr.Addr()%align != 0 {
		return nil, syscallabi.EFAULT
	}
	total := uint64(size) * uint64(ptr.Len())
	buf := make([]byte, total)

	m.p.Lock()
	if err := m.checkLocked(ptr.Addr(), total, AccessRead); err != nil {
		m.p.Unlock()
		return nil, err
	}
	m.p.CopyIn(ptr.Addr(), buf)
	m.p.Unlock()

	out := make([]T, ptr.Len())
	if _, err := binary.Decode(buf, binary.LittleEndian, out); err != nil {
		syscallabi.Fatalf("decoding %T: %v", out, err)
	}
	return out, nil
}

// WriteArray copies vs into the first len(vs) elements of ptr.
func WriteArray[T any](m *Manager, ptr syscallabi.ForeignArrayPtr[T], vs []T) error {
	if len(vs) > ptr.Len() {
		syscallabi.Fatalf("writing %d elements into array of %d", len(vs), ptr.Len())
	}
	size, align := sizeAndAlign[T]()
	if ptr.Addr()%align != 0 {
		return syscallabi.EFAULT
	}
	buf := make([]byte, size*len(vs))
	if _, err := binary.Encode(buf, binary.LittleEndian, vs); err != nil {
		syscallabi.Fatalf("encoding %T: %v", vs, err)
	}

	m.p.Lock()
	defer m.p.Unlock()
	if err := m.checkLocked(ptr.Addr(), uint64(len(buf)), AccessWrite); err != nil {
		return err
	}
	m.p.CopyOut(ptr.Addr(), buf)
	return nil
}

// ReadBytes fills dst from the start of ptr. dst may be shorter than ptr.
func (m *Manager) ReadBytes(ptr syscallabi.ForeignArrayPtr[byte], dst []byte) error {
	if len(dst) > ptr.Len() {
		syscallabi.Fatalf("reading %d bytes from buffer of %d", len(dst), ptr.Len())
	}
	m.p.Lock()
	defer m.p.Unlock()
	if err := m.checkLocked(ptr.Addr(), uint64(len(dst)), AccessRead); err != nil {
		return err
	}
	if len(dst) > 0 {
		m.p.CopyIn(ptr.Addr(), dst)
	}
	return nil
}

// WriteBytes copies src to the start of ptr.
func (m *Manager) WriteBytes(ptr syscallabi.ForeignArrayPtr[byte], src []byte) error {
	if len(src) > ptr.Len() {
		syscallabi.Fatalf("writing %d bytes into buffer of %d", len(src), ptr.Len())
	}
	m.p.Lock()
	defer m.p.Unlock()
	if err := m.checkLocked(ptr.Addr(), uint64(len(src)), AccessWrite); err != nil {
		return err
	}
	if len(src) > 0 {
		m.p.CopyOut(ptr.Addr(), src)
	}
	return nil
}

// ReadString reads a NUL-terminated string of at most maxLen bytes, excluding
// the terminator. A string without a terminator in the first maxLen+1 bytes is
// ENAMETOOLONG. Reading stops at the first inaccessible byte with EFAULT.
func (m *Manager) ReadString(ptr syscallabi.ForeignPtr[byte], maxLen int) (string, error) {
	m.p.Lock()
	defer m.p.Unlock()

	var out []byte
	addr := ptr.Addr()
	for len(out) <= maxLen {
		// read up to the next page boundary so a string ending right before
		// an unmapped page is still valid
		n := min(PageSize-addr%PageSize, uint64(maxLen+1-len(out)))
		if err := m.checkLocked(addr, n, AccessRead); err != nil {
			return "", err
		}
		chunk := make([]byte, n)
		m.p.CopyIn(addr, chunk)
		for i, b := range chunk {
			if b == 0 {
				return string(append(out, chunk[:i]...)), nil
			}
		}
		out = append(out, chunk...)
		addr += n
	}
	return "", syscallabi.ENAMETOOLONG
}
