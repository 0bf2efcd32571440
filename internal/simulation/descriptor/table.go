package descriptor

import (
	"github.com/google/btree"

	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

// DefaultLimit is the default RLIMIT_NOFILE.
const DefaultLimit = 1024

// DescriptorFlags are per-descriptor flags; only FD_CLOEXEC exists.
type DescriptorFlags int

const CloseOnExec DescriptorFlags = syscallabi.FD_CLOEXEC

// A Descriptor is one entry in a Table. It holds one reference on its file.
type Descriptor struct {
	file  CompatFile
	flags DescriptorFlags
}

// NewDescriptor takes ownership of the reference held by f.
func NewDescriptor(f CompatFile, flags DescriptorFlags) *Descriptor {
	return &Descriptor{file: f, flags: flags}
}

func (d *Descriptor) File() CompatFile {
	return d.file
}

func (d *Descriptor) Flags() DescriptorFlags {
	return d.flags
}

func (d *Descriptor) SetFlags(flags DescriptorFlags) {
	d.flags = flags & CloseOnExec
}

// Release drops the descriptor's file reference.
func (d *Descriptor) Release() error {
	return d.file.Release()
}

// A Table maps descriptor numbers to descriptors for one process.
//
// Every number below next is either in use or in available, so the lowest
// free number is the smallest of available or else next.
//
// A Table is not synchronized; the owning process runs one syscall at a time.
type Table struct {
	descriptors map[int]*Descriptor
	available   *btree.BTreeG[int]
	next        int
	limit       int
}

func NewTable(limit int) *Table {
	return &Table{
		descriptors: make(map[int]*Descriptor),
		available:   btree.NewOrderedG[int](8),
		limit:       limit,
	}
}

func (t *Table) Limit() int {
	return t.limit
}

func (t *Table) Len() int {
	return len(t.descriptors)
}

// Get resolves fd. Absent, negative, and out of range descriptors are EBADF.
func (t *Table) Get(fd int) (*Descriptor, error) {
	if fd < 0 || fd >= t.limit {
		return nil, syscallabi.EBADF
	}
	d, ok := t.descriptors[fd]
	if !ok {
		return nil, syscallabi.EBADF
	}
	return d, nil
}

// Insert adds d at the lowest free descriptor number.
func (t *Table) Insert(d *Descriptor) (int, error) {
	return t.InsertAtLeast(d, 0)
}

// InsertAtLeast adds d at the lowest free descriptor number that is at least
// minFd, as F_DUPFD does. A minFd outside the table is EINVAL.
func (t *Table) InsertAtLeast(d *Descriptor, minFd int) (int, error) {
	if minFd < 0 || minFd >= t.limit {
		return 0, syscallabi.EINVAL
	}

	fd := -1
	t.available.AscendGreaterOrEqual(minFd, func(item int) bool {
		fd = item
		return false
	})
	if fd == -1 {
		fd = max(minFd, t.next)
	}
	if fd >= t.limit {
		return 0, syscallabi.EMFILE
	}
	t.claim(fd)
	t.descriptors[fd] = d
	return fd, nil
}

// claim marks fd as used, keeping next and available consistent.
func (t *Table) claim(fd int) {
	if fd < t.next {
		t.available.Delete(fd)
		return
	}
	for i := t.next; i < fd; i++ {
		t.available.ReplaceOrInsert(i)
	}
	t.next = fd + 1
}

// release marks fd as free.
func (t *Table) release(fd int) {
	if fd != t.next-1 {
		t.available.ReplaceOrInsert(fd)
		return
	}
	t.next--
	for t.next > 0 {
		if _, ok := t.available.Get(t.next - 1); !ok {
			break
		}
		t.available.Delete(t.next - 1)
		t.next--
	}
}

// Set installs d at fd, as dup2 does. A descriptor already at fd is released.
func (t *Table) Set(fd int, d *Descriptor) error {
	if fd < 0 || fd >= t.limit {
		return syscallabi.EBADF
	}
	if old, ok := t.descriptors[fd]; ok {
		// errors closing the displaced file are not reported, as in dup2
		_ = old.Release()
	} else {
		t.claim(fd)
	}
	t.descriptors[fd] = d
	return nil
}

// Remove takes fd out of the table. The caller owns the returned descriptor's
// file reference.
func (t *Table) Remove(fd int) (*Descriptor, error) {
	d, err := t.Get(fd)
	if err != nil {
		return nil, err
	}
	delete(t.descriptors, fd)
	t.release(fd)
	return d, nil
}

// Dup adds a new descriptor sharing fd's file at the lowest free number at
// least minFd.
func (t *Table) Dup(fd int, minFd int, flags DescriptorFlags) (int, error) {
	d, err := t.Get(fd)
	if err != nil {
		return 0, err
	}
	file := d.file.Clone()
	newFd, err := t.InsertAtLeast(NewDescriptor(file, flags), minFd)
	if err != nil {
		_ = file.Release()
		return 0, err
	}
	return newFd, nil
}

// Each calls f for every descriptor in increasing order until f returns
// false.
func (t *Table) Each(f func(fd int, d *Descriptor) bool) {
	for fd := 0; fd < t.next; fd++ {
		if d, ok := t.descriptors[fd]; ok {
			if !f(fd, d) {
				return
			}
		}
	}
}

// RemoveAll empties the table and releases every descriptor. The first
// error from closing a file is returned.
func (t *Table) RemoveAll() error {
	var firstErr error
	t.Each(func(fd int, d *Descriptor) bool {
		if err := d.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	clear(t.descriptors)
	t.available.Clear(false)
	t.next = 0
	return firstErr
}
