package memory

import (
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/kmrgirish/hostsim/internal/simulation/chunked"
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

const (
	PageSize = 4096

	// DefaultMmapBase is where bottom-up searches for free address space
	// start.
	DefaultMmapBase = 0x7f0000000000

	// TaskSize is the first address past the guest's user address space.
	TaskSize = 0x7ffffffff000
)

// PageAlign rounds n up to a multiple of PageSize. ok is false on overflow.
func PageAlign(n uint64) (aligned uint64, ok bool) {
	aligned = (n + PageSize - 1) &^ (PageSize - 1)
	return aligned, aligned >= n
}

// Prot is a set of PROT_* bits.
type Prot uint32

const (
	ProtNone  Prot = syscallabi.PROT_NONE
	ProtRead  Prot = syscallabi.PROT_READ
	ProtWrite Prot = syscallabi.PROT_WRITE
	ProtExec  Prot = syscallabi.PROT_EXEC
)

func (p Prot) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// A region is a page-aligned range of mapped guest memory. Its data always
// holds exactly length bytes.
type region struct {
	start  uint64
	length uint64
	prot   Prot
	name   string
	data   *chunked.File
}

func (r *region) end() uint64 {
	return r.start + r.length
}

// Region describes a mapping for inspection.
type Region struct {
	Start  uint64
	Length uint64
	Prot   Prot
	Name   string
}

func (r Region) String() string {
	return fmt.Sprintf("%#x-%#x %s %s", r.Start, r.Start+r.Length, r.Prot, r.Name)
}

// An AddressSpace is the simulated virtual memory of one process. Regions are
// kept in a btree ordered by start address and never overlap.
//
// The mapping methods (Map, MapFixed, Unmap, Protect, Remap) lock the address
// space themselves. The Provider methods expect the caller to hold the lock,
// which Manager does for the duration of one access.
type AddressSpace struct {
	mu       sync.Mutex
	regions  *btree.BTreeG[*region]
	mmapBase uint64
}

func NewAddressSpace() *AddressSpace {
	return &AddressSpace{
		regions: btree.NewG(8, func(a, b *region) bool {
			return a.start < b.start
		}),
		mmapBase: DefaultMmapBase,
	}
}

func (as *AddressSpace) Lock()   { as.mu.Lock() }
func (as *AddressSpace) Unlock() { as.mu.Unlock() }

// regionAt returns the region containing addr.
func (as *AddressSpace) regionAt(addr uint64) *region {
	var found *region
	as.regions.DescendLessOrEqual(&region{start: addr}, func(r *region) bool {
		if addr < r.end() {
			found = r
		}
		return false
	})
	return found
}

// overlapping returns all regions intersecting [start, end) in address order.
func (as *AddressSpace) overlapping(start, end uint64) []*region {
	var out []*region
	if r := as.regionAt(start); r != nil {
		out = append(out, r)
	}
	as.regions.AscendRange(&region{start: start + 1}, &region{start: end}, func(r *region) bool {
		out = append(out, r)
		return true
	})
	return out
}

// splitAt makes sure no region straddles addr.
func (as *AddressSpace) splitAt(addr uint64) {
	r := as.regionAt(addr)
	if r == nil || r.start == addr {
		return
	}
	offset := addr - r.start
	tail := &region{
		start:  addr,
		length: r.length - offset,
		prot:   r.prot,
		name:   r.name,
		data:   r.data.Split(int(offset)),
	}
	r.length = offset
	as.regions.ReplaceOrInsert(tail)
}

func (as *AddressSpace) unmapLocked(start, end uint64) {
	as.splitAt(start)
	as.splitAt(end)
	for _, r := range as.overlapping(start, end) {
		as.regions.Delete(r)
		r.data.Free()
	}
}

func (as *AddressSpace) isFree(start, end uint64) bool {
	return len(as.overlapping(start, end)) == 0
}

func checkRange(addr, length uint64) (uint64, error) {
	if addr%PageSize != 0 {
		return 0, syscallabi.EINVAL
	}
	length, ok := PageAlign(length)
	if !ok || length == 0 {
		return 0, syscallabi.EINVAL
	}
	if addr+length < addr || addr+length > TaskSize {
		return 0, syscallabi.ENOMEM
	}
	return length, nil
}

// findFreeLocked returns the lowest free range of length bytes at or above
// from.
func (as *AddressSpace) findFreeLocked(length, from uint64) (uint64, bool) {
	candidate := from
	if r := as.regionAt(candidate); r != nil {
		candidate = r.end()
	}
	found := false
	as.regions.AscendGreaterOrEqual(&region{start: candidate}, func(r *region) bool {
		if r.start >= candidate+length {
			found = true
			return false
		}
		candidate = max(candidate, r.end())
		return true
	})
	if !found && (candidate+length < candidate || candidate+length > TaskSize) {
		return 0, false
	}
	return candidate, true
}

// FindFree returns the lowest free, page-aligned range of length bytes at or
// above the mmap base.
func (as *AddressSpace) FindFree(length uint64) (uint64, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	length, ok := PageAlign(length)
	if !ok || length == 0 {
		return 0, false
	}
	return as.findFreeLocked(length, as.mmapBase)
}

// Overlaps reports whether any page in [addr, addr+length) is mapped.
func (as *AddressSpace) Overlaps(addr, length uint64) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	length, _ = PageAlign(length)
	return !as.isFree(addr, addr+length)
}

// MapFixed maps zeroed memory at exactly addr, replacing whatever was mapped
// there before.
func (as *AddressSpace) MapFixed(addr, length uint64, prot Prot, name string) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	length, err := checkRange(addr, length)
	if err != nil {
		return err
	}
	if addr == 0 {
		return syscallabi.EPERM
	}
	as.unmapLocked(addr, addr+length)
	as.regions.ReplaceOrInsert(&region{
		start:  addr,
		length: length,
		prot:   prot,
		name:   name,
		data:   chunked.New(int(length)),
	})
	return nil
}

// Map maps zeroed memory at hint if that range is free and otherwise at the
// lowest free range above the mmap base.
func (as *AddressSpace) Map(hint, length uint64, prot Prot, name string) (uint64, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	length, ok := PageAlign(length)
	if !ok || length == 0 {
		return 0, syscallabi.EINVAL
	}
	addr := hint &^ (PageSize - 1)
	if addr == 0 || addr+length < addr || addr+length > TaskSize || !as.isFree(addr, addr+length) {
		addr, ok = as.findFreeLocked(length, as.mmapBase)
		if !ok {
			return 0, syscallabi.ENOMEM
		}
	}
	as.regions.ReplaceOrInsert(&region{
		start:  addr,
		length: length,
		prot:   prot,
		name:   name,
		data:   chunked.New(int(length)),
	})
	return addr, nil
}

// Unmap removes all mappings in the range. Unmapping unmapped memory is not an
// error.
func (as *AddressSpace) Unmap(addr, length uint64) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	length, err := checkRange(addr, length)
	if err != nil {
		return err
	}
	as.unmapLocked(addr, addr+length)
	return nil
}

// Protect changes the protection of every page in the range. All pages must
// be mapped.
func (as *AddressSpace) Protect(addr, length uint64, prot Prot) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if addr%PageSize != 0 {
		return syscallabi.EINVAL
	}
	length, ok := PageAlign(length)
	if !ok || addr+length < addr {
		return syscallabi.ENOMEM
	}
	if length == 0 {
		return nil
	}
	end := addr + length
	for cur := addr; cur < end; {
		r := as.regionAt(cur)
		if r == nil {
			return syscallabi.ENOMEM
		}
		cur = r.end()
	}
	as.splitAt(addr)
	as.splitAt(end)
	for _, r := range as.overlapping(addr, end) {
		r.prot = prot
	}
	return nil
}

// Remap resizes and optionally moves the mapping at oldAddr, following
// mremap(2). The old range must lie within a single mapping.
func (as *AddressSpace) Remap(oldAddr, oldLength, newLength uint64, flags int, newAddr uint64) (uint64, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	if oldAddr%PageSize != 0 {
		return 0, syscallabi.EINVAL
	}
	if flags&^(syscallabi.MREMAP_MAYMOVE|syscallabi.MREMAP_FIXED) != 0 {
		return 0, syscallabi.EINVAL
	}
	if flags&syscallabi.MREMAP_FIXED != 0 && flags&syscallabi.MREMAP_MAYMOVE == 0 {
		return 0, syscallabi.EINVAL
	}
	oldLength, ok1 := PageAlign(oldLength)
	newLength, ok2 := PageAlign(newLength)
	if !ok1 || !ok2 || newLength == 0 {
		return 0, syscallabi.EINVAL
	}
	// a zero old length duplicates shared mappings, and there are none
	if oldLength == 0 {
		return 0, syscallabi.EINVAL
	}

	r := as.regionAt(oldAddr)
	if r == nil || oldAddr+oldLength > r.end() {
		return 0, syscallabi.EFAULT
	}

	if flags&syscallabi.MREMAP_FIXED != 0 {
		if newAddr%PageSize != 0 || newAddr == 0 {
			return 0, syscallabi.EINVAL
		}
		if newAddr+newLength < newAddr || newAddr+newLength > TaskSize {
			return 0, syscallabi.ENOMEM
		}
		if newAddr < oldAddr+oldLength && oldAddr < newAddr+newLength {
			return 0, syscallabi.EINVAL
		}
		moved := as.detachLocked(oldAddr, oldLength)
		as.unmapLocked(newAddr, newAddr+newLength)
		as.attachLocked(moved, newAddr, newLength)
		return newAddr, nil
	}

	if newLength <= oldLength {
		as.unmapLocked(oldAddr+newLength, oldAddr+oldLength)
		return oldAddr, nil
	}

	// grow in place when the pages after the old range are free
	grown := oldAddr + newLength
	if oldAddr+oldLength == r.end() && grown > oldAddr && grown <= TaskSize && as.isFree(r.end(), grown) {
		as.splitAt(oldAddr)
		r = as.regionAt(oldAddr)
		r.data.Resize(int(r.length + newLength - oldLength))
		r.length += newLength - oldLength
		return oldAddr, nil
	}

	if flags&syscallabi.MREMAP_MAYMOVE == 0 {
		return 0, syscallabi.ENOMEM
	}
	moved := as.detachLocked(oldAddr, oldLength)
	target, ok := as.findFreeLocked(newLength, as.mmapBase)
	if !ok {
		as.attachLocked(moved, oldAddr, oldLength)
		return 0, syscallabi.ENOMEM
	}
	as.attachLocked(moved, target, newLength)
	return target, nil
}

// detachLocked removes [addr, addr+length), which must be covered by one
// region, and returns it with its data.
func (as *AddressSpace) detachLocked(addr, length uint64) *region {
	as.splitAt(addr)
	as.splitAt(addr + length)
	r := as.regionAt(addr)
	as.regions.Delete(r)
	return r
}

func (as *AddressSpace) attachLocked(r *region, addr, length uint64) {
	r.start = addr
	if length != r.length {
		r.data.Resize(int(length))
		r.length = length
	}
	as.regions.ReplaceOrInsert(r)
}

// Populate copies data into mapped memory regardless of its protection, as
// the kernel does when it fills a file mapping.
func (as *AddressSpace) Populate(addr uint64, data []byte) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.CopyOut(addr, data)
}

// Regions lists all mappings in address order.
func (as *AddressSpace) Regions() []Region {
	as.mu.Lock()
	defer as.mu.Unlock()
	var out []Region
	as.regions.Ascend(func(r *region) bool {
		out = append(out, Region{Start: r.start, Length: r.length, Prot: r.prot, Name: r.name})
		return true
	})
	return out
}

// Release unmaps everything.
func (as *AddressSpace) Release() {
	as.mu.Lock()
	defer as.mu.Unlock()
	for {
		r, ok := as.regions.DeleteMin()
		if !ok {
			break
		}
		r.data.Free()
	}
}

// IsAccessible implements Provider.
func (as *AddressSpace) IsAccessible(addr, n uint64, mode Access) bool {
	end := addr + n
	if end < addr {
		return false
	}
	want := mode.prot()
	for cur := addr; cur < end; {
		r := as.regionAt(cur)
		if r == nil || r.prot&want != want {
			return false
		}
		cur = r.end()
	}
	return true
}

// CopyIn implements Provider.
func (as *AddressSpace) CopyIn(addr uint64, dst []byte) {
	as.copyRange(addr, len(dst), func(r *region, off int, n int) {
		r.data.ReadAt(dst[:n], off)
		dst = dst[n:]
	})
}

// CopyOut implements Provider.
func (as *AddressSpace) CopyOut(addr uint64, src []byte) {
	as.copyRange(addr, len(src), func(r *region, off int, n int) {
		r.data.WriteAt(src[:n], off)
		src = src[n:]
	})
}

func (as *AddressSpace) copyRange(addr uint64, n int, f func(r *region, off int, n int)) {
	for n > 0 {
		r := as.regionAt(addr)
		if r == nil {
			syscallabi.Fatalf("copy touches unmapped address %#x", addr)
		}
		off := addr - r.start
		step := min(uint64(n), r.length-off)
		f(r, int(off), int(step))
		addr += step
		n -= int(step)
	}
}
