package legacy

import (
	"github.com/kmrgirish/hostsim/internal/simulation/handler"
	"github.com/kmrgirish/hostsim/internal/simulation/host"
	"github.com/kmrgirish/hostsim/internal/simulation/memory"
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

const (
	protMask = syscallabi.PROT_READ | syscallabi.PROT_WRITE | syscallabi.PROT_EXEC

	// mapKnown are the flags MAP_SHARED_VALIDATE accepts.
	mapKnown = syscallabi.MAP_TYPE | syscallabi.MAP_FIXED | syscallabi.MAP_ANONYMOUS |
		syscallabi.MAP_NORESERVE | syscallabi.MAP_POPULATE | syscallabi.MAP_FIXED_NOREPLACE
)

// sysBrk implements brk. Like the kernel it never fails; the current break is
// returned when the request cannot be satisfied.
func (k *Kernel) sysBrk(ctx *handler.SyscallContext, addr uint64) (int64, error) {
	as := ctx.Process.AddressSpace
	cur, ok := k.brk[ctx.Process.PID]
	if !ok {
		cur = host.HeapBase
	}
	if addr < host.HeapBase {
		return int64(cur), nil
	}

	curEnd, _ := memory.PageAlign(cur)
	newEnd, ok := memory.PageAlign(addr)
	if !ok || newEnd > memory.TaskSize {
		return int64(cur), nil
	}
	switch {
	case newEnd > curEnd:
		if as.Overlaps(curEnd, newEnd-curEnd) {
			return int64(cur), nil
		}
		if err := as.MapFixed(curEnd, newEnd-curEnd, memory.ProtRead|memory.ProtWrite, "[heap]"); err != nil {
			return int64(cur), nil
		}
	case newEnd < curEnd:
		if err := as.Unmap(newEnd, curEnd-newEnd); err != nil {
			return int64(cur), nil
		}
	}
	k.brk[ctx.Process.PID] = addr
	return int64(addr), nil
}

func (k *Kernel) mmap(ctx *handler.SyscallContext, addr, length uint64, prot, flags, fd int, offset int64) (int64, error) {
	if length == 0 || offset%memory.PageSize != 0 || offset < 0 {
		return 0, syscallabi.EINVAL
	}
	length, ok := memory.PageAlign(length)
	if !ok {
		return 0, syscallabi.ENOMEM
	}
	switch flags & syscallabi.MAP_TYPE {
	case syscallabi.MAP_SHARED, syscallabi.MAP_PRIVATE:
	case syscallabi.MAP_SHARED_VALIDATE:
		if flags&^mapKnown != 0 {
			return 0, syscallabi.EOPNOTSUPP
		}
	default:
		return 0, syscallabi.EINVAL
	}
	if prot&^protMask != 0 {
		return 0, syscallabi.EINVAL
	}
	fixed := flags&(syscallabi.MAP_FIXED|syscallabi.MAP_FIXED_NOREPLACE) != 0
	if fixed && addr%memory.PageSize != 0 {
		return 0, syscallabi.EINVAL
	}

	name := "[anon]"
	var file *openFile
	if flags&syscallabi.MAP_ANONYMOUS == 0 {
		f, err := k.lookup(ctx, fd)
		if _, ok := err.(*errNative); ok {
			return 0, syscallabi.ENODEV
		}
		if err != nil {
			return 0, err
		}
		if f.dir {
			return 0, syscallabi.ENODEV
		}
		accmode := f.flags & syscallabi.O_ACCMODE
		if accmode == syscallabi.O_WRONLY {
			return 0, syscallabi.EACCES
		}
		shared := flags&syscallabi.MAP_TYPE != syscallabi.MAP_PRIVATE
		if shared && prot&syscallabi.PROT_WRITE != 0 && accmode != syscallabi.O_RDWR {
			return 0, syscallabi.EACCES
		}
		file = f
		name = f.path
	}

	as := ctx.Process.AddressSpace
	p := memory.Prot(prot)
	var err error
	switch {
	case flags&syscallabi.MAP_FIXED_NOREPLACE != 0:
		if as.Overlaps(addr, length) {
			return 0, syscallabi.EEXIST
		}
		err = as.MapFixed(addr, length, p, name)
	case flags&syscallabi.MAP_FIXED != 0:
		err = as.MapFixed(addr, length, p, name)
	default:
		addr, err = as.Map(addr, length, p, name)
	}
	if err != nil {
		return 0, err
	}

	if file != nil {
		// contents are copied at map time; later writes on either side are
		// not shared
		k.fs.Extents(file.inode, offset, int64(length), func(off int64, data []byte) {
			as.Populate(addr+uint64(off-offset), data)
		})
	}
	return int64(addr), nil
}

func (k *Kernel) mprotect(ctx *handler.SyscallContext, addr, length uint64, prot int) error {
	if prot&^protMask != 0 {
		return syscallabi.EINVAL
	}
	return ctx.Process.AddressSpace.Protect(addr, length, memory.Prot(prot))
}
