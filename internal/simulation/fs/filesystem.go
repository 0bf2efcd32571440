// Package fs holds the simulated filesystem tree and the native file
// implementations.
package fs

import (
	"path"
	"strings"
	"sync"

	"github.com/kmrgirish/hostsim/internal/simulation/chunked"
	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

const (
	RootInode = 1

	// NameMax is the longest allowed path component.
	NameMax = 255

	BlockSize = 4096
)

type backingFile struct {
	inode     int
	mode      uint32
	file      *chunked.File
	linkCount int
}

type backingDir struct {
	inode   int
	mode    uint32
	parent  int
	name    string // name in parent
	entries map[string]int
}

// A Filesystem is a tree of directories and regular files kept in memory.
// Files stay alive while they are linked or open.
type Filesystem struct {
	mu sync.Mutex

	dev              uint64
	objects          map[int]any
	next             int
	openCountByInode map[int]int
}

// NewEmptyFilesystem returns a filesystem with only a root directory.
func NewEmptyFilesystem(dev uint64) *Filesystem {
	return &Filesystem{
		dev: dev,
		objects: map[int]any{
			RootInode: &backingDir{
				inode:   RootInode,
				mode:    0o755,
				parent:  RootInode,
				entries: make(map[string]int),
			},
		},
		next:             RootInode + 1,
		openCountByInode: make(map[int]int),
	}
}

// NewLinuxFilesystem returns a filesystem with the files most programs
// expect: /etc/hosts and an empty /tmp.
func NewLinuxFilesystem(dev uint64) *Filesystem {
	fs := NewEmptyFilesystem(dev)
	if err := fs.AddFile("/etc/hosts", []byte("# hosts\n127.0.0.1 localhost\n"), 0o644); err != nil {
		panic(err)
	}
	if err := fs.MkdirAll("/tmp", 0o777); err != nil {
		panic(err)
	}
	return fs
}

func (fs *Filesystem) getFile(inode int) (*backingFile, bool) {
	f, ok := fs.objects[inode].(*backingFile)
	return f, ok
}

func (fs *Filesystem) getDir(inode int) (*backingDir, bool) {
	dir, ok := fs.objects[inode].(*backingDir)
	return dir, ok
}

func (fs *Filesystem) allocFile(mode uint32, data *chunked.File) *backingFile {
	f := &backingFile{
		inode: fs.next,
		mode:  mode & 0o7777,
		file:  data,
	}
	fs.objects[f.inode] = f
	fs.next++
	return f
}

func (fs *Filesystem) allocDir(parent int, name string, mode uint32) *backingDir {
	dir := &backingDir{
		inode:   fs.next,
		mode:    mode & 0o7777,
		parent:  parent,
		name:    name,
		entries: make(map[string]int),
	}
	fs.objects[dir.inode] = dir
	fs.next++
	return dir
}

// walkpath resolves all but the last component of p relative to baseInode.
// It returns the directory holding the last component and its name. The name
// is empty when p names a directory by itself ("/", "a/").
func (fs *Filesystem) walkpath(baseInode int, p string) (dirInode int, name string, err error) {
	if p == "" {
		return 0, "", syscallabi.ENOENT
	}
	if p[0] == '/' {
		baseInode = RootInode
	}

	dirInode = baseInode
	for {
		for len(p) > 0 && p[0] == '/' {
			p = p[1:]
		}

		nextSlash := strings.IndexByte(p, '/')
		if nextSlash == -1 {
			if len(p) > NameMax {
				return 0, "", syscallabi.ENAMETOOLONG
			}
			if _, ok := fs.getDir(dirInode); !ok {
				return 0, "", syscallabi.ENOTDIR
			}
			return dirInode, p, nil
		}
		name = p[:nextSlash]
		p = p[nextSlash:]
		if len(name) > NameMax {
			return 0, "", syscallabi.ENAMETOOLONG
		}

		dir, ok := fs.getDir(dirInode)
		if !ok {
			return 0, "", syscallabi.ENOTDIR
		}
		switch name {
		case ".":
		case "..":
			dirInode = dir.parent
		default:
			entry, ok := dir.entries[name]
			if !ok {
				return 0, "", syscallabi.ENOENT
			}
			dirInode = entry
		}
	}
}

// lookupLocked resolves the last component returned by walkpath.
func (fs *Filesystem) lookupLocked(dirInode int, name string) (int, bool) {
	dir, _ := fs.getDir(dirInode)
	switch name {
	case "", ".":
		return dirInode, true
	case "..":
		return dir.parent, true
	}
	inode, ok := dir.entries[name]
	return inode, ok
}

// Lookup resolves p to an inode.
func (fs *Filesystem) Lookup(dirInode int, p string) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dirInode, name, err := fs.walkpath(dirInode, p)
	if err != nil {
		return 0, err
	}
	inode, ok := fs.lookupLocked(dirInode, name)
	if !ok {
		return 0, syscallabi.ENOENT
	}
	return inode, nil
}

// AddFile creates or replaces a regular file at the absolute path p, creating
// parent directories as needed.
func (fs *Filesystem) AddFile(p string, data []byte, mode uint32) error {
	dir, name := path.Split(path.Clean(p))
	if name == "" || name == "/" {
		return syscallabi.EISDIR
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	dirInode, dirName, err := fs.walkpath(RootInode, dir)
	if err != nil {
		return err
	}
	dirInode, _ = fs.lookupLocked(dirInode, dirName)
	parent, _ := fs.getDir(dirInode)
	if old, ok := parent.entries[name]; ok {
		if _, isDir := fs.getDir(old); isDir {
			return syscallabi.EISDIR
		}
		fs.unlinkLocked(old)
	}
	f := fs.allocFile(mode, chunked.FromBytes(data))
	f.linkCount = 1
	parent.entries[name] = f.inode
	return nil
}

// MkdirAll creates the absolute directory p and any missing parents.
func (fs *Filesystem) MkdirAll(p string, mode uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	inode := RootInode
	for _, name := range strings.Split(path.Clean("/"+p), "/") {
		if name == "" {
			continue
		}
		if len(name) > NameMax {
			return syscallabi.ENAMETOOLONG
		}
		dir, _ := fs.getDir(inode)
		next, ok := dir.entries[name]
		if !ok {
			next = fs.allocDir(inode, name, mode).inode
			dir.entries[name] = next
		}
		if _, ok := fs.getDir(next); !ok {
			return syscallabi.ENOTDIR
		}
		inode = next
	}
	return nil
}

func (fs *Filesystem) unlinkLocked(inode int) {
	f, ok := fs.getFile(inode)
	if !ok {
		return
	}
	f.linkCount--
	fs.maybeGC(inode)
}

func (fs *Filesystem) maybeGC(inode int) {
	if _, ok := fs.openCountByInode[inode]; ok {
		return
	}
	if f, ok := fs.getFile(inode); ok && f.linkCount == 0 {
		f.file.Free()
		f.file = nil
		delete(fs.objects, inode)
	}
}

// OpenFile resolves p for open(2) and takes an open reference on the inode.
// It implements O_CREAT, O_EXCL, O_TRUNC, and O_DIRECTORY; the caller checks
// the remaining flags.
func (fs *Filesystem) OpenFile(dirInode int, p string, flag int, mode uint32) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dirInode, name, err := fs.walkpath(dirInode, p)
	if err != nil {
		return 0, err
	}

	inode, ok := fs.lookupLocked(dirInode, name)
	if !ok {
		if flag&syscallabi.O_CREAT == 0 {
			return 0, syscallabi.ENOENT
		}
		if flag&syscallabi.O_DIRECTORY != 0 {
			return 0, syscallabi.EINVAL
		}
		f := fs.allocFile(mode, &chunked.File{})
		f.linkCount = 1
		dir, _ := fs.getDir(dirInode)
		dir.entries[name] = f.inode
		inode = f.inode
	} else {
		if flag&(syscallabi.O_CREAT|syscallabi.O_EXCL) == syscallabi.O_CREAT|syscallabi.O_EXCL {
			return 0, syscallabi.EEXIST
		}
		_, isDir := fs.getDir(inode)
		if isDir && (flag&syscallabi.O_ACCMODE != syscallabi.O_RDONLY || flag&(syscallabi.O_TRUNC|syscallabi.O_CREAT) != 0) {
			return 0, syscallabi.EISDIR
		}
		if !isDir && (flag&syscallabi.O_DIRECTORY != 0 || name == "") {
			return 0, syscallabi.ENOTDIR
		}
		if f, ok := fs.getFile(inode); ok && flag&syscallabi.O_TRUNC != 0 && flag&syscallabi.O_ACCMODE != syscallabi.O_RDONLY {
			f.file.Resize(0)
		}
	}

	fs.openCountByInode[inode]++
	return inode, nil
}

// CloseFile drops an open reference taken by OpenFile.
func (fs *Filesystem) CloseFile(inode int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	newCount := fs.openCountByInode[inode] - 1
	if newCount < 0 {
		syscallabi.Fatalf("close of inode %d that is not open", inode)
	}
	if newCount == 0 {
		delete(fs.openCountByInode, inode)
		fs.maybeGC(inode)
	} else {
		fs.openCountByInode[inode] = newCount
	}
}

func (fs *Filesystem) IsDir(inode int) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.getDir(inode)
	return ok
}

func (fs *Filesystem) Read(inode int, pos int64, buf []byte) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.getFile(inode)
	if !ok {
		return 0
	}
	return f.file.ReadAt(buf, int(pos))
}

// Extents reports the stored parts of [pos, pos+n) of a file, skipping
// holes. data must not be retained.
func (fs *Filesystem) Extents(inode int, pos, n int64, fn func(off int64, data []byte)) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.getFile(inode)
	if !ok {
		return
	}
	f.file.Extents(int(pos), int(n), func(off int, data []byte) {
		fn(int64(off), data)
	})
}

func (fs *Filesystem) Write(inode int, pos int64, buf []byte) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.getFile(inode)
	if !ok {
		syscallabi.Fatalf("write to non-file inode %d", inode)
	}
	f.file.WriteAt(buf, int(pos))
	return len(buf)
}

func (fs *Filesystem) Size(inode int) int64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if f, ok := fs.getFile(inode); ok {
		return int64(f.file.Size())
	}
	return 0
}

func (fs *Filesystem) statLocked(inode int) syscallabi.Stat {
	st := syscallabi.Stat{
		Dev:     fs.dev,
		Ino:     uint64(inode),
		Blksize: BlockSize,
	}
	switch obj := fs.objects[inode].(type) {
	case *backingDir:
		st.Mode = syscallabi.S_IFDIR | obj.mode
		st.Nlink = 2
		st.Size = BlockSize
		for _, child := range obj.entries {
			if _, ok := fs.getDir(child); ok {
				st.Nlink++
			}
		}
	case *backingFile:
		st.Mode = syscallabi.S_IFREG | obj.mode
		st.Nlink = uint64(obj.linkCount)
		st.Size = int64(obj.file.Size())
	default:
		syscallabi.Fatalf("stat of missing inode %d", inode)
	}
	st.Blocks = (st.Size + 511) / 512
	return st
}

// Stat implements stat(2) on a path.
func (fs *Filesystem) Stat(dirInode int, p string) (syscallabi.Stat, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dirInode, name, err := fs.walkpath(dirInode, p)
	if err != nil {
		return syscallabi.Stat{}, err
	}
	inode, ok := fs.lookupLocked(dirInode, name)
	if !ok {
		return syscallabi.Stat{}, syscallabi.ENOENT
	}
	if _, isDir := fs.getDir(inode); !isDir && name == "" {
		return syscallabi.Stat{}, syscallabi.ENOTDIR
	}
	return fs.statLocked(inode), nil
}

// Statfd implements fstat(2) on an open inode.
func (fs *Filesystem) Statfd(inode int) syscallabi.Stat {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.statLocked(inode)
}

// Statfs describes the filesystem as a tmpfs.
func (fs *Filesystem) Statfs() syscallabi.Statfs {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	const totalBlocks = 1 << 20
	var used int64
	for _, obj := range fs.objects {
		if f, ok := obj.(*backingFile); ok {
			used += (int64(f.file.Size()) + BlockSize - 1) / BlockSize
		}
	}
	return syscallabi.Statfs{
		Type:    syscallabi.TMPFS_MAGIC,
		Bsize:   BlockSize,
		Blocks:  totalBlocks,
		Bfree:   uint64(totalBlocks - used),
		Bavail:  uint64(totalBlocks - used),
		Files:   1 << 20,
		Ffree:   uint64(1<<20 - len(fs.objects)),
		Fsid:    [2]int32{int32(fs.dev), 0},
		Namelen: NameMax,
		Frsize:  BlockSize,
	}
}
