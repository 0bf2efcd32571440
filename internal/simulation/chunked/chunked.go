// Package chunked implements byte storage made of fixed-size, reference
// counted, copy-on-write chunks.
//
// It backs both guest memory regions and the contents of simulated files.
// Cloning a File shares all chunks; a chunk is copied only when one of the
// sharing files writes to it. Splitting a File at a chunk boundary moves the
// chunk references without copying, which is what munmap and mprotect need
// when they cut a region in two.
package chunked

import (
	"sync"

	"github.com/google/btree"
)

// ChunkSize is the granularity of sharing. Page sizes are a multiple of it.
const ChunkSize = 1024

type refCountedChunk struct {
	refs int
	data []byte
}

var chunkPool = sync.Pool{
	New: func() any {
		return &refCountedChunk{
			refs: 0,
			data: make([]byte, ChunkSize),
		}
	},
}

var zeroes = make([]byte, ChunkSize)

// Nil chunks read as zeroes; zeroChunk stands in for them.
var zeroChunk = &refCountedChunk{
	refs: -1e6, // should trigger asserts hopefully
	data: make([]byte, ChunkSize),
}

func allocRefCountedChunk() *refCountedChunk {
	chunk := chunkPool.Get().(*refCountedChunk)
	if chunk.refs != 0 {
		panic("chunked: pooled chunk still referenced")
	}
	chunk.refs++
	return chunk
}

func (c *refCountedChunk) incRef() {
	if c.refs <= 0 {
		panic("chunked: incRef of free chunk")
	}
	c.refs++
}

func (c *refCountedChunk) decRef() {
	if c.refs <= 0 {
		panic("chunked: decRef of free chunk")
	}
	c.refs--
	if c.refs == 0 {
		// pooled chunks are handed out zeroed
		clear(c.data)
		chunkPool.Put(c)
	}
}

// A File is a resizable byte array. The zero value is an empty file.
//
// Chunks are kept sparsely, indexed by position, so a large file or mapping
// that is never written costs nothing beyond its size field.
//
// Files are not safe for concurrent use; the owner serializes access.
type File struct {
	chunks *btree.BTreeG[indexedChunk]
	size   int
}

type indexedChunk struct {
	idx   int
	chunk *refCountedChunk
}

func lessChunk(a, b indexedChunk) bool {
	return a.idx < b.idx
}

func (w *File) tree() *btree.BTreeG[indexedChunk] {
	if w.chunks == nil {
		w.chunks = btree.NewG(8, lessChunk)
	}
	return w.chunks
}

// New returns a zero-filled file of the given size.
func New(size int) *File {
	f := &File{}
	f.Resize(size)
	return f
}

// FromBytes returns a file holding a copy of data.
func FromBytes(data []byte) *File {
	f := &File{}
	f.WriteAt(data, 0)
	return f
}

func (w *File) Size() int {
	return w.size
}

// Chunks returns the number of chunks holding data.
func (w *File) Chunks() int {
	if w.chunks == nil {
		return 0
	}
	return w.chunks.Len()
}

// Resize grows the file with zeroes or truncates it.
func (w *File) Resize(newSize int) {
	if newSize < 0 {
		panic("chunked: negative size")
	}
	newCount := (newSize + ChunkSize - 1) / ChunkSize
	w.releaseFrom(newCount)

	// zero tail of last chunk so a later grow reads zeroes
	if newSize < w.size {
		if chunkPos := newSize % ChunkSize; chunkPos != 0 {
			if w.get(newCount-1) != nil {
				chunk := w.ensureWritableChunk(newCount - 1)
				copy(chunk.data[chunkPos:], zeroes)
			}
		}
	}

	w.size = newSize
}

// releaseFrom drops every chunk at index idx or above.
func (w *File) releaseFrom(idx int) {
	if w.chunks == nil {
		return
	}
	var drop []indexedChunk
	w.chunks.AscendGreaterOrEqual(indexedChunk{idx: idx}, func(c indexedChunk) bool {
		drop = append(drop, c)
		return true
	})
	for _, c := range drop {
		w.chunks.Delete(c)
		c.chunk.decRef()
	}
}

func (w *File) get(idx int) *refCountedChunk {
	if w.chunks == nil {
		return nil
	}
	c, ok := w.chunks.Get(indexedChunk{idx: idx})
	if !ok {
		return nil
	}
	return c.chunk
}

func (w *File) set(idx int, chunk *refCountedChunk) {
	if old, ok := w.tree().ReplaceOrInsert(indexedChunk{idx: idx, chunk: chunk}); ok {
		old.chunk.decRef()
	}
}

func (w *File) ensureWritableChunk(idx int) *refCountedChunk {
	chunk := w.get(idx)
	if chunk != nil && chunk.refs == 1 {
		return chunk
	}
	newChunk := allocRefCountedChunk()
	if chunk != nil {
		copy(newChunk.data, chunk.data)
	}
	w.set(idx, newChunk)
	return newChunk
}

func (w *File) getReadableChunk(idx int) *refCountedChunk {
	if chunk := w.get(idx); chunk != nil {
		return chunk
	}
	return zeroChunk
}

// Clone returns a copy of w sharing all chunks.
func (w *File) Clone() *File {
	clone := &File{size: w.size}
	if w.chunks != nil {
		w.chunks.Ascend(func(c indexedChunk) bool {
			c.chunk.incRef()
			return true
		})
		clone.chunks = w.chunks.Clone()
	}
	return clone
}

// Split cuts w at offset at, which must be a multiple of ChunkSize. w keeps
// [0, at) and the returned file holds [at, size).
func (w *File) Split(at int) *File {
	if at%ChunkSize != 0 || at < 0 || at > w.size {
		panic("chunked: bad split offset")
	}
	idx := at / ChunkSize
	tail := &File{size: w.size - at}
	if w.chunks != nil {
		var moved []indexedChunk
		w.chunks.AscendGreaterOrEqual(indexedChunk{idx: idx}, func(c indexedChunk) bool {
			moved = append(moved, c)
			return true
		})
		for _, c := range moved {
			w.chunks.Delete(c)
			tail.tree().ReplaceOrInsert(indexedChunk{idx: c.idx - idx, chunk: c.chunk})
		}
	}
	w.size = at
	return tail
}

// Append moves the contents of other to the end of w. The size of w must be a
// multiple of ChunkSize. other is empty afterwards.
func (w *File) Append(other *File) {
	if w.size%ChunkSize != 0 {
		panic("chunked: append to unaligned file")
	}
	base := w.size / ChunkSize
	if other.chunks != nil {
		other.chunks.Ascend(func(c indexedChunk) bool {
			w.tree().ReplaceOrInsert(indexedChunk{idx: base + c.idx, chunk: c.chunk})
			return true
		})
	}
	w.size += other.size
	other.chunks = nil
	other.size = 0
}

// Free releases all chunks. The file is empty afterwards.
func (w *File) Free() {
	w.releaseFrom(0)
	w.chunks = nil
	w.size = 0
}

// ReadAt copies bytes starting at pos into out and returns the number of bytes
// copied. It stops at the end of the file.
func (w *File) ReadAt(out []byte, pos int) int {
	if pos >= w.size {
		return 0
	}
	out = out[:min(len(out), w.size-pos)]
	total := len(out)

	chunkIdx := pos / ChunkSize
	if chunkPos := pos % ChunkSize; chunkPos != 0 {
		chunk := w.getReadableChunk(chunkIdx)
		n := copy(out, chunk.data[chunkPos:])
		out = out[n:]
		chunkIdx++
	}
	for len(out) > 0 {
		chunk := w.getReadableChunk(chunkIdx)
		n := copy(out, chunk.data)
		out = out[n:]
		chunkIdx++
	}
	return total
}

// WriteAt copies data into the file at pos, growing it if needed. Whole
// aligned chunks shared with a clone are replaced instead of copied.
func (w *File) WriteAt(data []byte, pos int) {
	if len(data) == 0 {
		return
	}
	if end := pos + len(data); end > w.size {
		w.Resize(end)
	}

	chunkIdx := pos / ChunkSize
	if chunkPos := pos % ChunkSize; chunkPos != 0 {
		chunk := w.ensureWritableChunk(chunkIdx)
		n := copy(chunk.data[chunkPos:], data)
		data = data[n:]
		chunkIdx++
	}
	for len(data) >= ChunkSize {
		chunk := allocRefCountedChunk()
		copy(chunk.data, data)
		w.set(chunkIdx, chunk)
		data = data[ChunkSize:]
		chunkIdx++
	}
	if len(data) > 0 {
		chunk := w.ensureWritableChunk(chunkIdx)
		copy(chunk.data, data)
	}
}

// Extents calls fn for every chunk holding data that overlaps [pos, pos+n),
// in order. data is trimmed to the range and to the file size. Holes are
// skipped.
func (w *File) Extents(pos, n int, fn func(off int, data []byte)) {
	if w.chunks == nil || n <= 0 || pos >= w.size {
		return
	}
	end := w.size
	if n < end-pos {
		end = pos + n
	}
	w.chunks.AscendRange(indexedChunk{idx: pos / ChunkSize}, indexedChunk{idx: (end + ChunkSize - 1) / ChunkSize}, func(c indexedChunk) bool {
		from := max(c.idx*ChunkSize, pos)
		to := min((c.idx+1)*ChunkSize, end)
		fn(from, c.chunk.data[from-c.idx*ChunkSize:to-c.idx*ChunkSize])
		return true
	})
}

// Bytes returns a copy of the whole file.
func (w *File) Bytes() []byte {
	out := make([]byte, w.size)
	w.ReadAt(out, 0)
	return out
}
