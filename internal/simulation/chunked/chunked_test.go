package chunked

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"slices"
	"testing"

	"pgregory.net/rapid"
)

type checker struct {
	f *File
	b []byte
}

func newChecker() *checker {
	return &checker{
		f: &File{},
	}
}

func (c *checker) resize(newN int) {
	oldN := len(c.b)
	if newN > oldN {
		newB := append(c.b, make([]byte, newN-oldN)...)
		clear(newB[oldN:newN])
		c.b = newB
	} else {
		c.b = c.b[:newN]
	}
	c.f.Resize(newN)
}

func (c *checker) write(t *testing.T, from, to int) {
	t.Helper()

	if to > len(c.b) {
		c.b = append(c.b, make([]byte, to-len(c.b))...)
	}
	if _, err := rand.Read(c.b[from:to]); err != nil {
		t.Fatal(err)
	}
	c.f.WriteAt(c.b[from:to], from)
}

func (c *checker) read(t *testing.T, from, to int) {
	t.Helper()

	buf := make([]byte, to-from)
	if n := c.f.ReadAt(buf, from); n != to-from {
		t.Errorf("read %d-%d: got %d bytes", from, to, n)
	}
	if !bytes.Equal(buf, c.b[from:to]) {
		firstBad := 0
		for buf[firstBad] == c.b[from+firstBad] {
			firstBad++
		}
		lastBad := (to - from)
		for buf[lastBad-1] == c.b[from+lastBad-1] {
			lastBad--
		}
		t.Errorf("read %d-%d: bad data %d-%d", from, to, from+firstBad, from+lastBad)
	}
}

func (c *checker) clone() *checker {
	return &checker{
		f: c.f.Clone(),
		b: slices.Clone(c.b),
	}
}

func (c *checker) free() {
	c.f.Free()
	c.f = nil
	c.b = nil
}

var interesting = []int{
	0, 10, ChunkSize - 10, ChunkSize, ChunkSize + 10,
	2*ChunkSize - 10, 2 * ChunkSize, 2*ChunkSize + 10,
	7*ChunkSize - 10, 7 * ChunkSize, 7*ChunkSize + 10,
	8 * ChunkSize,
}

func TestFileRead(t *testing.T) {
	data := make([]byte, ChunkSize*8)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}

	for _, size := range interesting {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			c := &checker{f: FromBytes(data[:size]), b: data[:size]}
			for _, start := range interesting {
				for _, end := range interesting {
					if start > end || end > size {
						continue
					}
					c.read(t, start, end)
				}
			}
		})
	}
}

func TestReadPastEnd(t *testing.T) {
	f := FromBytes([]byte("hello"))
	buf := make([]byte, 10)
	if n := f.ReadAt(buf, 2); n != 3 || string(buf[:n]) != "llo" {
		t.Errorf("got %d %q", n, buf[:n])
	}
	if n := f.ReadAt(buf, 5); n != 0 {
		t.Errorf("read at end: got %d", n)
	}
}

func TestFileWrite(t *testing.T) {
	f := newChecker()
	f.resize(ChunkSize * 3)
	f.read(t, 0, 2*ChunkSize)
	f.read(t, ChunkSize-10, ChunkSize+10)
	f.write(t, 10, ChunkSize-10)
	f.read(t, 0, ChunkSize*3)
	f.write(t, 0, ChunkSize*3)
	f.read(t, 0, ChunkSize*3)
	f.resize(ChunkSize*3 - 10)
	f.resize(ChunkSize * 3)
	f.read(t, 0, ChunkSize*3)

	f.write(t, 10, 10)
	f.write(t, ChunkSize, 2*ChunkSize)
	f.write(t, ChunkSize*3-5, ChunkSize*4)
	f.read(t, 0, ChunkSize*4)

	g := f.clone()
	g.read(t, 0, ChunkSize*4)
	g.write(t, 10, 20)
	g.read(t, 0, ChunkSize)
	f.read(t, 0, ChunkSize)
	g.free()
	f.read(t, 0, ChunkSize*4)

	f.resize(10 * ChunkSize)
	g = f.clone()
	g.write(t, 0, ChunkSize*10)
	f.read(t, 0, 10*ChunkSize)
	g.read(t, 0, 10*ChunkSize)
}

func TestSplitAppend(t *testing.T) {
	data := make([]byte, 3*ChunkSize+100)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	f := FromBytes(data)
	tail := f.Split(2 * ChunkSize)
	if f.Size() != 2*ChunkSize || tail.Size() != ChunkSize+100 {
		t.Fatalf("bad sizes %d %d", f.Size(), tail.Size())
	}
	if !bytes.Equal(f.Bytes(), data[:2*ChunkSize]) || !bytes.Equal(tail.Bytes(), data[2*ChunkSize:]) {
		t.Fatal("bad split contents")
	}
	f.Append(tail)
	if !bytes.Equal(f.Bytes(), data) {
		t.Fatal("bad append contents")
	}
	if tail.Size() != 0 {
		t.Error("appended file not emptied")
	}
}

func TestSparse(t *testing.T) {
	const size = 1 << 40
	f := New(size)
	defer f.Free()
	if f.Size() != size || f.Chunks() != 0 {
		t.Fatalf("new: size %d, %d chunks", f.Size(), f.Chunks())
	}

	f.WriteAt([]byte("end"), size-3)
	f.WriteAt([]byte("mid"), size/2-1)
	if f.Chunks() != 3 {
		t.Errorf("got %d chunks, want 3", f.Chunks())
	}

	type extent struct {
		off  int
		data []byte
	}
	var got []extent
	f.Extents(size/2-ChunkSize, size, func(off int, data []byte) {
		got = append(got, extent{off, slices.Clone(data)})
	})
	if len(got) != 3 {
		t.Fatalf("got %d extents, want 3", len(got))
	}
	for i, want := range []int{size/2 - ChunkSize, size / 2, size - ChunkSize} {
		if got[i].off != want || len(got[i].data) != ChunkSize {
			t.Errorf("extent %d at %d with %d bytes, want %d", i, got[i].off, len(got[i].data), want)
		}
	}
	if !bytes.HasSuffix(got[0].data, []byte("m")) || !bytes.HasPrefix(got[1].data, []byte("id")) || !bytes.HasSuffix(got[2].data, []byte("end")) {
		t.Error("extent contents")
	}

	tail := f.Split(size / 2)
	if f.Chunks() != 1 || tail.Chunks() != 2 || tail.Size() != size/2 {
		t.Errorf("split: %d and %d chunks, tail size %d", f.Chunks(), tail.Chunks(), tail.Size())
	}
	buf := make([]byte, 3)
	if tail.ReadAt(buf, size/2-3); string(buf) != "end" {
		t.Errorf("tail end %q", buf)
	}
	f.Append(tail)
	if f.ReadAt(buf, size/2-1); string(buf) != "mid" {
		t.Errorf("rejoined middle %q", buf)
	}

	f.Resize(ChunkSize)
	if f.Chunks() != 0 {
		t.Errorf("truncate kept %d chunks", f.Chunks())
	}
}

func TestFileModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var files []*checker
		files = append(files, &checker{f: &File{}})

		pick := func(t *rapid.T) *checker {
			return files[rapid.IntRange(0, len(files)-1).Draw(t, "file")]
		}

		t.Repeat(map[string]func(*rapid.T){
			"write": func(t *rapid.T) {
				c := pick(t)
				pos := rapid.IntRange(0, 4*ChunkSize).Draw(t, "pos")
				data := rapid.SliceOfN(rapid.Byte(), 0, 3*ChunkSize).Draw(t, "data")
				if len(data) == 0 {
					return
				}
				if end := pos + len(data); end > len(c.b) {
					c.b = append(c.b, make([]byte, end-len(c.b))...)
				}
				copy(c.b[pos:], data)
				c.f.WriteAt(data, pos)
			},
			"resize": func(t *rapid.T) {
				c := pick(t)
				size := rapid.IntRange(0, 5*ChunkSize).Draw(t, "size")
				if size > len(c.b) {
					c.b = append(c.b, make([]byte, size-len(c.b))...)
				} else {
					c.b = c.b[:size]
				}
				c.f.Resize(size)
			},
			"clone": func(t *rapid.T) {
				if len(files) > 4 {
					t.Skip("enough files")
				}
				files = append(files, pick(t).clone())
			},
			"": func(t *rapid.T) {
				for i, c := range files {
					if c.f.Size() != len(c.b) {
						t.Fatalf("file %d: size %d, want %d", i, c.f.Size(), len(c.b))
					}
					if got := c.f.Bytes(); !bytes.Equal(got, c.b) {
						t.Fatalf("file %d: contents differ", i)
					}
				}
			},
		})
	})
}
