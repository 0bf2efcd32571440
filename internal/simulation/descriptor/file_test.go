package descriptor

import (
	"errors"
	"testing"

	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

func TestOpenFileOffsets(t *testing.T) {
	f := &fakeFile{}
	of := NewOpenFile(f, syscallabi.O_RDWR|syscallabi.O_CLOEXEC)

	if n, err := of.Write([]byte("hello world")); n != 11 || err != nil {
		t.Fatalf("write: %d %v", n, err)
	}
	if pos, err := of.Seek(6, syscallabi.SEEK_SET); pos != 6 || err != nil {
		t.Fatalf("seek: %d %v", pos, err)
	}
	buf := make([]byte, 10)
	if n, err := of.Read(buf); err != nil || string(buf[:n]) != "world" {
		t.Fatalf("read: %q %v", buf[:n], err)
	}
	if pos, _ := of.Seek(-5, syscallabi.SEEK_END); pos != 6 {
		t.Errorf("seek end: %d", pos)
	}
	if _, err := of.Seek(-7, syscallabi.SEEK_CUR); !errors.Is(err, syscallabi.EINVAL) {
		t.Errorf("negative seek: %v", err)
	}
	if _, err := of.Seek(0, 3); !errors.Is(err, syscallabi.EINVAL) {
		t.Errorf("bad whence: %v", err)
	}

	of.SetStatusFlags(syscallabi.O_APPEND | syscallabi.O_RDONLY)
	if of.Flags() != syscallabi.O_RDWR|syscallabi.O_APPEND {
		t.Errorf("flags %#x", of.Flags())
	}
	of.Seek(0, syscallabi.SEEK_SET)
	of.Write([]byte("!"))
	if string(f.data) != "hello world!" {
		t.Errorf("append wrote %q", f.data)
	}
}

func TestOpenFileAccessMode(t *testing.T) {
	ro := NewOpenFile(&fakeFile{}, syscallabi.O_RDONLY)
	if _, err := ro.Write([]byte("x")); !errors.Is(err, syscallabi.EBADF) {
		t.Errorf("write to read-only: %v", err)
	}
	wo := NewOpenFile(&fakeFile{}, syscallabi.O_WRONLY)
	if _, err := wo.Read(make([]byte, 1)); !errors.Is(err, syscallabi.EBADF) {
		t.Errorf("read from write-only: %v", err)
	}
}

type emptyPipe struct {
	fakeFile
}

func (p *emptyPipe) ReadAt(dst []byte, off int64) (int, error) {
	return 0, syscallabi.EAGAIN
}

func (p *emptyPipe) Seekable() bool { return false }

func TestOpenFileBlocks(t *testing.T) {
	p := &emptyPipe{}
	of := NewOpenFile(p, syscallabi.O_RDONLY)

	_, err := of.Read(make([]byte, 1))
	var blocked *syscallabi.Blocked
	if !errors.As(err, &blocked) {
		t.Fatalf("got %v, want blocked", err)
	}
	if p.ps.Len() != 1 {
		t.Errorf("condition not registered")
	}
	blocked.Cond.Cancel()

	of.SetStatusFlags(syscallabi.O_NONBLOCK)
	if _, err := of.Read(make([]byte, 1)); !errors.Is(err, syscallabi.EAGAIN) {
		t.Errorf("got %v, want EAGAIN", err)
	}
	if _, err := of.Seek(0, syscallabi.SEEK_SET); !errors.Is(err, syscallabi.ESPIPE) {
		t.Errorf("got %v, want ESPIPE", err)
	}
}

func TestCompatFileVariant(t *testing.T) {
	lf := NewLegacyFile(1, nil)
	c := NewLegacy(lf)
	if _, ok := c.AsNative(); ok {
		t.Error("legacy file reports native")
	}
	if got, ok := c.AsLegacy(); !ok || got != lf {
		t.Error("legacy file lost its handle")
	}
	clone := c.Clone()
	if !clone.IsLegacy() || lf.Refs() != 2 {
		t.Errorf("clone changed variant or refs %d", lf.Refs())
	}
}
