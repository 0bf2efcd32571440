package fs

import (
	"errors"
	"testing"

	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

func TestPipe(t *testing.T) {
	r, w := NewPipe(9)

	buf := make([]byte, 8)
	if _, err := r.ReadAt(buf, 0); !errors.Is(err, syscallabi.EAGAIN) {
		t.Fatalf("empty read: %v", err)
	}
	if r.Pollers().State()&syscallabi.Readable != 0 {
		t.Error("empty pipe readable")
	}
	if w.Pollers().State()&syscallabi.Writable == 0 {
		t.Error("empty pipe not writable")
	}

	cond := syscallabi.NewCondition(r.Pollers(), syscallabi.Readable)
	if n, err := w.WriteAt([]byte("hello"), 0); n != 5 || err != nil {
		t.Fatalf("write: %d %v", n, err)
	}
	if !cond.Fired() {
		t.Error("write did not wake reader")
	}
	cond.Cancel()

	if n, _ := r.ReadAt(buf[:3], 0); string(buf[:n]) != "hel" {
		t.Errorf("read %q", buf[:n])
	}
	if r.Buffered() != 2 {
		t.Errorf("buffered %d", r.Buffered())
	}

	w.Close()
	if n, _ := r.ReadAt(buf, 0); string(buf[:n]) != "lo" {
		t.Errorf("read %q", buf[:n])
	}
	if n, err := r.ReadAt(buf, 0); n != 0 || err != nil {
		t.Errorf("eof: %d %v", n, err)
	}
	if r.Pollers().State()&syscallabi.Closed == 0 {
		t.Error("reader not told about closed writer")
	}

	if st, _ := r.Stat(); st.Mode != syscallabi.S_IFIFO|0o600 || st.Ino != 9 {
		t.Errorf("bad stat %+v", st)
	}
}

func TestPipeFull(t *testing.T) {
	r, w := NewPipe(1)
	big := make([]byte, PipeCapacity+10)
	if n, err := w.WriteAt(big, 0); n != PipeCapacity || err != nil {
		t.Fatalf("write: %d %v", n, err)
	}
	if _, err := w.WriteAt(big, 0); !errors.Is(err, syscallabi.EAGAIN) {
		t.Errorf("full write: %v", err)
	}
	if w.Pollers().State()&syscallabi.Writable != 0 {
		t.Error("full pipe writable")
	}
	r.Close()
	if _, err := w.WriteAt(big, 0); !errors.Is(err, syscallabi.EPIPE) {
		t.Errorf("write without reader: %v", err)
	}
}

func TestRegular(t *testing.T) {
	f := NewRegularFromBytes("memfd:x", 3, 0o644, make([]byte, 42))
	st, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if st.Size != 42 || st.Mode != syscallabi.S_IFREG|0o644 || st.Ino != 3 || st.Blocks != 1 {
		t.Errorf("bad stat %+v", st)
	}
	f.WriteAt([]byte("xy"), 100)
	if f.Size() != 102 {
		t.Errorf("size %d", f.Size())
	}
	buf := make([]byte, 4)
	if n, _ := f.ReadAt(buf, 98); n != 4 || string(buf[2:]) != "xy" {
		t.Errorf("read %q", buf[:n])
	}
	f.Close()
	if _, err := f.Stat(); !errors.Is(err, syscallabi.EBADF) {
		t.Errorf("stat after close: %v", err)
	}
}
