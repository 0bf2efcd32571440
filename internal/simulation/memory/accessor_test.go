package memory

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kmrgirish/hostsim/internal/simulation/syscallabi"
)

const testBase = 0x10000000

func newTestManager(t *testing.T) (*AddressSpace, *Manager) {
	t.Helper()
	as := NewAddressSpace()
	if err := as.MapFixed(testBase, 2*PageSize, ProtRead|ProtWrite, "rw"); err != nil {
		t.Fatal(err)
	}
	if err := as.MapFixed(testBase+2*PageSize, PageSize, ProtRead, "ro"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(as.Release)
	return as, NewManager(as)
}

type pair struct {
	A int32
	_ int32
	B uint64
}

func TestReadWrite(t *testing.T) {
	_, m := newTestManager(t)

	ptr := syscallabi.NewForeignPtr[pair](testBase + 16)
	want := pair{A: -5, B: 1 << 40}
	if err := Write(m, ptr, want); err != nil {
		t.Fatal(err)
	}
	got, err := Read(m, ptr)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	raw := make([]byte, 16)
	if err := m.ReadBytes(syscallabi.NewForeignArrayPtr[byte](testBase+16, 16), raw); err != nil {
		t.Fatal(err)
	}
	// A, 4 bytes of padding, then B
	if diff := cmp.Diff([]byte{0xfb, 0xff, 0xff, 0xff, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0}, raw); diff != "" {
		t.Errorf("layout diff: %s", diff)
	}
}

func TestWriteFaults(t *testing.T) {
	as, m := newTestManager(t)

	testcases := []struct {
		name string
		addr uint64
	}{
		{name: "unmapped", addr: testBase - 8},
		{name: "null", addr: 0},
		{name: "read only", addr: testBase + 2*PageSize},
		{name: "straddles into read only", addr: testBase + 2*PageSize - 4},
		{name: "straddles past end", addr: testBase + 3*PageSize - 4},
		{name: "misaligned", addr: testBase + 4},
		{name: "wraps", addr: ^uint64(0) - 3},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			before := snapshot(as)
			err := Write(m, syscallabi.NewForeignPtr[uint64](tc.addr), 0xdeadbeef)
			if !errors.Is(err, syscallabi.EFAULT) {
				t.Errorf("got %v, want EFAULT", err)
			}
			if !bytes.Equal(before, snapshot(as)) {
				t.Errorf("faulting write modified memory")
			}
		})
	}
}

func snapshot(as *AddressSpace) []byte {
	buf := make([]byte, 3*PageSize)
	as.Lock()
	defer as.Unlock()
	as.CopyIn(testBase, buf)
	return buf
}

func TestReadFromReadOnly(t *testing.T) {
	_, m := newTestManager(t)
	if _, err := Read(m, syscallabi.NewForeignPtr[uint64](testBase+2*PageSize)); err != nil {
		t.Errorf("read of read-only page failed: %v", err)
	}
	// straddling two mappings that are both readable is fine
	if _, err := Read(m, syscallabi.NewForeignPtr[uint64](testBase+2*PageSize-8)); err != nil {
		t.Errorf("read across mappings failed: %v", err)
	}
}

func TestBytes(t *testing.T) {
	_, m := newTestManager(t)

	ptr := syscallabi.NewForeignArrayPtr[byte](testBase+PageSize-3, 6)
	if err := m.WriteBytes(ptr, []byte("abcdef")); err != nil {
		t.Fatal(err)
	}
	out := make([]byte, 6)
	if err := m.ReadBytes(ptr, out); err != nil {
		t.Fatal(err)
	}
	if string(out) != "abcdef" {
		t.Errorf("got %q", out)
	}

	// zero-length accesses never fault
	if err := m.WriteBytes(syscallabi.NewForeignArrayPtr[byte](0, 0), nil); err != nil {
		t.Errorf("zero-length write: %v", err)
	}

	err := m.WriteBytes(syscallabi.NewForeignArrayPtr[byte](testBase+3*PageSize-2, 4), []byte("abcd"))
	if !errors.Is(err, syscallabi.EFAULT) {
		t.Errorf("got %v, want EFAULT", err)
	}
}

func TestArrays(t *testing.T) {
	_, m := newTestManager(t)
	ptr := syscallabi.NewForeignArrayPtr[int32](testBase+64, 2)
	if err := WriteArray(m, ptr, []int32{3, 4}); err != nil {
		t.Fatal(err)
	}
	got, err := ReadArray(m, ptr)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int32{3, 4}, got); diff != "" {
		t.Errorf("diff: %s", diff)
	}
}

func TestReadString(t *testing.T) {
	as, m := newTestManager(t)

	put := func(addr uint64, s string) {
		t.Helper()
		as.Lock()
		as.CopyOut(addr, []byte(s))
		as.Unlock()
	}

	put(testBase, "/etc/hosts\x00")
	s, err := m.ReadString(syscallabi.NewForeignPtr[byte](testBase), 4096)
	if err != nil || s != "/etc/hosts" {
		t.Errorf("got %q %v", s, err)
	}

	if _, err := m.ReadString(syscallabi.NewForeignPtr[byte](testBase), 5); !errors.Is(err, syscallabi.ENAMETOOLONG) {
		t.Errorf("got %v, want ENAMETOOLONG", err)
	}

	// string ending exactly before the end of the mapping
	put(testBase+3*PageSize-4, "abc\x00")
	if s, err := m.ReadString(syscallabi.NewForeignPtr[byte](testBase+3*PageSize-4), 4096); err != nil || s != "abc" {
		t.Errorf("got %q %v", s, err)
	}

	// running off the end of the mapping
	put(testBase+3*PageSize-4, strings.Repeat("x", 4))
	if _, err := m.ReadString(syscallabi.NewForeignPtr[byte](testBase+3*PageSize-4), 4096); !errors.Is(err, syscallabi.EFAULT) {
		t.Errorf("got %v, want EFAULT", err)
	}
}
