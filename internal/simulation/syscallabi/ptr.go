package syscallabi

import (
	"fmt"
	"unsafe"
)

// A ForeignPtr is the address of a T in a guest address space. It cannot be
// dereferenced; memory.Manager validates and copies.
type ForeignPtr[T any] struct {
	addr uint64
}

func NewForeignPtr[T any](addr uint64) ForeignPtr[T] {
	return ForeignPtr[T]{addr: addr}
}

// PtrOf interprets a syscall argument as a pointer to T.
func PtrOf[T any](r SyscallReg) ForeignPtr[T] {
	return ForeignPtr[T]{addr: uint64(r)}
}

func (p ForeignPtr[T]) Addr() uint64 {
	return p.addr
}

func (p ForeignPtr[T]) IsNull() bool {
	return p.addr == 0
}

func (p ForeignPtr[T]) String() string {
	return fmt.Sprintf("%#x", p.addr)
}

// Cast reinterprets p as a pointer to a different type.
func Cast[U, T any](p ForeignPtr[T]) ForeignPtr[U] {
	return ForeignPtr[U]{addr: p.addr}
}

// A ForeignArrayPtr is a guest array of n elements of T. The length comes from
// the caller and is not validated until the array is accessed.
type ForeignArrayPtr[T any] struct {
	addr uint64
	n    int
}

func NewForeignArrayPtr[T any](addr uint64, n int) ForeignArrayPtr[T] {
	if n < 0 {
		Fatalf("negative array length %d", n)
	}
	return ForeignArrayPtr[T]{addr: addr, n: n}
}

// ArrayOf interprets a syscall argument as a pointer to n elements of T.
func ArrayOf[T any](r SyscallReg, n int) ForeignArrayPtr[T] {
	return NewForeignArrayPtr[T](uint64(r), n)
}

func (p ForeignArrayPtr[T]) Addr() uint64 {
	return p.addr
}

func (p ForeignArrayPtr[T]) Len() int {
	return p.n
}

func (p ForeignArrayPtr[T]) IsNull() bool {
	return p.addr == 0
}

// Slice returns the elements [from, to) of p. Out of range indices are a
// simulator bug, not a guest error.
func (p ForeignArrayPtr[T]) Slice(from, to int) ForeignArrayPtr[T] {
	if from < 0 || to < from || to > p.n {
		Fatalf("slice [%d:%d] of array with length %d", from, to, p.n)
	}
	var zero T
	return ForeignArrayPtr[T]{addr: p.addr + uint64(from)*uint64(unsafe.Sizeof(zero)), n: to - from}
}

// Index returns a pointer to element i.
func (p ForeignArrayPtr[T]) Index(i int) ForeignPtr[T] {
	if i < 0 || i >= p.n {
		Fatalf("index %d of array with length %d", i, p.n)
	}
	var zero T
	return ForeignPtr[T]{addr: p.addr + uint64(i)*uint64(unsafe.Sizeof(zero))}
}

func (p ForeignArrayPtr[T]) String() string {
	return fmt.Sprintf("%#x[%d]", p.addr, p.n)
}
