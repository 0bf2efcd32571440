// Copyright 2019 The Go Authors. All rights reserved.  Use of this source code
// is governed by a BSD-style license that can be found at
// https://go.googlesource.com/go/+/refs/heads/master/LICENSE.

// Based on https://go.googlesource.com/go/+/refs/heads/master/src/internal/poll/errno_unix.go.

package syscallabi

import (
	"errors"
	"fmt"
)

// Do the interface allocations only once for common
// Errno values.
var (
	errEAGAIN error = EAGAIN
	errEINVAL error = EINVAL
	errENOENT error = ENOENT
	errEBADF  error = EBADF
	errEFAULT error = EFAULT
)

// ErrnoErr returns common boxed Errno values, to prevent
// allocations at runtime.
func ErrnoErr(e Errno) error {
	switch e {
	case 0:
		return nil
	case EAGAIN:
		return errEAGAIN
	case EINVAL:
		return errEINVAL
	case ENOENT:
		return errENOENT
	case EBADF:
		return errEBADF
	case EFAULT:
		return errEFAULT
	}
	return e
}

// ErrnoOf extracts the Errno carried by err. Wrapped errnos are found with
// errors.As.
func ErrnoOf(err error) (Errno, bool) {
	var errno Errno
	if errors.As(err, &errno) && errno != 0 {
		return errno, true
	}
	return 0, false
}

// A FatalError reports a violated simulator invariant. It is raised with
// panic and must never reach the guest.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string {
	return "fatal simulator error: " + e.Msg
}

// Fatalf panics with a *FatalError.
func Fatalf(format string, args ...any) {
	panic(&FatalError{Msg: fmt.Sprintf(format, args...)})
}
