// Package fdutil provides a tiny owning file-descriptor handle so every fd
// acquired while setting up a container has exactly one owner and is
// released on every return path, the way the teacher's code leans on
// defer around every os.File it opens.
package fdutil

import (
	"os"
	"syscall"
)

// FD owns a raw file descriptor. Build one with Own: the zero value holds
// descriptor 0, not a closed handle.
type FD struct {
	fd int
}

// Own wraps a raw fd (-1 or already closed is fine) for scoped release.
func Own(fd int) *FD {
	return &FD{fd: fd}
}

// Int returns the raw descriptor number, or -1 if already closed.
func (h *FD) Int() int {
	if h == nil {
		return -1
	}
	return h.fd
}

// Valid reports whether the handle still owns an open descriptor.
func (h *FD) Valid() bool {
	return h != nil && h.fd >= 0
}

// Close releases the descriptor. It is idempotent: closing an already
// released or nil handle is a no-op.
func (h *FD) Close() error {
	if h == nil || h.fd < 0 {
		return nil
	}
	err := syscall.Close(h.fd)
	h.fd = -1
	return err
}

// Release hands off ownership without closing, returning the raw fd.
// Used when the fd is about to be wrapped in an *os.File or handed to a
// child process and this handle should no longer close it.
func (h *FD) Release() int {
	if h == nil {
		return -1
	}
	fd := h.fd
	h.fd = -1
	return fd
}

// File wraps the raw descriptor in an *os.File without transferring
// ownership away from h; the caller is expected to call Release first if
// the returned *os.File should own the descriptor instead.
func (h *FD) File(name string) *os.File {
	return os.NewFile(uintptr(h.Int()), name)
}
