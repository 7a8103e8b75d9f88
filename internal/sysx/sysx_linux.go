//go:build linux

// Package sysx wraps the handful of Linux syscalls the standard library's
// syscall package exposes a numeric SYS_* constant for but no friendly
// wrapper function: pivot_root, setns, pidfd_open, and getrandom. This
// mirrors the teacher's own containerSetCapabilities/capget/capset/prctl
// helpers in src/minimega/container.go, which reach for raw
// syscall.Syscall calls against syscall.SYS_* constants for exactly the
// same reason instead of pulling in golang.org/x/sys/unix.
package sysx

import (
	"syscall"
	"unsafe"
)

// Syscall numbers for linux/amd64. Hand-rolled the same way the teacher
// hand-rolls its capability bit constants (CAP_CHOWN, CAPV3, ...) instead
// of depending on a library: these are fixed kernel ABI numbers, not
// values that change with the Go toolchain.
const (
	sysPivotRoot = 155
	sysUnshare   = 272
	sysSetns     = 308
	sysGetrandom = 318
	sysPidfdOpen = 434
)

// PrSetChildSubreaper is prctl(2)'s PR_SET_CHILD_SUBREAPER option. Like
// the syscall numbers above, the standard library's syscall package
// doesn't define it (it only carries PR_CAPBSET_DROP, which the teacher
// uses), so it is hand-rolled here from the kernel's prctl.h.
const PrSetChildSubreaper = 0x24

// PivotRoot calls pivot_root(2).
func PivotRoot(newRoot, putOld string) error {
	newRootPtr, err := syscall.BytePtrFromString(newRoot)
	if err != nil {
		return err
	}
	putOldPtr, err := syscall.BytePtrFromString(putOld)
	if err != nil {
		return err
	}
	_, _, errno := syscall.Syscall(sysPivotRoot, uintptr(unsafe.Pointer(newRootPtr)), uintptr(unsafe.Pointer(putOldPtr)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Unshare calls unshare(2) with the given CLONE_* flags.
func Unshare(flags int) error {
	_, _, errno := syscall.Syscall(sysUnshare, uintptr(flags), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Setns calls setns(2), entering the namespace referred to by fd. nsType
// is one of the CLONE_NEW* flags identifying the namespace kind.
func Setns(fd int, nsType int) error {
	_, _, errno := syscall.Syscall(sysSetns, uintptr(fd), uintptr(nsType), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// PidfdOpen calls pidfd_open(2), returning a pidfd for pid usable with
// Setns without racing against pid reuse.
func PidfdOpen(pid int) (int, error) {
	fd, _, errno := syscall.Syscall(sysPidfdOpen, uintptr(pid), 0, 0)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

// Prctl calls prctl(2) with a single extra argument, mirroring the
// teacher's own prctl helper in src/minimega/container.go (used there to
// drop capability bits; used here to set PR_SET_CHILD_SUBREAPER). Unlike
// pivot_root/unshare/setns/pidfd_open, SYS_PRCTL is already exposed by the
// standard library's syscall package, so no hand-rolled number is needed.
func Prctl(option int, arg2 uintptr) error {
	_, _, errno := syscall.Syscall6(syscall.SYS_PRCTL, uintptr(option), arg2, 0, 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// GetrandomHex returns n random bytes from getrandom(2) rendered as lowercase
// hex, i.e. a string of length 2*n.
func GetrandomHex(n int) (string, error) {
	buf := make([]byte, n)
	got, _, errno := syscall.Syscall(sysGetrandom, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), 0)
	if errno != 0 {
		return "", errno
	}
	if int(got) != len(buf) {
		return "", syscall.EIO
	}
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 2*n)
	for i, b := range buf {
		out[2*i] = hexDigits[b>>4]
		out[2*i+1] = hexDigits[b&0xf]
	}
	return string(out), nil
}
