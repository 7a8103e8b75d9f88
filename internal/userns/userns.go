// Package userns configures the single-user id mapping for a freshly
// cloned container init process. It is grounded on
// tinyjailSetupContainerUserNamespace in userns.c, which opens
// /proc/<pid> as a directory fd and writes uid_map, setgroups, and
// gid_map relative to it with openat, in that order.
package userns

import (
	"os"
	"strconv"
	"syscall"

	"github.com/valentindimov/tinyjail/internal/fdutil"
	"github.com/valentindimov/tinyjail/internal/jerr"
)

// Configure writes the one-line id mappings that give childPid a single
// mapped (uid, gid) pair inside its new user namespace. Ordering is
// strict: setgroups must be written before gid_map (the kernel refuses an
// unprivileged gid_map write otherwise), so uid_map, then setgroups, then
// gid_map is always observed even though spec §4.3 only requires
// setgroups-before-gid_map.
func Configure(childPid, uid, gid int) *jerr.Error {
	procPath := "/proc/" + strconv.Itoa(childPid)
	rawFd, err := syscall.Open(procPath, syscall.O_RDONLY, 0)
	if err != nil {
		return jerr.Wrap(jerr.ProcOpen, "open "+procPath, err)
	}
	procDir := fdutil.Own(rawFd)
	defer procDir.Close()
	dirfd := procDir.Int()

	if err := writeOnceAt(dirfd, "uid_map", "0 "+strconv.Itoa(uid)+" 1\n"); err != nil {
		return jerr.Wrap(jerr.UidMap, "write uid_map", err)
	}
	if err := writeOnceAt(dirfd, "setgroups", "deny"); err != nil {
		return jerr.Wrap(jerr.SetGroups, "write setgroups", err)
	}
	if err := writeOnceAt(dirfd, "gid_map", "0 "+strconv.Itoa(gid)+" 1\n"); err != nil {
		return jerr.Wrap(jerr.GidMap, "write gid_map", err)
	}
	return nil
}

// writeOnceAt opens name relative to dirfd and writes data in a single
// write call; these procfs files accept exactly one write each, so a
// short write is reported as an error rather than retried.
func writeOnceAt(dirfd int, name, data string) error {
	fd, err := syscall.Openat(dirfd, name, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()

	n, err := f.Write([]byte(data))
	if err != nil {
		return err
	}
	if n != len(data) {
		return &shortWriteError{name: name, wrote: n, want: len(data)}
	}
	return nil
}

type shortWriteError struct {
	name  string
	wrote int
	want  int
}

func (e *shortWriteError) Error() string {
	return "short write to " + e.name + ": wrote " + strconv.Itoa(e.wrote) + " of " + strconv.Itoa(e.want) + " bytes"
}
