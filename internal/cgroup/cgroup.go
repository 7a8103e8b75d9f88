// Package cgroup creates and tears down a per-container cgroup-v2
// delegation subtree. It is grounded on the C source's cgroup.c
// (configureCgroup/tinyjailSetupContainerCgroup/tinyjailDestroyCgroup) and
// on the teacher's containerPopulateCgroups in src/minimega/container.go,
// which moves a process into a freshly created cgroup directory and
// writes its resource-limit files the same "build the path, open it,
// write to it" way.
//
// Because cgroup-v2 is one unified hierarchy, this package does its work
// by mounting a private cgroup2 view at the container root directory (a
// scratch location the launcher already owns, inside its own private
// mount namespace), operating on that mount, and detaching it.
package cgroup

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"

	"github.com/valentindimov/tinyjail/internal/fdutil"
	"github.com/valentindimov/tinyjail/internal/jerr"
	"github.com/valentindimov/tinyjail/internal/strutil"
)

// delegatedFiles are chowned to the container's (uid, gid) so the
// delegated cgroup subtree is writable by the mapped-in user namespace
// owner, mirroring configureCgroup's fchownat calls in cgroup.c.
var delegatedFiles = []string{
	"cgroup.procs",
	"cgroup.subtree_control",
	"cgroup.threads",
}

func mount2(containerDir string) *jerr.Error {
	if err := syscall.Mount("cgroup2", containerDir, "cgroup2", 0, ""); err != nil {
		return jerr.Wrap(jerr.CgroupMount, "mount cgroup2 at "+containerDir, err)
	}
	return nil
}

func unmount2(containerDir string) error {
	return syscall.Unmount(containerDir, syscall.MNT_DETACH)
}

// CreateSubtree mounts a private cgroup2 view at containerDir, creates
// the subtree directory named containerId with mode 0770, and unmounts.
// This is launcher orchestration step 11 (spec §4.6): the directory must
// exist before Setup is called.
func CreateSubtree(containerDir, containerId string) *jerr.Error {
	if failure := mount2(containerDir); failure != nil {
		return failure
	}
	defer unmount2(containerDir)

	subtree := filepath.Join(containerDir, containerId)
	if err := os.Mkdir(subtree, 0770); err != nil {
		return jerr.Wrap(jerr.CgroupOpen, "mkdir cgroup subtree "+subtree, err)
	}
	return nil
}

// Setup mounts cgroup2 at containerDir again, delegates ownership of the
// subtree's control files to (uid, gid), writes every cgroupOptions entry,
// moves childPid into the subtree, then unmounts. Every option is checked
// before the mount, so a malformed one fails with BadCgroupOption before
// any I/O. A failed unmount is logged by the caller but does not negate an
// otherwise successful setup (spec §4.2 step 6).
func Setup(childPid int, containerDir, containerId string, uid, gid int, cgroupOptions []string) (unmountErr error, failure *jerr.Error) {
	for _, opt := range cgroupOptions {
		if _, _, ok := parseCgroupOption(opt); !ok {
			return nil, jerr.New(jerr.BadCgroupOption, "rejected cgroup option %q", opt)
		}
	}

	if failure := mount2(containerDir); failure != nil {
		return nil, failure
	}
	defer func() { unmountErr = unmount2(containerDir) }()

	subtree := filepath.Join(containerDir, containerId)

	rawFd, err := syscall.Open(subtree, syscall.O_RDONLY, 0)
	if err != nil {
		return nil, jerr.Wrap(jerr.CgroupOpen, "open cgroup subtree "+subtree, err)
	}
	dir := fdutil.Own(rawFd)
	defer dir.Close()
	dirfd := dir.Int()

	if err := syscall.Fchownat(dirfd, ".", uid, gid, 0); err != nil {
		return nil, jerr.Wrap(jerr.CgroupDelegate, "chown cgroup subtree", err)
	}
	for _, name := range delegatedFiles {
		if err := syscall.Fchownat(dirfd, name, uid, gid, 0); err != nil {
			return nil, jerr.Wrap(jerr.CgroupDelegate, "chown "+name, err)
		}
	}

	for _, opt := range cgroupOptions {
		name, value, ok := parseCgroupOption(opt)
		if !ok {
			return nil, jerr.New(jerr.BadCgroupOption, "rejected cgroup option %q", opt)
		}
		if err := writeOptionAt(dirfd, name, value); err != nil {
			return nil, jerr.Wrap(jerr.CgroupOptionWrite, "write cgroup option "+name, err)
		}
	}

	if err := writeOptionAt(dirfd, "cgroup.procs", strconv.Itoa(childPid)); err != nil {
		return nil, jerr.Wrap(jerr.CgroupMoveProc, "move pid into cgroup", err)
	}

	return nil, nil
}

// parseCgroupOption splits a single cgroupOptions entry on its first "="
// and rejects it unless the name half is a plain filename (spec §4.2
// step 4, §6.3, §8 property 6): no "/", not "." or "..", and present at
// all. This is the one place Setup decides whether an option is safe to
// openat before any filesystem access happens.
func parseCgroupOption(opt string) (name, value string, ok bool) {
	name, value, ok = strutil.SplitOnce(opt, "=")
	if !ok || !strutil.IsPlainFilename(name) {
		return "", "", false
	}
	return name, value, true
}

// writeOptionAt opens name relative to dirfd for writing and writes value
// in a single write call, mirroring tinyjailWriteFileAt in utils.c. A
// short write is reported as an error rather than silently retried,
// matching spec §4.2: "a short write is an error."
func writeOptionAt(dirfd int, name, value string) error {
	fd, err := syscall.Openat(dirfd, name, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()

	data := []byte(value)
	n, err := f.Write(data)
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

// Cleanup best-effort removes the subtree named containerId under
// containerDir: it mounts cgroup2, recursively removes the subtree
// (depth-first, since a non-empty cgroup directory cannot be rmdir'd),
// then detaches. All failures are swallowed, mirroring tinyjailDestroyCgroup
// in cgroup.c, which likewise never returns a hard error to the caller.
func Cleanup(containerDir, containerId string) {
	if failure := mount2(containerDir); failure != nil {
		return
	}
	defer unmount2(containerDir)

	subtree := filepath.Join(containerDir, containerId)
	removeRecursive(subtree)
}

// removeRecursive removes dir and everything under it, children before
// parents, since cgroupfs directories refuse rmdir while non-empty. The
// teacher's own nuke path (containerNuke in container.go) walks the
// cgroup tree with filepath.Walk and only acts on files it recognizes by
// name; spec §9's "suspected bugs" note calls out that a DT_DIR-only walk
// can silently skip subdirectories reported as DT_UNKNOWN, so this walk
// Lstats every entry not reported as a directory instead of trusting that
// report.
func removeRecursive(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	// Deepest entries first within a level doesn't matter; what matters is
	// that every subdirectory is fully drained before its parent's rmdir.
	sort.Slice(entries, func(i, j int) bool { return entries[i].IsDir() && !entries[j].IsDir() })

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		isDir := entry.IsDir()
		if !isDir {
			info, err := os.Lstat(path)
			if err == nil && info.Mode()&fs.ModeDir != 0 {
				isDir = true
			}
		}
		if isDir {
			removeRecursive(path)
		}
	}

	os.Remove(dir)
}
