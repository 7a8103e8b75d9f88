// Package initproc is the in-child sequence that runs as the container's
// init process (P2 in spec §2): it blocks on a sync pipe, then performs
// the last leg of namespace setup — subreaper, bind+pivot_root, workdir,
// hostname — before execve-ing into the user's command.
//
// Go cannot fork(2) safely once the runtime has started extra OS threads,
// so unlike the original C tinyjail (which clones Init directly with a
// function pointer), this process comes into being the way the teacher's
// containerShim does: the launcher re-execs the same binary with
// Cloneflags set on the child's SysProcAttr, and the child recognizes
// itself via a magic argv[1] sentinel the way minimega's main recognizes
// CONTAINER_MAGIC (defined in src/minimega/container.go) before handing
// off to containerShim.
package initproc

import (
	"io"
	"os"
	"strconv"
	"syscall"

	"github.com/valentindimov/tinyjail/internal/jerr"
	"github.com/valentindimov/tinyjail/internal/sysx"
)

// Magic is the argv[1] sentinel the launcher passes to its re-exec'd
// child so Run can tell "I am the init process" from "I am a normal
// invocation of this binary", mirroring CONTAINER_MAGIC in container.go.
const Magic = "__tinyjail_init__"

// Fds the launcher hands the re-exec'd child via exec.Cmd.ExtraFiles, in
// order: the sync pipe's read end, then the error pipe's write end. Both
// land at these numbers because ExtraFiles are appended after the
// standard stdin/stdout/stderr trio.
const (
	SyncReadFd   = 3
	ErrorWriteFd = 4
)

// Config is everything Run needs, encoded into argv by the launcher
// (see BuildArgs) and decoded back out by parseArgs.
type Config struct {
	ContainerId  string
	Hostname     string
	ContainerDir string
	WorkDir      string
	Environment  []string
	Command      []string
}

// noWorkDir is the argv element BuildArgs passes for an empty WorkDir: an
// empty string, which exec.Cmd.Args carries through unchanged. Every argv
// element reaches execve as a NUL-terminated string, so a NUL byte cannot
// serve as the marker (exec rejects such an argument with EINVAL).
const noWorkDir = ""

// BuildArgs builds the argv for the re-exec'd init process: positional
// fields, then the environment count and entries, then "--" and the
// command. Every element is passed as a literal exec.Cmd argv entry, not
// through a shell, so no quoting or escaping is needed regardless of
// what the strings contain.
func BuildArgs(execPath string, cfg Config) []string {
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = noWorkDir
	}
	args := []string{
		execPath,
		Magic,
		cfg.ContainerId,
		cfg.Hostname,
		cfg.ContainerDir,
		workDir,
		strconv.Itoa(len(cfg.Environment)),
	}
	args = append(args, cfg.Environment...)
	args = append(args, "--")
	args = append(args, cfg.Command...)
	return args
}

// IsInitInvocation reports whether args (typically os.Args) is this
// binary being re-exec'd as the init process rather than being invoked
// normally from the command line.
func IsInitInvocation(args []string) bool {
	return len(args) > 1 && args[1] == Magic
}

func parseArgs(args []string) (Config, error) {
	const minLen = 7 // argv[0], Magic, id, hostname, dir, workdir, envcount
	if len(args) < minLen {
		return Config{}, jerr.New(jerr.SyncRead, "init invocation has too few arguments")
	}
	cfg := Config{
		ContainerId:  args[2],
		Hostname:     args[3],
		ContainerDir: args[4],
	}
	if args[5] != noWorkDir {
		cfg.WorkDir = args[5]
	}
	envCount, err := strconv.Atoi(args[6])
	if err != nil || envCount < 0 {
		return Config{}, jerr.New(jerr.SyncRead, "init invocation has malformed env count")
	}
	rest := args[7:]
	if len(rest) < envCount+1 { // +1 for the "--" separator
		return Config{}, jerr.New(jerr.SyncRead, "init invocation is missing declared arguments")
	}
	cfg.Environment = rest[:envCount]
	if rest[envCount] != "--" {
		return Config{}, jerr.New(jerr.SyncRead, "init invocation missing -- separator")
	}
	cfg.Command = rest[envCount+1:]
	if len(cfg.Command) == 0 {
		return Config{}, jerr.New(jerr.SyncRead, "init invocation has no command")
	}
	return cfg, nil
}

// Run executes the in-child state machine of spec §4.5. On success it
// never returns — execve replaces the process image. On any failure it
// writes one truncated message to the error pipe and exits nonzero.
func Run(args []string) {
	errorWrite := os.NewFile(uintptr(ErrorWriteFd), "error-write")

	fail := func(failure *jerr.Error) {
		msg := jerr.Truncate(failure.Error())
		if errorWrite != nil {
			errorWrite.Write([]byte(msg))
			errorWrite.Close()
		}
		os.Exit(1)
	}

	cfg, err := parseArgs(args)
	if err != nil {
		fail(err.(*jerr.Error))
		return
	}

	// Step 2: block on the barrier. A short read (including EOF, meaning
	// the launcher crashed or was killed before signaling) means we must
	// exit without touching any namespace — there is nothing to report
	// and no error pipe reader left to hear it, so this path exits
	// silently rather than calling fail.
	syncRead := os.NewFile(uintptr(SyncReadFd), "sync-read")
	buf := make([]byte, 2)
	if _, err := io.ReadFull(syncRead, buf); err != nil || string(buf) != "OK" {
		os.Exit(1)
	}
	syncRead.Close()

	// Step 3: the user namespace now maps container uid/gid 0 to the
	// host's mapped pair; assume that identity inside the container.
	if err := syscall.Setuid(0); err != nil {
		fail(jerr.Wrap(jerr.SetIds, "setuid(0)", err))
	}
	if err := syscall.Setgid(0); err != nil {
		fail(jerr.Wrap(jerr.SetIds, "setgid(0)", err))
	}

	// Step 4.
	if err := sysx.Prctl(sysx.PrSetChildSubreaper, 1); err != nil {
		fail(jerr.Wrap(jerr.SetIds, "prctl(PR_SET_CHILD_SUBREAPER)", err))
	}

	// Step 5: the process is already a cgroup member (the launcher moved
	// it there before signaling OK); only now may it own its own cgroup
	// namespace view.
	if err := sysx.Unshare(syscall.CLONE_NEWCGROUP); err != nil {
		fail(jerr.Wrap(jerr.UnshareCgroup, "unshare(CLONE_NEWCGROUP)", err))
	}

	// Step 6: bind-mount the container root over itself so it is its own
	// mountpoint (a precondition for pivot_root), then chdir into it.
	// MS_PRIVATE is applied separately below since syscall.Mount rejects
	// combining a propagation flag with MS_BIND|MS_REC in one call on some
	// kernels; the explicit private remount makes the intent unambiguous.
	if err := syscall.Mount(cfg.ContainerDir, cfg.ContainerDir, "", syscall.MS_BIND|syscall.MS_REC|syscall.MS_NOSUID, ""); err != nil {
		fail(jerr.Wrap(jerr.BindMount, "bind-mount container root", err))
	}
	if err := syscall.Mount("", cfg.ContainerDir, "", syscall.MS_PRIVATE|syscall.MS_REC, ""); err != nil {
		fail(jerr.Wrap(jerr.BindMount, "make container root mount private", err))
	}
	if err := syscall.Chdir(cfg.ContainerDir); err != nil {
		fail(jerr.Wrap(jerr.Chdir, "chdir into container root", err))
	}

	// Step 7: swap the mount namespace's root. pivot_root(".", ".") with
	// the new root as both arguments is the well-known idiom for
	// "replace / with the current directory, without needing a second
	// mountpoint to stash the old root in" — the old root ends up mounted
	// on top of the new root at "." and is then unmounted in place.
	if err := sysx.PivotRoot(".", "."); err != nil {
		fail(jerr.Wrap(jerr.PivotRoot, "pivot_root", err))
	}
	if err := syscall.Unmount(".", syscall.MNT_DETACH); err != nil {
		fail(jerr.Wrap(jerr.UmountOld, "detach old root", err))
	}

	// Step 8.
	if cfg.WorkDir != "" {
		if err := syscall.Chdir(cfg.WorkDir); err != nil {
			fail(jerr.Wrap(jerr.WorkdirChdir, "chdir to workdir", err))
		}
	}

	// Step 9.
	if err := syscall.Sethostname([]byte(cfg.Hostname)); err != nil {
		fail(jerr.Wrap(jerr.SetHostname, "sethostname", err))
	}

	// Step 10: arm CLOEXEC so a successful execve silently closes this
	// end, letting the launcher's read on the other end distinguish
	// "Init failed after OK" (nonempty read) from "Init execve'd fine"
	// (read returns EOF).
	syscall.CloseOnExec(ErrorWriteFd)

	// Step 11.
	execErr := syscall.Exec(cfg.Command[0], cfg.Command, cfg.Environment)
	// syscall.Exec only returns on failure.
	fail(jerr.Wrap(jerr.Execve, "execve() failed", execErr))
}
