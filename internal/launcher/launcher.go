// Package launcher is the orchestration state machine that runs as the
// intermediary process (P1 in spec §2): it validates parameters deeply,
// spawns the init process with every namespace-clone flag, drives cgroup
// and user-namespace and network setup, releases init to exec, and
// reports the outcome.
//
// It is grounded on tinyjailLaunchContainer in tinyjail.c for the step
// sequence, and on the teacher's ContainerVM.launch in
// src/minimega/container.go for the Go shape of that sequence: build
// pipes with os.Pipe, start the namespaced child with exec.Cmd plus
// SysProcAttr.Cloneflags (Go's substitute for a direct clone(2) call,
// since the runtime cannot fork safely), then drive the rest of the
// setup from the parent side while the child blocks on a pipe.
package launcher

import (
	"io"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/valentindimov/tinyjail/internal/cgroup"
	"github.com/valentindimov/tinyjail/internal/initproc"
	"github.com/valentindimov/tinyjail/internal/jaillog"
	"github.com/valentindimov/tinyjail/internal/jerr"
	"github.com/valentindimov/tinyjail/internal/network"
	"github.com/valentindimov/tinyjail/internal/sysx"
	"github.com/valentindimov/tinyjail/internal/userns"
)

// UnsetID is the sentinel meaning "no uid/gid was specified; inherit the
// container directory's owner" (spec §3, ContainerParams.uid/gid).
const UnsetID = -1

// Params is the orchestration input: the launcher's own copy of
// ContainerParams (spec §3), owned here rather than in the jail package
// so this package can be exercised and tested without importing the
// public entry point.
type Params struct {
	ContainerId         string
	ContainerDir        string
	CommandList         []string
	Environment         []string
	WorkDir             string
	Uid, Gid            int
	CgroupOptions       []string
	UseHostNetwork      bool
	NetworkBridgeName   string
	NetworkIpAddr       string
	NetworkPeerIpAddr   string
	NetworkDefaultRoute string
	Hostname            string
}

// Result mirrors ContainerResult (spec §3) before it is packed into a
// fixed-size wire record by the jail package.
type Result struct {
	ContainerStartedStatus int32
	ContainerExitStatus    int32
	ErrorInfo              string
}

func failResult(failure *jerr.Error) Result {
	return Result{ContainerStartedStatus: -1, ErrorInfo: jerr.Truncate(failure.Error())}
}

// cloneFlagsBase are the namespace flags applied to the init child
// regardless of networking mode (spec §4.6 step 9).
const cloneFlagsBase = syscall.CLONE_NEWNS | syscall.CLONE_NEWIPC | syscall.CLONE_NEWPID |
	syscall.CLONE_NEWUTS | syscall.CLONE_NEWUSER | syscall.CLONE_NEWTIME | syscall.SIGCHLD

// Run executes the full Launcher orchestration (spec §4.6) and returns
// the outcome. It must be called as the entire body of a process that
// has nothing else to do afterward: it locks its calling goroutine to
// its OS thread for its own lifetime, because mount-namespace and
// network-namespace changes in Linux are only visible to the thread that
// made them, and every subsequent syscall in this function must observe
// the private mount namespace step 1 creates.
func Run(log *jaillog.Logger) Result {
	runtime.LockOSThread()

	if err := sysx.Unshare(syscall.CLONE_NEWNS); err != nil {
		return failResult(jerr.Wrap(jerr.Clone, "unshare(CLONE_NEWNS)", err))
	}
	if err := syscall.Mount("", "/", "", syscall.MS_PRIVATE|syscall.MS_REC, ""); err != nil {
		return failResult(jerr.Wrap(jerr.Clone, "remount / private-recursive", err))
	}

	p, failure := parseLauncherArgs(os.Args)
	if failure != nil {
		return failResult(failure)
	}

	canonicalDir, failure := validate(p)
	if failure != nil {
		return failResult(failure)
	}
	p.ContainerDir = canonicalDir

	if p.Uid == UnsetID || p.Gid == UnsetID {
		info, err := os.Stat(canonicalDir)
		if err != nil {
			return failResult(jerr.Wrap(jerr.MissingRoot, "stat container dir", err))
		}
		stat := info.Sys().(*syscall.Stat_t)
		if p.Uid == UnsetID {
			p.Uid = int(stat.Uid)
		}
		if p.Gid == UnsetID {
			p.Gid = int(stat.Gid)
		}
	}

	if p.ContainerId == "" {
		id, err := sysx.GetrandomHex(6)
		if err != nil {
			return failResult(jerr.Wrap(jerr.InvalidId, "generate container id", err))
		}
		p.ContainerId = id
	}

	if p.Hostname == "" {
		p.Hostname = "tinyjail"
	}

	syncReadEnd, syncWriteEnd, err := os.Pipe()
	if err != nil {
		return failResult(jerr.Wrap(jerr.PipeCreate, "create sync pipe", err))
	}
	defer syncWriteEnd.Close()
	errorReadEnd, errorWriteEnd, err := os.Pipe()
	if err != nil {
		return failResult(jerr.Wrap(jerr.PipeCreate, "create error pipe", err))
	}
	defer errorReadEnd.Close()

	if err := sysx.Prctl(sysx.PrSetChildSubreaper, 1); err != nil {
		return failResult(jerr.Wrap(jerr.SubreaperSet, "prctl(PR_SET_CHILD_SUBREAPER)", err))
	}

	cmd, err := startInit(p, syncReadEnd, errorWriteEnd)
	if err != nil {
		syncReadEnd.Close()
		errorWriteEnd.Close()
		return failResult(jerr.Wrap(jerr.Clone, "start init process", err))
	}
	childPid := cmd.Process.Pid

	// The child owns these now; the parent only ever uses the other ends.
	syncReadEnd.Close()
	errorWriteEnd.Close()

	sigkillAndReap := func() {
		cmd.Process.Kill()
		var ws syscall.WaitStatus
		syscall.Wait4(childPid, &ws, 0, nil)
	}

	if failure := cgroup.CreateSubtree(p.ContainerDir, p.ContainerId); failure != nil {
		sigkillAndReap()
		return failResult(failure)
	}

	unmountErr, failure := cgroup.Setup(childPid, p.ContainerDir, p.ContainerId, p.Uid, p.Gid, p.CgroupOptions)
	if failure != nil {
		sigkillAndReap()
		cgroup.Cleanup(p.ContainerDir, p.ContainerId)
		return failResult(failure)
	}
	if unmountErr != nil {
		log.Error("unmount scratch cgroup2 view: %v", unmountErr)
	}

	if failure := userns.Configure(childPid, p.Uid, p.Gid); failure != nil {
		sigkillAndReap()
		cgroup.Cleanup(p.ContainerDir, p.ContainerId)
		return failResult(failure)
	}

	if !p.UseHostNetwork {
		if failure := setupNetworkWithScratchProc(p, childPid, log); failure != nil {
			sigkillAndReap()
			cgroup.Cleanup(p.ContainerDir, p.ContainerId)
			return failResult(failure)
		}
	}

	if _, err := syncWriteEnd.Write([]byte("OK")); err != nil {
		sigkillAndReap()
		cgroup.Cleanup(p.ContainerDir, p.ContainerId)
		return failResult(jerr.Wrap(jerr.SyncWrite, "write OK to init", err))
	}
	syncWriteEnd.Close()

	initErrMsg, err := io.ReadAll(errorReadEnd)
	if err != nil {
		log.Error("read init error pipe: %v", err)
	}

	var ws syscall.WaitStatus
	if _, err := syscall.Wait4(childPid, &ws, 0, nil); err != nil {
		cgroup.Cleanup(p.ContainerDir, p.ContainerId)
		return failResult(jerr.Wrap(jerr.WaitPid, "waitpid init", err))
	}

	drainOrphans()

	cgroup.Cleanup(p.ContainerDir, p.ContainerId)

	if len(initErrMsg) > 0 {
		return Result{ContainerStartedStatus: -1, ErrorInfo: jerr.Truncate(string(initErrMsg))}
	}
	return Result{ContainerStartedStatus: 0, ContainerExitStatus: int32(ws)}
}

// drainOrphans reaps every remaining child after the init process itself
// has been waited on, since the Launcher became a subreaper in step 8
// and may have inherited grandchildren orphaned before init exited (spec
// §4.6 step 18, §8 property 8).
func drainOrphans() {
	var ws syscall.WaitStatus
	for {
		_, err := syscall.Wait4(-1, &ws, 0, nil)
		if err != nil {
			return
		}
	}
}

func setupNetworkWithScratchProc(p Params, childPid int, log *jaillog.Logger) *jerr.Error {
	if err := syscall.Mount("proc", p.ContainerDir, "proc", 0, ""); err != nil {
		return jerr.Wrap(jerr.NetNsOpen, "mount scratch proc", err)
	}
	defer syscall.Unmount(p.ContainerDir, syscall.MNT_DETACH)

	return network.Setup(network.Params{
		ContainerId:         p.ContainerId,
		ChildPid:            childPid,
		NetworkBridgeName:   p.NetworkBridgeName,
		NetworkIpAddr:       p.NetworkIpAddr,
		NetworkPeerIpAddr:   p.NetworkPeerIpAddr,
		NetworkDefaultRoute: p.NetworkDefaultRoute,
	}, log)
}

// startInit re-execs the current binary as the init process, passing the
// sync pipe's read end and the error pipe's write end as the child's
// fd 3 and 4 via ExtraFiles, and the full namespace-clone flag set via
// Cloneflags — the Go substitute for clone(2) (see package doc).
func startInit(p Params, syncRead, errorWrite *os.File) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, err
	}

	flags := uintptr(cloneFlagsBase)
	if !p.UseHostNetwork {
		flags |= syscall.CLONE_NEWNET
	}

	args := initproc.BuildArgs(self, initproc.Config{
		ContainerId:  p.ContainerId,
		Hostname:     p.Hostname,
		ContainerDir: p.ContainerDir,
		WorkDir:      p.WorkDir,
		Environment:  p.Environment,
		Command:      p.CommandList,
	})

	cmd := &exec.Cmd{
		Path:       self,
		Args:       args,
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		ExtraFiles: []*os.File{syncRead, errorWrite},
		SysProcAttr: &syscall.SysProcAttr{
			Cloneflags: flags,
		},
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}
