// Package jail is the public entry point of tinyjail: given a validated
// set of container parameters, it launches an isolated process tree and
// reports how it went.
//
// It is grounded on tinyjailLaunchContainer's two-process handoff in
// main.c/tinyjail.c and on the teacher's own vm.launch call boundary in
// src/minimega/container.go: the entry point does not do any namespace
// work itself, it spins up an intermediary (here, a re-exec'd copy of
// this same binary acting as the Launcher) and waits for a result.
//
// Go cannot fork(2) safely, so where the original forks directly from
// the public call, this re-execs the current binary with a magic argv
// sentinel the Launcher recognizes (see internal/launcher.IsLauncherInvocation),
// the same substitution internal/launcher and internal/initproc make one
// level further down the process chain.
package jail

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/valentindimov/tinyjail/internal/jaillog"
	"github.com/valentindimov/tinyjail/internal/launcher"
)

// errorInfoCap mirrors jerr.ErrorInfoCap; duplicated as a plain constant
// here because ContainerResult's wire format is a public contract of
// this package and should not require importing an internal package's
// symbol to interpret.
const errorInfoCap = 240

// resultWireSize is the fixed size of the serialized ContainerResult:
// two int32s plus the fixed errorInfo buffer. At 248 bytes this comfortably
// fits under PIPE_BUF (4096 on Linux), guaranteeing the single pipe
// write/read in LaunchContainer is atomic (spec §8 property 7).
const resultWireSize = 4 + 4 + errorInfoCap

// ContainerParams describes a container launch request (spec §3). The
// zero value is invalid only insofar as it omits required fields
// (CommandList, ContainerDir, Environment); Uid/Gid default to "inherit
// containerDir's owner" when left at UnsetID.
type ContainerParams struct {
	// ContainerId is a short identifier, at most 12 bytes. If empty, a
	// random 12-hex-character value is generated by the Launcher.
	ContainerId string
	// ContainerDir is the absolute path to the directory that becomes
	// the container root. It must canonicalize to something other than
	// "/".
	ContainerDir string
	// CommandList is the command to execve inside the container;
	// element 0 is the executable path as seen inside the container.
	CommandList []string
	// Environment is the KEY=VALUE environment passed to the exec'd
	// command. Must be non-nil, even if empty.
	Environment []string
	// WorkDir, if set, is chdir'd into (inside the container) before
	// exec.
	WorkDir string
	// Uid and Gid are the host ids mapped to container id 0. UnsetID
	// means "use containerDir's owner".
	Uid, Gid int
	// CgroupOptions are ordered name=value cgroup controller file
	// writes (spec §6.3).
	CgroupOptions []string
	// UseHostNetwork suppresses network-namespace isolation and all
	// veth setup when true.
	UseHostNetwork bool
	// NetworkBridgeName, if set, attaches the outside veth to this
	// bridge. Mutually exclusive with NetworkPeerIpAddr.
	NetworkBridgeName string
	// NetworkIpAddr, if set, is assigned to the inside veth.
	NetworkIpAddr string
	// NetworkPeerIpAddr, if set, is assigned to the outside veth.
	// Mutually exclusive with NetworkBridgeName.
	NetworkPeerIpAddr string
	// NetworkDefaultRoute, if set, becomes the container's default
	// route next-hop over the inside veth.
	NetworkDefaultRoute string
	// Hostname defaults to "tinyjail" when empty.
	Hostname string
}

// UnsetID is the sentinel for "inherit containerDir's owner" (spec §3).
const UnsetID = launcher.UnsetID

// ContainerResult is the fixed-size outcome record (spec §3).
type ContainerResult struct {
	// ContainerStartedStatus is 0 if the contained process was
	// successfully execve'd, nonzero otherwise.
	ContainerStartedStatus int32
	// ContainerExitStatus is the raw wait status of the init process,
	// valid only when ContainerStartedStatus == 0. Decode it with
	// WaitStatus-style bit tests, e.g. syscall.WaitStatus(uint32(status)).
	ContainerExitStatus int32
	// ErrorInfo is the first-failure human-readable message, already
	// truncated to fit the original 240-byte wire buffer.
	ErrorInfo string
}

func toParams(p ContainerParams) launcher.Params {
	return launcher.Params{
		ContainerId:         p.ContainerId,
		ContainerDir:        p.ContainerDir,
		CommandList:         p.CommandList,
		Environment:         p.Environment,
		WorkDir:             p.WorkDir,
		Uid:                 p.Uid,
		Gid:                 p.Gid,
		CgroupOptions:       p.CgroupOptions,
		UseHostNetwork:      p.UseHostNetwork,
		NetworkBridgeName:   p.NetworkBridgeName,
		NetworkIpAddr:       p.NetworkIpAddr,
		NetworkPeerIpAddr:   p.NetworkPeerIpAddr,
		NetworkDefaultRoute: p.NetworkDefaultRoute,
		Hostname:            p.Hostname,
	}
}

// LaunchContainer is the public call (spec §4.7): it starts the
// Launcher as an intermediary process, waits for exactly one fixed-size
// result record, reaps the Launcher, and returns the outcome. Deep
// parameter validation (spec §6.1) happens inside the Launcher, not
// here, so an invalid ContainerParams still costs one re-exec and the
// Launcher's own private mount namespace, but never reaches clone, cgroup,
// or network setup.
func LaunchContainer(p ContainerParams) (ContainerResult, error) {
	self, err := os.Executable()
	if err != nil {
		return ContainerResult{}, fmt.Errorf("resolve own executable path: %w", err)
	}

	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return ContainerResult{}, fmt.Errorf("create result pipe: %w", err)
	}
	defer readEnd.Close()

	args := launcher.BuildArgs(self, toParams(p))
	cmd := &exec.Cmd{
		Path:       self,
		Args:       args,
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		ExtraFiles: []*os.File{writeEnd},
	}
	if err := cmd.Start(); err != nil {
		writeEnd.Close()
		return ContainerResult{}, fmt.Errorf("start launcher: %w", err)
	}
	writeEnd.Close()

	buf := make([]byte, resultWireSize)
	if _, err := io.ReadFull(readEnd, buf); err != nil {
		cmd.Wait()
		return ContainerResult{}, fmt.Errorf("read result pipe: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return ContainerResult{}, fmt.Errorf("wait for launcher: %w", err)
		}
	}

	return decodeResult(buf), nil
}

func decodeResult(buf []byte) ContainerResult {
	started := int32(binary.LittleEndian.Uint32(buf[0:4]))
	exitStatus := int32(binary.LittleEndian.Uint32(buf[4:8]))
	errInfo := buf[8 : 8+errorInfoCap]
	if i := indexByte(errInfo, 0); i >= 0 {
		errInfo = errInfo[:i]
	}
	return ContainerResult{
		ContainerStartedStatus: started,
		ContainerExitStatus:    exitStatus,
		ErrorInfo:              string(errInfo),
	}
}

func encodeResult(r launcher.Result) []byte {
	buf := make([]byte, resultWireSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.ContainerStartedStatus))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.ContainerExitStatus))
	copy(buf[8:8+errorInfoCap-1], r.ErrorInfo)
	return buf
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// RunAsLauncher is called from main() when os.Args identifies this
// invocation as the re-exec'd Launcher (internal/launcher.IsLauncherInvocation).
// It runs the orchestration, writes the fixed-size result record to fd 3
// (the write end LaunchContainer passed via ExtraFiles), and returns the
// process exit code the launcher invocation itself should use — always 0,
// since the result record, not the process exit code, carries the outcome.
func RunAsLauncher(log *jaillog.Logger) int {
	result := launcher.Run(log)
	out := os.NewFile(3, "result-write")
	if out != nil {
		out.Write(encodeResult(result))
		out.Close()
	}
	return 0
}
