// Package netops invokes the system "ip" command to perform link, address,
// and route operations, grounded on the teacher's processWrapper in
// internal/bridge/process.go: run a command, capture combined output, log
// it at debug level, and surface the exit error to the caller. Spec
// §4.4/§6.5 explicitly calls for this (and not a netlink library) so a
// future implementation can swap in raw RTM messages against the same
// contract.
package netops

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/valentindimov/tinyjail/internal/jaillog"
)

// extraFileFd is the fd number an "ip" child sees its first ExtraFiles
// entry under: fd 0/1/2 are always occupied by stdin/stdout/stderr
// (exec.Cmd supplies /dev/null for an unset stdin, and CombinedOutput a
// pipe for stdout/stderr), so the first extra file always lands at 3.
const extraFileFd = 3

// Runner invokes "ip" with a fixed logger, matching the teacher's module-
// level helper functions but packaged as a value so callers can supply
// (or omit) a logging sink.
type Runner struct {
	Log *jaillog.Logger
}

// New builds a Runner that logs through log. A nil log is fine; methods
// tolerate it.
func New(log *jaillog.Logger) *Runner {
	return &Runner{Log: log}
}

func (r *Runner) run(args ...string) error {
	return r.runWithFiles(nil, args...)
}

// runWithFiles is run plus the ability to hand the "ip" child extra open
// files beyond stdin/stdout/stderr (e.g. a namespace fd that a "netns
// /proc/self/fd/N" argument refers to): exec.Command's child does not
// inherit the parent's O_CLOEXEC fds (files opened through the os package
// are O_CLOEXEC), so any fd the child must see at a known number has to be
// passed through Cmd.ExtraFiles explicitly.
func (r *Runner) runWithFiles(extraFiles []*os.File, args ...string) error {
	start := time.Now()
	cmd := exec.Command("ip", args...)
	cmd.ExtraFiles = extraFiles
	out, err := cmd.CombinedOutput()
	r.Log.Debug("ip %s completed in %v, output below:\n%s", strings.Join(args, " "), time.Since(start), string(out))
	if err != nil {
		return fmt.Errorf("ip %s: %w (output: %s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// AddVeth creates a veth pair named ifIn<->ifOut: "ip link add dev <ifIn>
// type veth peer <ifOut>".
func (r *Runner) AddVeth(ifIn, ifOut string) error {
	return r.run("link", "add", "dev", ifIn, "type", "veth", "peer", ifOut)
}

// MoveToNetNsFd moves interface name into the namespace identified by
// nsFile: "ip link set <if> netns /proc/self/fd/<N>". nsFile is passed to
// the "ip" child via ExtraFiles rather than referenced by its fd number in
// this process, since that number is not guaranteed to name the same file
// in the child: an O_CLOEXEC descriptor does not survive the exec at all,
// and /proc/self/fd/<N> in the child would then refer to whatever (if
// anything) the child itself has open at N. ExtraFiles always lands the first extra file at fd 3 (0/1/2 are
// stdin/stdout/stderr), so the netns argument always names fd 3.
func (r *Runner) MoveToNetNsFd(name string, nsFile *os.File) error {
	return r.runWithFiles([]*os.File{nsFile}, "link", "set", name, "netns", fmt.Sprintf("/proc/self/fd/%d", extraFileFd))
}

// LinkUp brings interface name up: "ip link set <if> up".
func (r *Runner) LinkUp(name string) error {
	return r.run("link", "set", name, "up")
}

// SetMaster enslaves interface name to bridge: "ip link set <if> master
// <bridge>".
func (r *Runner) SetMaster(name, bridge string) error {
	return r.run("link", "set", name, "master", bridge)
}

// AddrAdd assigns addr (CIDR form) to interface name: "ip addr add <addr>
// dev <if>".
func (r *Runner) AddrAdd(addr, name string) error {
	return r.run("addr", "add", addr, "dev", name)
}

// RouteAddDefault adds a default route via nextHop over interface name:
// "ip route add default via <addr> dev <if>".
func (r *Runner) RouteAddDefault(nextHop, name string) error {
	return r.run("route", "add", "default", "via", nextHop, "dev", name)
}
