// Package network wires up a container's networking: a veth pair with one
// end left in the container's net namespace and the other moved back to
// the launcher's, addressed and attached per the caller's parameters. It
// is grounded on spec §4.4, which redesigns the original network.c's
// ioctl/rtnetlink-free approach into invoking the "ip" CLI (via
// internal/netops) and on the teacher's veth wiring in
// src/minimega/container.go, which likewise drives veth creation through
// a small command-invocation layer rather than raw netlink sockets.
package network

import (
	"os"
	"syscall"

	"github.com/valentindimov/tinyjail/internal/fdutil"
	"github.com/valentindimov/tinyjail/internal/jaillog"
	"github.com/valentindimov/tinyjail/internal/jerr"
	"github.com/valentindimov/tinyjail/internal/netops"
	"github.com/valentindimov/tinyjail/internal/sysx"
)

// maxContainerIdForVeth caps the containerId portion of a veth name so
// that "i_"/"o_" plus the id never exceeds the kernel's 15-byte IFNAMSIZ-1
// limit, per spec §4.4 "Veth names".
const maxContainerIdForVeth = 12

// VethNames returns the inside/outside veth interface names for
// containerId, truncating it to maxContainerIdForVeth bytes first.
func VethNames(containerId string) (ifIn, ifOut string) {
	id := containerId
	if len(id) > maxContainerIdForVeth {
		id = id[:maxContainerIdForVeth]
	}
	return "i_" + id, "o_" + id
}

// Params carries the subset of container launch parameters that drive
// networking (spec §3/§4.4).
type Params struct {
	ContainerId         string
	ChildPid            int
	NetworkBridgeName   string
	NetworkIpAddr       string
	NetworkPeerIpAddr   string
	NetworkDefaultRoute string
}

// Setup performs the full veth wiring sequence described in spec §4.4. It
// must be called from the launcher process, which stays in its own
// (private, non-child) net namespace throughout except for the brief
// setns excursion into the child's netns to create and configure the
// inside end of the veth pair.
func Setup(p Params, log *jaillog.Logger) *jerr.Error {
	ifIn, ifOut := VethNames(p.ContainerId)
	ops := netops.New(log)

	myNetNsRawFd, err := syscall.Open("/proc/self/ns/net", syscall.O_RDONLY, 0)
	if err != nil {
		return jerr.Wrap(jerr.NetNsOpen, "open /proc/self/ns/net", err)
	}
	myNetNsHandle := fdutil.Own(myNetNsRawFd)
	defer myNetNsHandle.Close()
	myNetNsFd := myNetNsHandle.Int()
	// Not Release()'d: myNetNsHandle remains the owner and closes this fd
	// on return, but MoveToNetNsFd (via exec.Cmd.ExtraFiles) needs an
	// *os.File to hand the "ip" child a working copy of it.
	myNetNs := myNetNsHandle.File("my-netns")

	childPidFdRaw, err := sysx.PidfdOpen(p.ChildPid)
	if err != nil {
		return jerr.Wrap(jerr.PidfdOpen, "pidfd_open child", err)
	}
	childPidFdHandle := fdutil.Own(childPidFdRaw)
	defer childPidFdHandle.Close()
	childPidFd := childPidFdHandle.Int()

	if err := sysx.Setns(childPidFd, syscall.CLONE_NEWNET); err != nil {
		return jerr.Wrap(jerr.SetNsChild, "setns into child netns", err)
	}

	// From here on, any failure must restore the launcher's own netns
	// before returning, per spec §4.4 "Failure recovery".
	if failure := setupInsideChildNetns(ops, ifIn, ifOut, myNetNs, p); failure != nil {
		restoreErr := sysx.Setns(myNetNsFd, syscall.CLONE_NEWNET)
		if restoreErr != nil {
			log.Error("failed to restore launcher netns after error: %v", restoreErr)
		}
		return failure
	}

	if err := sysx.Setns(myNetNsFd, syscall.CLONE_NEWNET); err != nil {
		return jerr.Wrap(jerr.SetNsSelf, "setns back to launcher netns", err)
	}

	if failure := setupInLauncherNetns(ops, ifOut, p); failure != nil {
		return failure
	}

	return nil
}

func setupInsideChildNetns(ops *netops.Runner, ifIn, ifOut string, myNetNs *os.File, p Params) *jerr.Error {
	if err := ops.AddVeth(ifIn, ifOut); err != nil {
		return jerr.Wrap(jerr.VethCreate, "create veth pair", err)
	}
	if err := ops.MoveToNetNsFd(ifOut, myNetNs); err != nil {
		return jerr.Wrap(jerr.VethMove, "move "+ifOut+" to launcher netns", err)
	}
	if err := ops.LinkUp(ifIn); err != nil {
		return jerr.Wrap(jerr.IfUp, "bring up "+ifIn, err)
	}
	if p.NetworkIpAddr != "" {
		if err := ops.AddrAdd(p.NetworkIpAddr, ifIn); err != nil {
			return jerr.Wrap(jerr.AddrAdd, "assign address to "+ifIn, err)
		}
	}
	if p.NetworkDefaultRoute != "" {
		if err := ops.RouteAddDefault(p.NetworkDefaultRoute, ifIn); err != nil {
			return jerr.Wrap(jerr.RouteAdd, "add default route via "+ifIn, err)
		}
	}
	return nil
}

func setupInLauncherNetns(ops *netops.Runner, ifOut string, p Params) *jerr.Error {
	if p.NetworkPeerIpAddr != "" {
		if err := ops.AddrAdd(p.NetworkPeerIpAddr, ifOut); err != nil {
			return jerr.Wrap(jerr.AddrAdd, "assign peer address to "+ifOut, err)
		}
	}
	if p.NetworkBridgeName != "" {
		if err := ops.SetMaster(ifOut, p.NetworkBridgeName); err != nil {
			return jerr.Wrap(jerr.BridgeAttach, "attach "+ifOut+" to bridge "+p.NetworkBridgeName, err)
		}
	}
	if err := ops.LinkUp(ifOut); err != nil {
		return jerr.Wrap(jerr.IfUp, "bring up "+ifOut, err)
	}
	return nil
}
