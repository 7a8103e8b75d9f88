package launcher

import (
	"path/filepath"
	"strconv"

	"github.com/valentindimov/tinyjail/internal/jerr"
)

// Magic is the argv[1] sentinel the jail package's entry point passes to
// the re-exec'd launcher process, mirroring initproc.Magic one level up
// the process chain.
const Magic = "__tinyjail_launcher__"

// IsLauncherInvocation reports whether args (typically os.Args) is this
// binary being re-exec'd to run as the Launcher.
func IsLauncherInvocation(args []string) bool {
	return len(args) > 1 && args[1] == Magic
}

// BuildArgs encodes p into the argv for a re-exec'd launcher invocation.
// Every scalar field is its own positional argument; CgroupOptions and
// Environment are length-prefixed since they're variable-length, and the
// command list is delimited by a literal "--" the way the CLI itself
// delimits it (spec §6.2), so both ends agree on where it starts without
// needing a count.
func BuildArgs(execPath string, p Params) []string {
	args := []string{
		execPath,
		Magic,
		p.ContainerId,
		p.ContainerDir,
		p.WorkDir,
		strconv.Itoa(p.Uid),
		strconv.Itoa(p.Gid),
		p.Hostname,
		boolString(p.UseHostNetwork),
		p.NetworkBridgeName,
		p.NetworkIpAddr,
		p.NetworkPeerIpAddr,
		p.NetworkDefaultRoute,
		strconv.Itoa(len(p.CgroupOptions)),
	}
	args = append(args, p.CgroupOptions...)
	args = append(args, strconv.Itoa(len(p.Environment)))
	args = append(args, p.Environment...)
	args = append(args, "--")
	args = append(args, p.CommandList...)
	return args
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseLauncherArgs(args []string) (Params, *jerr.Error) {
	const fixedFields = 14 // argv[0], Magic, id, dir, workdir, uid, gid, hostname, useHostNet, bridge, ip, peerIp, route, cgroupCount
	if len(args) < fixedFields {
		return Params{}, jerr.New(jerr.MissingCommand, "launcher invocation has too few arguments")
	}

	uid, err := strconv.Atoi(args[5])
	if err != nil {
		return Params{}, jerr.New(jerr.MissingCommand, "launcher invocation has malformed uid")
	}
	gid, err := strconv.Atoi(args[6])
	if err != nil {
		return Params{}, jerr.New(jerr.MissingCommand, "launcher invocation has malformed gid")
	}

	p := Params{
		ContainerId:         args[2],
		ContainerDir:        args[3],
		WorkDir:             args[4],
		Uid:                 uid,
		Gid:                 gid,
		Hostname:            args[7],
		UseHostNetwork:      args[8] == "1",
		NetworkBridgeName:   args[9],
		NetworkIpAddr:       args[10],
		NetworkPeerIpAddr:   args[11],
		NetworkDefaultRoute: args[12],
	}

	cgroupCount, err := strconv.Atoi(args[13])
	if err != nil || cgroupCount < 0 {
		return Params{}, jerr.New(jerr.MissingCommand, "launcher invocation has malformed cgroup option count")
	}
	rest := args[14:]
	if len(rest) < cgroupCount+1 {
		return Params{}, jerr.New(jerr.MissingCommand, "launcher invocation is missing cgroup options")
	}
	p.CgroupOptions = rest[:cgroupCount]
	rest = rest[cgroupCount:]

	envCount, err := strconv.Atoi(rest[0])
	if err != nil || envCount < 0 {
		return Params{}, jerr.New(jerr.MissingCommand, "launcher invocation has malformed env count")
	}
	rest = rest[1:]
	if len(rest) < envCount+1 {
		return Params{}, jerr.New(jerr.MissingCommand, "launcher invocation is missing environment entries")
	}
	p.Environment = rest[:envCount]
	rest = rest[envCount:]

	if len(rest) == 0 || rest[0] != "--" {
		return Params{}, jerr.New(jerr.MissingCommand, "launcher invocation missing -- separator")
	}
	p.CommandList = rest[1:]

	return p, nil
}

// validate checks ContainerParams in the exact order spec §6.1 lists,
// returning the canonicalized container directory on success.
func validate(p Params) (string, *jerr.Error) {
	if len(p.ContainerId) > 12 {
		return "", jerr.New(jerr.InvalidId, "containerId %q exceeds 12 bytes", p.ContainerId)
	}
	if len(p.CommandList) == 0 {
		return "", jerr.New(jerr.MissingCommand, "commandList is empty")
	}
	if p.ContainerDir == "" {
		return "", jerr.New(jerr.MissingRoot, "containerDir is empty")
	}
	if p.Environment == nil {
		return "", jerr.New(jerr.MissingEnv, "environment is absent")
	}
	if p.NetworkBridgeName != "" && p.NetworkPeerIpAddr != "" {
		return "", jerr.New(jerr.ConflictingNetwork, "networkBridgeName and networkPeerIpAddr are mutually exclusive")
	}

	abs, err := filepath.Abs(p.ContainerDir)
	if err != nil {
		return "", jerr.Wrap(jerr.MissingRoot, "resolve containerDir", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", jerr.Wrap(jerr.MissingRoot, "resolve containerDir", err)
	}
	if real == "/" {
		return "", jerr.New(jerr.RootIsSlash, "Container root dir cannot be /")
	}
	return real, nil
}
