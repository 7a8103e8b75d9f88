// Command jail is the CLI front end for tinyjail (spec §6.2), grounded on
// main.c's argv walk (a literal "--" boundary before the command) and on
// cmd/minimega/main.go's flag-package style (no cobra/pflag/viper in the
// teacher's own stack, so none here either).
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"syscall"

	"github.com/valentindimov/tinyjail/internal/initproc"
	"github.com/valentindimov/tinyjail/internal/jaillog"
	"github.com/valentindimov/tinyjail/internal/launcher"
	jail "github.com/valentindimov/tinyjail"
)

// repeatedFlag accumulates every occurrence of a repeatable flag like
// --env or --cgroup, the same shape as cmd/minimega's repeated-flag
// flag.Value implementations.
type repeatedFlag struct {
	values *[]string
}

func (r repeatedFlag) String() string { return "" }
func (r repeatedFlag) Set(v string) error {
	*r.values = append(*r.values, v)
	return nil
}

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if launcher.IsLauncherInvocation(args) {
		return jail.RunAsLauncher(jaillog.Default(jaillog.INFO))
	}
	if initproc.IsInitInvocation(args) {
		initproc.Run(args)
		return 1 // Run only returns on failure, after writing to the error pipe.
	}

	// main.c requires host root before attempting any of this; unshare
	// and user-namespace setup can technically work unprivileged on some
	// kernels, but cgroup delegation and veth creation in the host netns
	// cannot, so the same upfront check is kept here.
	if os.Geteuid() != 0 {
		fmt.Fprintln(os.Stderr, "Please run this program as root.")
		return 1
	}

	flagArgs, command, ok := splitCommandTail(args[1:])
	if !ok {
		printUsage()
		return 1
	}

	params, err := parseFlags(flagArgs, command)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		printUsage()
		return 1
	}

	result, err := jail.LaunchContainer(params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error when starting container: %v\n", err)
		return 1
	}

	if result.ContainerStartedStatus != 0 {
		fmt.Fprintf(os.Stderr, "Error when starting container: %s\n", result.ErrorInfo)
		return 1
	}

	ws := syscall.WaitStatus(uint32(result.ContainerExitStatus))
	if ws.Signaled() {
		fmt.Fprintf(os.Stderr, "Container killed by signal %d\n", ws.Signal())
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus()
}

// splitCommandTail finds the literal "--" token the way main.c's
// parseArgs does, returning the flag tokens before it and the command
// after it. ok is false if "--" is absent or nothing follows it.
func splitCommandTail(args []string) (flagArgs, command []string, ok bool) {
	for i, a := range args {
		if a == "--" {
			if i+1 >= len(args) {
				return nil, nil, false
			}
			return args[:i], args[i+1:], true
		}
	}
	return nil, nil, false
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: jail --root <root directory> [--id <id>] [--env KEY=VALUE]* [--workdir <dir>]")
	fmt.Fprintln(os.Stderr, "            [--cgroup <name>=<value>]* [resource limit flags] [networking flags] [--hostname <name>]")
	fmt.Fprintln(os.Stderr, "            -- <command> [args...]")
	fmt.Fprintln(os.Stderr, "Resource limit flags: --cpu-max-percent, --cpu-weight, --memory-high, --memory-max, --pids-max")
	fmt.Fprintln(os.Stderr, "Networking flags: --network-bridge, --ip-address, --peer-ip-address, --default-route")
}

func parseFlags(flagArgs, command []string) (jail.ContainerParams, error) {
	fs := flag.NewFlagSet("jail", flag.ContinueOnError)

	root := fs.String("root", "", "container root directory")
	id := fs.String("id", "", "container id (at most 12 bytes; random if omitted)")
	workdir := fs.String("workdir", "", "directory inside the container to chdir into before exec")
	bridge := fs.String("network-bridge", "", "host bridge the outside veth end is attached to")
	ipAddr := fs.String("ip-address", "", "address assigned to the inside veth end")
	peerIpAddr := fs.String("peer-ip-address", "", "address assigned to the outside veth end")
	defaultRoute := fs.String("default-route", "", "default route next-hop over the inside veth end")
	hostname := fs.String("hostname", "", "container hostname (defaults to \"tinyjail\")")

	cpuMaxPercent := fs.Uint("cpu-max-percent", 0, "cpu.max percentage sugar flag (0-100)")
	cpuWeight := fs.Uint("cpu-weight", 0, "cpu.weight sugar flag (100-10000)")
	memoryHigh := fs.Uint64("memory-high", 0, "memory.high sugar flag, in bytes")
	memoryMax := fs.Uint64("memory-max", 0, "memory.max sugar flag, in bytes")
	pidsMax := fs.Uint64("pids-max", 0, "pids.max sugar flag")

	// Environment must be non-nil even when empty (spec §6.1 MissingEnv),
	// so start it as an empty, non-nil slice rather than the zero value.
	envEntries := []string{}
	fs.Var(repeatedFlag{&envEntries}, "env", "KEY=VALUE environment entry; repeatable")
	var cgroupEntries []string
	fs.Var(repeatedFlag{&cgroupEntries}, "cgroup", "name=value cgroup controller write; repeatable")

	if err := fs.Parse(flagArgs); err != nil {
		return jail.ContainerParams{}, err
	}
	if fs.NArg() > 0 {
		return jail.ContainerParams{}, fmt.Errorf("unrecognized arguments: %v", fs.Args())
	}
	if *root == "" {
		return jail.ContainerParams{}, fmt.Errorf("--root is required")
	}
	if len(command) == 0 {
		return jail.ContainerParams{}, fmt.Errorf("a command is required after --")
	}

	if *cpuMaxPercent > 100 {
		return jail.ContainerParams{}, fmt.Errorf("invalid --cpu-max-percent: %d", *cpuMaxPercent)
	}
	if *cpuWeight != 0 && (*cpuWeight < 100 || *cpuWeight > 10000) {
		return jail.ContainerParams{}, fmt.Errorf("invalid --cpu-weight: %d", *cpuWeight)
	}

	cgroupOptions := sugarCgroupOptions(*cpuMaxPercent, *cpuWeight, memoryHigh, memoryMax, pidsMax)
	cgroupOptions = append(cgroupOptions, cgroupEntries...)

	return jail.ContainerParams{
		ContainerId:         *id,
		ContainerDir:        *root,
		CommandList:         command,
		Environment:         envEntries,
		WorkDir:             *workdir,
		Uid:                 jail.UnsetID,
		Gid:                 jail.UnsetID,
		CgroupOptions:       cgroupOptions,
		NetworkBridgeName:   *bridge,
		NetworkIpAddr:       *ipAddr,
		NetworkPeerIpAddr:   *peerIpAddr,
		NetworkDefaultRoute: *defaultRoute,
		Hostname:            *hostname,
	}, nil
}

// sugarCgroupOptions lowers the friendlier resource-limit flags into the
// same name=value cgroup option entries LaunchContainer consumes (spec
// §6.3), since CgroupOptions is the only wire format the Launcher
// understands; these flags are CLI convenience only.
func sugarCgroupOptions(cpuMaxPercent, cpuWeight uint, memoryHigh, memoryMax, pidsMax *uint64) []string {
	var opts []string
	if cpuMaxPercent > 0 {
		opts = append(opts, fmt.Sprintf("cpu.max=%d000 100000", cpuMaxPercent))
	}
	if cpuWeight > 0 {
		opts = append(opts, "cpu.weight="+strconv.FormatUint(uint64(cpuWeight), 10))
	}
	if *memoryHigh > 0 {
		opts = append(opts, "memory.high="+strconv.FormatUint(*memoryHigh, 10))
	}
	if *memoryMax > 0 {
		opts = append(opts, "memory.max="+strconv.FormatUint(*memoryMax, 10))
	}
	if *pidsMax > 0 {
		opts = append(opts, "pids.max="+strconv.FormatUint(*pidsMax, 10))
	}
	return opts
}
