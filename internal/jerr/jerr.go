// Package jerr defines the error taxonomy tinyjail's components report
// through: a short machine-checkable Kind (matching the prefixes listed in
// spec §7) paired with a human-readable message. The original C source
// kept only the message, truncated into a fixed 240-byte buffer; Go lets
// us keep that contract (see Truncate) while also giving tests and the
// CLI a typed discriminant instead of string-prefix matching.
package jerr

import "fmt"

// Kind identifies which step of the launch failed.
type Kind string

// Param errors: validation failures, checked in the order spec §6.1 lists.
const (
	InvalidId          Kind = "InvalidId"
	MissingCommand     Kind = "MissingCommand"
	MissingRoot        Kind = "MissingRoot"
	MissingEnv         Kind = "MissingEnv"
	ConflictingNetwork Kind = "ConflictingNetwork"
	RootIsSlash        Kind = "RootIsSlash"
	BadCgroupOption    Kind = "BadCgroupOption"
)

// Resource errors.
const (
	PipeCreate    Kind = "PipeCreate"
	Clone         Kind = "Clone"
	Fork          Kind = "Fork"
	SubreaperSet  Kind = "SubreaperSet"
)

// Cgroup errors.
const (
	CgroupMount       Kind = "CgroupMount"
	CgroupOpen        Kind = "CgroupOpen"
	CgroupDelegate    Kind = "CgroupDelegate"
	CgroupOptionWrite Kind = "CgroupOptionWrite"
	CgroupMoveProc    Kind = "CgroupMoveProc"
	CgroupUmount      Kind = "CgroupUmount"
)

// Userns errors.
const (
	ProcOpen   Kind = "ProcOpen"
	UidMap     Kind = "UidMap"
	SetGroups  Kind = "SetGroups"
	GidMap     Kind = "GidMap"
)

// Network errors.
const (
	NetNsOpen    Kind = "NetNsOpen"
	PidfdOpen    Kind = "PidfdOpen"
	SetNsChild   Kind = "SetNsChild"
	SetNsSelf    Kind = "SetNsSelf"
	VethCreate   Kind = "VethCreate"
	VethMove     Kind = "VethMove"
	IfUp         Kind = "IfUp"
	AddrAdd      Kind = "AddrAdd"
	RouteAdd     Kind = "RouteAdd"
	BridgeAttach Kind = "BridgeAttach"
)

// Init (in-child) errors.
const (
	SyncRead       Kind = "SyncRead"
	UnshareCgroup  Kind = "UnshareCgroup"
	SetIds         Kind = "SetIds"
	BindMount      Kind = "BindMount"
	Chdir          Kind = "Chdir"
	PivotRoot      Kind = "PivotRoot"
	UmountOld      Kind = "UmountOld"
	WorkdirChdir   Kind = "WorkdirChdir"
	SetHostname    Kind = "SetHostname"
	CloExec        Kind = "CloExec"
	Execve         Kind = "Execve"
)

// Lifecycle errors.
const (
	SyncWrite       Kind = "SyncWrite"
	ResultPipeShort Kind = "ResultPipeShort"
	LauncherWait    Kind = "LauncherWait"
	WaitPid         Kind = "WaitPid"
)

// Error is the first-failure-wins error record passed up through every
// component. Each step returns its first failure and its caller stops
// there, so a later error on the same call path never replaces it; see
// launcher.Run.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// New builds an *Error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error that prefixes an underlying error with a
// step description, mirroring the C source's "<step>: %s", strerror(errno)
// convention seen throughout tinyjail.c/cgroup.c/network.c.
func Wrap(kind Kind, step string, err error) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf("%s: %v", step, err)}
}

// ErrorInfoCap is the capacity of the fixed errorInfo buffer carried in
// ContainerResult (spec §3): 240 bytes, truncated to 239 bytes of message
// plus a NUL terminator (spec §9, "Open questions").
const ErrorInfoCap = 240

// Truncate renders msg to fit in ErrorInfoCap bytes including a NUL
// terminator: at most ErrorInfoCap-1 bytes of message.
func Truncate(msg string) string {
	const max = ErrorInfoCap - 1
	if len(msg) <= max {
		return msg
	}
	return msg[:max]
}
