package launcher

import (
	"reflect"
	"testing"

	"github.com/valentindimov/tinyjail/internal/jerr"
)

func TestBuildArgsRoundTrip(t *testing.T) {
	p := Params{
		ContainerId:         "abc123",
		ContainerDir:        "/tmp/rootfs",
		WorkDir:             "/srv",
		Uid:                 1000,
		Gid:                 1000,
		Hostname:            "tinyjail",
		UseHostNetwork:      false,
		NetworkBridgeName:   "br0",
		NetworkIpAddr:       "10.0.0.2/24",
		NetworkPeerIpAddr:   "",
		NetworkDefaultRoute: "10.0.0.1",
		CgroupOptions:       []string{"memory.max=100000000", "pids.max=50"},
		Environment:         []string{"PATH=/bin"},
		CommandList:         []string{"/bin/sh", "-c", "exit 7"},
	}
	args := BuildArgs("/usr/bin/jail", p)

	if !IsLauncherInvocation(args) {
		t.Fatal("BuildArgs output is not recognized as a launcher invocation")
	}

	got, err := parseLauncherArgs(args)
	if err != nil {
		t.Fatalf("parseLauncherArgs: %v", err)
	}
	if !reflect.DeepEqual(got, p) {
		t.Fatalf("round-trip mismatch:\n got  %+v\n want %+v", got, p)
	}
}

func TestBuildArgsRoundTripUnsetIDs(t *testing.T) {
	p := Params{
		ContainerDir: "/tmp/rootfs",
		Uid:          UnsetID,
		Gid:          UnsetID,
		Environment:  []string{},
		CommandList:  []string{"/bin/true"},
	}
	args := BuildArgs("/usr/bin/jail", p)
	got, err := parseLauncherArgs(args)
	if err != nil {
		t.Fatalf("parseLauncherArgs: %v", err)
	}
	if got.Uid != UnsetID || got.Gid != UnsetID {
		t.Fatalf("Uid/Gid = %d/%d, want UnsetID", got.Uid, got.Gid)
	}
}

func TestValidateOrderInvalidId(t *testing.T) {
	p := Params{ContainerId: "thisIsWayTooLongForAContainerId"}
	_, failure := validate(p)
	requireKind(t, failure, jerr.InvalidId)
}

func TestValidateOrderMissingCommand(t *testing.T) {
	p := Params{}
	_, failure := validate(p)
	requireKind(t, failure, jerr.MissingCommand)
}

func TestValidateOrderMissingRoot(t *testing.T) {
	p := Params{CommandList: []string{"/bin/true"}}
	_, failure := validate(p)
	requireKind(t, failure, jerr.MissingRoot)
}

func TestValidateOrderMissingEnv(t *testing.T) {
	dir := t.TempDir()
	p := Params{CommandList: []string{"/bin/true"}, ContainerDir: dir}
	_, failure := validate(p)
	requireKind(t, failure, jerr.MissingEnv)
}

func TestValidateOrderConflictingNetwork(t *testing.T) {
	dir := t.TempDir()
	p := Params{
		CommandList:       []string{"/bin/true"},
		ContainerDir:      dir,
		Environment:       []string{},
		NetworkBridgeName: "br0",
		NetworkPeerIpAddr: "10.0.0.1/24",
	}
	_, failure := validate(p)
	requireKind(t, failure, jerr.ConflictingNetwork)
}

func TestValidateOrderRootIsSlash(t *testing.T) {
	p := Params{
		CommandList:  []string{"/bin/true"},
		ContainerDir: "/",
		Environment:  []string{},
	}
	_, failure := validate(p)
	requireKind(t, failure, jerr.RootIsSlash)
}

func TestValidateAcceptsWellFormedParams(t *testing.T) {
	dir := t.TempDir()
	p := Params{
		CommandList:  []string{"/bin/true"},
		ContainerDir: dir,
		Environment:  []string{},
	}
	canonical, failure := validate(p)
	if failure != nil {
		t.Fatalf("unexpected failure: %v", failure)
	}
	if canonical == "" {
		t.Fatal("expected a non-empty canonical path")
	}
}

func requireKind(t *testing.T, failure *jerr.Error, want jerr.Kind) {
	t.Helper()
	if failure == nil {
		t.Fatalf("expected failure with kind %v, got none", want)
	}
	if failure.Kind != want {
		t.Fatalf("Kind = %v, want %v", failure.Kind, want)
	}
}
