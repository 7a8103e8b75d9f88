package initproc

import (
	"reflect"
	"testing"
)

func TestBuildArgsRoundTrip(t *testing.T) {
	cfg := Config{
		ContainerId:  "abc123",
		Hostname:     "tinyjail",
		ContainerDir: "/tmp/rootfs",
		WorkDir:      "/srv",
		Environment:  []string{"PATH=/bin", "HOME=/root"},
		Command:      []string{"/bin/sh", "-c", "exit 7"},
	}
	args := BuildArgs("/usr/bin/jail", cfg)

	if !IsInitInvocation(args) {
		t.Fatal("BuildArgs output is not recognized as an init invocation")
	}

	got, err := parseArgs(args)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, cfg)
	}
}

func TestBuildArgsEmptyWorkDirRoundTrips(t *testing.T) {
	cfg := Config{
		ContainerId:  "abc123",
		Hostname:     "tinyjail",
		ContainerDir: "/tmp/rootfs",
		WorkDir:      "",
		Environment:  nil,
		Command:      []string{"/bin/true"},
	}
	args := BuildArgs("/usr/bin/jail", cfg)
	got, err := parseArgs(args)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if got.WorkDir != "" {
		t.Errorf("WorkDir = %q, want empty", got.WorkDir)
	}
	if len(got.Environment) != 0 {
		t.Errorf("Environment = %v, want empty", got.Environment)
	}
}

func TestIsInitInvocationFalseForNormalArgs(t *testing.T) {
	if IsInitInvocation([]string{"/usr/bin/jail", "--root", "/tmp"}) {
		t.Fatal("normal CLI args misidentified as init invocation")
	}
	if IsInitInvocation([]string{"/usr/bin/jail"}) {
		t.Fatal("single-element args misidentified as init invocation")
	}
}

func TestParseArgsRejectsMissingCommand(t *testing.T) {
	args := []string{"/usr/bin/jail", Magic, "id", "host", "/tmp", noWorkDir, "0", "--"}
	if _, err := parseArgs(args); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestParseArgsRejectsBadEnvCount(t *testing.T) {
	args := []string{"/usr/bin/jail", Magic, "id", "host", "/tmp", noWorkDir, "not-a-number", "--", "/bin/true"}
	if _, err := parseArgs(args); err == nil {
		t.Fatal("expected error for malformed env count")
	}
}

func TestParseArgsRejectsMissingSeparator(t *testing.T) {
	args := []string{"/usr/bin/jail", Magic, "id", "host", "/tmp", noWorkDir, "1", "FOO=bar", "/bin/true"}
	if _, err := parseArgs(args); err == nil {
		t.Fatal("expected error for missing -- separator")
	}
}
