package userns

import (
	"os"
	"testing"
)

func TestConfigureRejectsMissingProc(t *testing.T) {
	// Pid 0 never has a /proc/0 entry, so this must fail with ProcOpen
	// rather than hang or panic trying to open a nonexistent directory.
	failure := Configure(0, 1000, 1000)
	if failure == nil {
		t.Fatal("expected failure for nonexistent /proc/0")
	}
	if failure.Kind != "ProcOpen" {
		t.Fatalf("Kind = %v, want ProcOpen", failure.Kind)
	}
}

func TestConfigureOnSelf(t *testing.T) {
	// /proc/self resolves but, running unprivileged and outside a fresh
	// user namespace, writing uid_map on our own live process is expected
	// to fail too (no pending CLONE_NEWUSER to configure) — this pins
	// down that the failure is reported with the UidMap kind rather than
	// succeeding silently or panicking, without requiring the test binary
	// to run inside a container launch.
	failure := Configure(os.Getpid(), os.Getuid(), os.Getgid())
	if failure == nil {
		t.Skip("uid_map write unexpectedly succeeded; environment allows it")
	}
	if failure.Kind != "UidMap" {
		t.Fatalf("Kind = %v, want UidMap", failure.Kind)
	}
}
