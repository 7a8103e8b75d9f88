package cgroup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/valentindimov/tinyjail/internal/jerr"
)

func TestWriteOptionAtWritesValue(t *testing.T) {
	// Setup never reaches writeOptionAt for a bad name; that rejection is
	// covered by TestSetupRejectsMalformedOption below. This test pins down
	// writeOptionAt's own contract: it opens the named file relative to
	// dirfd and writes the value into it.
	dir := t.TempDir()
	path := filepath.Join(dir, "sink")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	d, err := os.Open(dir)
	if err != nil {
		t.Fatalf("open dir: %v", err)
	}
	defer d.Close()

	if err := writeOptionAt(int(d.Fd()), "sink", "hello"); err != nil {
		t.Fatalf("writeOptionAt: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("wrote %q, want %q", got, "hello")
	}
}

func TestSetupRejectsMalformedOption(t *testing.T) {
	// Setup must reject a malformed cgroupOptions entry before doing any
	// I/O against the (here nonexistent) cgroup2 mount, so this should
	// fail on option validation, not on the mount step, when given a bad
	// option alongside a containerDir that can't actually be mounted.
	//
	// Since mounting cgroup2 requires privilege this process may not have,
	// this test calls parseCgroupOption directly: the exact function
	// Setup's option loop (cgroup.go) calls before ever touching the
	// filesystem, not a reimplementation of its rule, so the test tracks
	// Setup's real rejection logic rather than a parallel copy of it.
	badOptions := []string{
		"=novalue",
		"../escape=1",
		"nested/path=1",
		"novalueatall",
	}
	for _, opt := range badOptions {
		if _, _, ok := parseCgroupOption(opt); ok {
			t.Errorf("option %q should have been rejected", opt)
		}
	}

	if _, _, ok := parseCgroupOption("memory.max=100000000"); !ok {
		t.Error("well-formed option was rejected")
	}
}

func TestCreateSubtreeReportsCgroupMountKind(t *testing.T) {
	// Without privilege to mount cgroup2, CreateSubtree must fail with the
	// CgroupMount kind rather than panicking or hanging.
	dir := t.TempDir()
	failure := CreateSubtree(dir, "deadbeef0000")
	if failure == nil {
		t.Skip("mount succeeded unexpectedly (test running with cgroup2 mount privilege); nothing to assert")
	}
	if failure.Kind != jerr.CgroupMount {
		t.Fatalf("Kind = %v, want %v", failure.Kind, jerr.CgroupMount)
	}
}
