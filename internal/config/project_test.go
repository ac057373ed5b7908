package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectGroupIDGitRoot(t *testing.T) {
	tmp := t.TempDir()
	proj := filepath.Join(tmp, "myproject")
	if err := os.MkdirAll(filepath.Join(proj, ".git"), 0o750); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(proj, "internal", "deep")
	if err := os.MkdirAll(nested, 0o750); err != nil {
		t.Fatal(err)
	}

	if got := DetectGroupID(nested); got != "myproject" {
		t.Errorf("DetectGroupID(%s) = %q, want myproject", nested, got)
	}
	if got := DetectGroupID(proj); got != "myproject" {
		t.Errorf("DetectGroupID(root) = %q, want myproject", got)
	}
}

func TestDetectGroupIDManifestRoot(t *testing.T) {
	tmp := t.TempDir()
	proj := filepath.Join(tmp, "svc")
	if err := os.MkdirAll(proj, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(proj, "go.mod"), []byte("module svc\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if got := DetectGroupID(proj); got != "svc" {
		t.Errorf("DetectGroupID = %q, want svc", got)
	}
}

func TestDetectGroupIDExplicitMarkerWins(t *testing.T) {
	tmp := t.TempDir()
	outer := filepath.Join(tmp, "monorepo")
	inner := filepath.Join(outer, "services", "api")
	if err := os.MkdirAll(filepath.Join(outer, ".git"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(inner, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(inner, ".aimemory-project"), nil, 0o600); err != nil {
		t.Fatal(err)
	}

	if got := DetectGroupID(inner); got != "api" {
		t.Errorf("DetectGroupID = %q, want api (explicit marker)", got)
	}
}

func TestDetectGroupIDUnknown(t *testing.T) {
	// A bare temp dir has no markers anywhere up to the filesystem root in
	// the common case; accept either unknown or a marker found above tmp.
	if got := DetectGroupID(""); got != UnknownGroupID {
		t.Errorf("DetectGroupID(\"\") = %q, want %q", got, UnknownGroupID)
	}
}

func TestDetectGroupIDDeterministic(t *testing.T) {
	tmp := t.TempDir()
	proj := filepath.Join(tmp, "p")
	if err := os.MkdirAll(filepath.Join(proj, ".git"), 0o750); err != nil {
		t.Fatal(err)
	}
	a := DetectGroupID(proj)
	b := DetectGroupID(proj)
	if a != b {
		t.Errorf("not deterministic: %q vs %q", a, b)
	}
}
