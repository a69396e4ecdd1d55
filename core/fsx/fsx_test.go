package fsx

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "summary.json")

	if err := WriteFileAtomic(target, []byte("first\n"), 0o600); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(target, []byte("second\n"), 0o600); err != nil {
		t.Fatalf("second write: %v", err)
	}
	raw, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(raw) != "second\n" {
		t.Fatalf("unexpected content: %q", raw)
	}
	entries, err := os.ReadDir(filepath.Dir(target))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be gone, found %d entries", len(entries))
	}
}

func TestWriteFileAtomicMode(t *testing.T) {
	dir := t.TempDir()
	for name, mode := range map[string]os.FileMode{"retain.key": 0o600, "retain.pub": 0o644} {
		target := filepath.Join(dir, name)
		if err := WriteFileAtomic(target, []byte("key\n"), mode); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		info, err := os.Stat(target)
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if info.Mode().Perm() != mode {
			t.Fatalf("%s: expected mode %#o got %#o", name, mode, info.Mode().Perm())
		}
	}
}

func TestCleanTarget(t *testing.T) {
	for _, path := range []string{"out/summary.json", "/tmp/runner/github_output"} {
		if _, err := cleanTarget(path); err != nil {
			t.Fatalf("%s: unexpected error %v", path, err)
		}
	}
	for _, path := range []string{"", filepath.Join("..", "escape.json")} {
		if _, err := cleanTarget(path); err == nil {
			t.Fatalf("%q: expected rejection", path)
		}
	}
}
