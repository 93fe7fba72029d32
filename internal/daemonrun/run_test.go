package daemonrun

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestEnsureCurrentLogPointerReplacesLink(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "sessionqa-1.log")
	second := filepath.Join(dir, "sessionqa-2.log")
	for _, path := range []string{first, second} {
		if err := os.WriteFile(path, []byte(filepath.Base(path)), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "sessionqa.log"))
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if string(data) != "sessionqa-2.log" {
		t.Fatalf("pointer resolves to %q", data)
	}
}

func TestEnsureCurrentLogPointerIgnoresEmpty(t *testing.T) {
	if err := ensureCurrentLogPointer("", ""); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessionqa.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != os.Getpid() {
		t.Fatalf("pid file = %q", data)
	}
}

func TestEnsureCurrentLogPointerUsesRelativeTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sessionqa-3.log")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ensureCurrentLogPointer(dir, target); err != nil {
		t.Fatalf("pointer: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sessionqa.log.next")); !os.IsNotExist(err) {
		t.Fatalf("staged pointer left behind: %v", err)
	}
	if link, err := os.Readlink(filepath.Join(dir, "sessionqa.log")); err == nil && link != "sessionqa-3.log" {
		t.Fatalf("symlink target = %q, want relative name", link)
	}
}
