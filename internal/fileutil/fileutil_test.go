package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp4")
	dst := filepath.Join(dir, "nested", "dst.mp4")

	content := []byte("session media bytes")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFileVerified(src, dst); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
}

func TestCopyFileVerifiedMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := CopyFileVerified(filepath.Join(dir, "missing"), filepath.Join(dir, "dst")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestFinalizeRenamesPartFile(t *testing.T) {
	dir := t.TempDir()
	part := filepath.Join(dir, "media.mp4.part")
	final := filepath.Join(dir, "media.mp4")
	if err := os.WriteFile(part, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Finalize(part, final); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if _, err := os.Stat(part); !os.IsNotExist(err) {
		t.Fatalf("expected part file gone, err=%v", err)
	}
	if _, err := os.Stat(final); err != nil {
		t.Fatalf("expected final file: %v", err)
	}
}

func TestRemoveUnder(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "sess", "media.mp4")
	if err := os.MkdirAll(filepath.Dir(inside), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(inside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := RemoveUnder(root, inside); err != nil {
		t.Fatalf("RemoveUnder inside root: %v", err)
	}
	if _, err := os.Stat(inside); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, err=%v", err)
	}
	if err := RemoveUnder(root, inside); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}

	outside := filepath.Join(t.TempDir(), "keep.mp4")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := RemoveUnder(root, outside); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot, got %v", err)
	}
	if err := RemoveUnder(root, root); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected root itself rejected, got %v", err)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("expected outside file kept: %v", err)
	}
}

func TestExtensionForContentType(t *testing.T) {
	tests := map[string]string{
		"video/mp4":                 ".mp4",
		"video/webm; codecs=vp9":    ".mp4",
		"audio/mpeg":                ".mp3",
		"application/pdf":           ".pdf",
		"text/vtt":                  ".vtt",
		"text/plain; charset=utf-8": ".txt",
		"application/octet-stream":  ".bin",
		"":                          ".bin",
	}
	for ct, want := range tests {
		if got := ExtensionForContentType(ct); got != want {
			t.Errorf("ExtensionForContentType(%q) = %q, want %q", ct, got, want)
		}
	}
}
