package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a removal target escapes the allowed root.
var ErrOutsideRoot = errors.New("path outside root")

// CopyFileVerified streams src to dst with SHA256 + size integrity verification.
// Removes dst on mismatch.
func CopyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if written != srcSize {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}

	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}

	return nil
}

// Finalize syncs a partially written file and renames it into place.
func Finalize(partPath, finalPath string) error {
	f, err := os.OpenFile(partPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open partial file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync partial file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close partial file: %w", err)
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		return fmt.Errorf("rename partial file: %w", err)
	}
	return nil
}

// RemoveUnder deletes path only when it resolves inside root. Missing files
// are not an error.
func RemoveUnder(root, path string) error {
	if strings.TrimSpace(root) == "" || strings.TrimSpace(path) == "" {
		return ErrOutsideRoot
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	if err := os.Remove(absPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ExtensionForContentType maps an HTTP content type to the file extension used
// for downloaded session media.
func ExtensionForContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case strings.HasPrefix(mediaType, "video/"):
		return ".mp4"
	case strings.HasPrefix(mediaType, "audio/"):
		return ".mp3"
	case strings.Contains(mediaType, "pdf"):
		return ".pdf"
	case strings.HasPrefix(mediaType, "text/vtt"):
		return ".vtt"
	case strings.HasPrefix(mediaType, "text/plain"):
		return ".txt"
	default:
		return ".bin"
	}
}
