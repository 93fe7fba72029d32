package logging

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// PruneLogs deletes regular files in dir matching pattern whose modification
// time is older than maxAge. Paths listed in keep survive regardless of age.
// It returns the removed paths and the joined removal errors; a missing dir is
// not an error.
func PruneLogs(dir, pattern string, maxAge time.Duration, keep ...string) ([]string, error) {
	if dir == "" || maxAge <= 0 {
		return nil, nil
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	kept := make([]string, 0, len(keep))
	for _, path := range keep {
		if abs, err := filepath.Abs(path); err == nil {
			kept = append(kept, abs)
		}
	}
	cutoff := time.Now().Add(-maxAge)

	var removed []string
	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if ok, _ := filepath.Match(pattern, entry.Name()); pattern != "" && !ok {
			continue
		}
		path, err := filepath.Abs(filepath.Join(dir, entry.Name()))
		if err != nil || slices.Contains(kept, path) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}
