package download

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sessionqa/internal/fileutil"
	"sessionqa/internal/services"
)

var mediaExtensions = map[string]struct{}{
	".mp4": {}, ".mkv": {}, ".mov": {}, ".webm": {}, ".avi": {}, ".m4v": {},
	".mp3": {}, ".m4a": {}, ".wav": {},
}

// LocalSource accepts filesystem paths and file:// URLs. The file is used in
// place unless copyLocal is set, in which case it is copied into the session
// directory with checksum verification.
type LocalSource struct {
	copyLocal bool
}

// NewLocalSource builds a local-file source.
func NewLocalSource(copyLocal bool) *LocalSource {
	return &LocalSource{copyLocal: copyLocal}
}

// Name implements Source.
func (l *LocalSource) Name() string { return "local" }

// Match implements Source. Anything without a network scheme is local.
func (l *LocalSource) Match(reference string) bool {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return false
	}
	if strings.HasPrefix(reference, "file://") {
		return true
	}
	u, err := url.Parse(reference)
	if err != nil {
		return true
	}
	return u.Scheme == "" || len(u.Scheme) == 1
}

// Fetch implements Source.
func (l *LocalSource) Fetch(_ context.Context, req Request) (Result, error) {
	path := localPath(req.Reference)
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, services.Wrap(services.ErrNoMedia, "download", "local", "local file not found: "+path, err)
	}
	if info.IsDir() {
		found := firstMediaFile(path)
		if found == "" {
			return Result{}, services.Wrap(services.ErrNoMedia, "download", "local", "directory holds no media files: "+path, nil)
		}
		path = found
		if info, err = os.Stat(path); err != nil {
			return Result{}, services.Wrap(services.ErrNoMedia, "download", "local", "stat media", err)
		}
	}

	if l.copyLocal {
		if err := req.checkpoint(); err != nil {
			return Result{}, err
		}
		dest := filepath.Join(req.DestDir, string(req.Kind)+strings.ToLower(filepath.Ext(path)))
		if err := fileutil.CopyFileVerified(path, dest); err != nil {
			return Result{}, services.Wrap(services.ErrNetwork, "download", "local", "copy into session directory", err)
		}
		path = dest
	}

	_ = req.progress(info.Size(), info.Size())
	result := Result{Bytes: info.Size()}
	if req.Kind == KindTranscript {
		result.TranscriptPath = path
	} else {
		result.MediaPath = path
	}
	return result, nil
}

func localPath(reference string) string {
	reference = strings.TrimSpace(reference)
	if strings.HasPrefix(reference, "file://") {
		if u, err := url.Parse(reference); err == nil {
			return filepath.Clean(u.Path)
		}
		return filepath.Clean(strings.TrimPrefix(reference, "file://"))
	}
	return filepath.Clean(reference)
}

func firstMediaFile(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			if _, ok := mediaExtensions[strings.ToLower(filepath.Ext(entry.Name()))]; ok {
				names = append(names, entry.Name())
			}
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0])
}
