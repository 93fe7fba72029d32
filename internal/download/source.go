package download

import (
	"context"
	"errors"
)

// Kind names the artifact being fetched. It doubles as the local file stem.
type Kind string

const (
	KindMedia      Kind = "media"
	KindTranscript Kind = "transcript"
)

// errStale aborts a fetch whose generation has advanced.
var errStale = errors.New("download generation advanced")

// Request describes a single fetch.
type Request struct {
	SessionID string
	Reference string
	Kind      Kind
	DestDir   string
	// Progress is called as bytes arrive; total is -1 when unknown. A non-nil
	// return aborts the fetch.
	Progress func(done, total int64) error
	// Checkpoint is called before the fetched file is finalized.
	Checkpoint func() error
}

func (r Request) progress(done, total int64) error {
	if r.Progress == nil {
		return nil
	}
	return r.Progress(done, total)
}

func (r Request) checkpoint() error {
	if r.Checkpoint == nil {
		return nil
	}
	return r.Checkpoint()
}

// Result reports the local artifacts a source produced.
type Result struct {
	MediaPath      string
	TranscriptPath string
	Bytes          int64
}

// Source resolves one family of references.
type Source interface {
	Name() string
	Match(reference string) bool
	Fetch(ctx context.Context, req Request) (Result, error)
}

func selectSource(sources []Source, reference string) Source {
	for _, src := range sources {
		if src != nil && src.Match(reference) {
			return src
		}
	}
	return nil
}
