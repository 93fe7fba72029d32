package logging

// ProgressSampler thins per-chunk transfer callbacks down to a handful of log
// lines. With a known total it emits once per percent step; without one it
// emits once per byte step. The first observation always emits.
type ProgressSampler struct {
	percentStep int64
	byteStep    int64
	lastBucket  int64
}

// NewProgressSampler returns a sampler emitting every percentStep percent
// (default 10) or every byteStep bytes when the size is unknown (default 16 MiB).
func NewProgressSampler(percentStep int, byteStep int64) *ProgressSampler {
	if percentStep <= 0 {
		percentStep = 10
	}
	if byteStep <= 0 {
		byteStep = 16 << 20
	}
	return &ProgressSampler{percentStep: int64(percentStep), byteStep: byteStep, lastBucket: -1}
}

// Observe reports whether done of total bytes crossed into a new bucket.
// A nil sampler emits everything.
func (s *ProgressSampler) Observe(done, total int64) bool {
	if s == nil {
		return true
	}
	var bucket int64
	if total > 0 {
		percent := min(max(done, 0)*100/total, 100)
		bucket = percent / s.percentStep
	} else {
		bucket = max(done, 0) / s.byteStep
	}
	if bucket <= s.lastBucket {
		return false
	}
	s.lastBucket = bucket
	return true
}

// Reset forgets prior observations so the next one emits.
func (s *ProgressSampler) Reset() {
	if s != nil {
		s.lastBucket = -1
	}
}
