package logging

import "testing"

func TestProgressSamplerPercentBuckets(t *testing.T) {
	s := NewProgressSampler(25, 0)
	steps := []struct {
		done int64
		want bool
	}{
		{0, true},
		{10, false},
		{24, false},
		{25, true},
		{49, false},
		{50, true},
		{100, true},
		{120, false},
	}
	for _, step := range steps {
		if got := s.Observe(step.done, 100); got != step.want {
			t.Fatalf("Observe(%d, 100) = %v, want %v", step.done, got, step.want)
		}
	}
}

func TestProgressSamplerUnknownTotalUsesBytes(t *testing.T) {
	s := NewProgressSampler(0, 1000)
	if !s.Observe(1, 0) {
		t.Fatal("expected first observation to emit")
	}
	if s.Observe(999, 0) {
		t.Fatal("expected no emit inside the first byte bucket")
	}
	if !s.Observe(1000, 0) {
		t.Fatal("expected emit when crossing the byte step")
	}
	if !s.Observe(5000, -1) {
		t.Fatal("expected emit after skipping several buckets")
	}
}

func TestProgressSamplerDefaults(t *testing.T) {
	s := NewProgressSampler(0, 0)
	if s.percentStep != 10 || s.byteStep != 16<<20 {
		t.Fatalf("unexpected defaults: percent=%d bytes=%d", s.percentStep, s.byteStep)
	}
}

func TestProgressSamplerNilAndReset(t *testing.T) {
	var nilSampler *ProgressSampler
	if !nilSampler.Observe(1, 2) {
		t.Fatal("nil sampler should always emit")
	}
	nilSampler.Reset()

	s := NewProgressSampler(50, 0)
	s.Observe(60, 100)
	if s.Observe(70, 100) {
		t.Fatal("expected bucket suppression")
	}
	s.Reset()
	if !s.Observe(70, 100) {
		t.Fatal("expected emit after reset")
	}
}
