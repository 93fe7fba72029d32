package scheduler

import "sync/atomic"

// Generation is a monotonically increasing cancellation counter.
type Generation struct {
	value atomic.Uint64
}

// Token captures the generation at the time a task was started.
type Token struct {
	gen   *Generation
	value uint64
}

// Current returns a token for the present generation.
func (g *Generation) Current() Token {
	return Token{gen: g, value: g.value.Load()}
}

// Advance invalidates every outstanding token and returns the new value.
func (g *Generation) Advance() uint64 {
	return g.value.Add(1)
}

// Value reports the present generation.
func (g *Generation) Value() uint64 {
	return g.value.Load()
}

// Valid reports whether the generation has not advanced since the token was taken.
// The zero Token is never valid.
func (t Token) Valid() bool {
	return t.gen != nil && t.gen.value.Load() == t.value
}

// Value reports the captured generation.
func (t Token) Value() uint64 { return t.value }
