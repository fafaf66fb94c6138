// Package rng provides a seedable, goroutine-safe random source shared by the
// chat components, so tests can inject deterministic draws.
package rng

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Source is the subset of math/rand/v2 used by the chat components.
type Source interface {
	Float64() float64
	IntN(n int) int
}

// Locked wraps a PCG generator behind a mutex.
type Locked struct {
	mu sync.Mutex
	r  *rand.Rand
}

// New returns a generator seeded with seed. A zero seed picks a time-based seed.
func New(seed uint64) *Locked {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Locked{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *Locked) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// IntN returns a value in [0, n). It panics if n <= 0.
func (l *Locked) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// Chance reports true with probability p.
func Chance(src Source, p float64) bool { return src.Float64() < p }

// Pick returns a uniformly random element of items, or the zero value when empty.
func Pick[T any](src Source, items []T) T {
	var zero T
	if len(items) == 0 {
		return zero
	}
	return items[src.IntN(len(items))]
}

// Duration returns a uniformly random duration in [lo, hi].
func Duration(src Source, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(src.Float64()*float64(hi-lo))
}

// Between returns a uniformly random int in [lo, hi].
func Between(src Source, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + src.IntN(hi-lo+1)
}
