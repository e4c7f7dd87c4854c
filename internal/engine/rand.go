package engine

import (
	"math/rand/v2"
	"sync"
)

// Rand is the randomness used by tension noise and conclusion draws.
type Rand interface {
	Float64() float64
	NormFloat64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64     { return rand.Float64() }
func (globalRand) NormFloat64() float64 { return rand.NormFloat64() }

// DefaultRand draws from the process-wide generator.
func DefaultRand() Rand { return globalRand{} }

// lockedRand serialises access to a seeded generator.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) NormFloat64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.NormFloat64()
}

// NewSeededRand returns a deterministic source, safe for concurrent use.
func NewSeededRand(seed uint64) Rand {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}
