// Package draw supplies the random outcomes used when wagers settle.
// Fairness (uniform probability per candidate) is the property that
// matters here, not unpredictability strength.
package draw

import (
	"errors"
	"fmt"
	mathrand "math/rand/v2"
	"sync"
)

// ErrEmptyCandidates is returned when a pick is requested over nothing.
var ErrEmptyCandidates = errors.New("empty candidates")

// Source produces uniform integers in [0, n). Implementations must be
// safe for concurrent use.
type Source interface {
	IntN(n int) int
}

// NewSource returns the production source, seeded from the runtime.
func NewSource() Source {
	return systemSource{}
}

// NewSeededSource returns a deterministic source for tests.
func NewSeededSource(seed uint64) Source {
	return &seededSource{generator: mathrand.New(mathrand.NewPCG(seed, seed<<1|1))}
}

type systemSource struct{}

func (systemSource) IntN(n int) int {
	return mathrand.IntN(n)
}

type seededSource struct {
	mutex     sync.Mutex
	generator *mathrand.Rand
}

func (source *seededSource) IntN(n int) int {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	return source.generator.IntN(n)
}

// PickOne selects one candidate with uniform probability.
func PickOne[T any](source Source, candidates []T) (T, error) {
	var zero T
	if len(candidates) == 0 {
		return zero, ErrEmptyCandidates
	}
	return candidates[source.IntN(len(candidates))], nil
}

// Flip returns true or false with equal probability.
func Flip(source Source) bool {
	return source.IntN(2) == 0
}

// Between returns a uniform value in [low, high], inclusive on both ends.
func Between(source Source, low int64, high int64) (int64, error) {
	if high < low {
		return 0, fmt.Errorf("invalid range [%d, %d]", low, high)
	}
	return low + int64(source.IntN(int(high-low+1))), nil
}
