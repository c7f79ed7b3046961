// Package noise provides the injectable random sources used for sensor
// noise, consumption jitter and synthetic OBD sampling.
package noise

import (
	"github.com/pkg/errors"
	"math"
	"math/rand"
	"sync"
)

var (
	ErrExhausted     = errors.New("noise: source exhausted")
	ErrMisconfigured = errors.New("noise: source misconfigured")
)

type Source interface {
	// Normal returns a sample from N(mean, stddev^2).
	Normal(mean, stddev float64) (float64, error)
	// Uniform returns a sample from [lo, hi).
	Uniform(lo, hi float64) (float64, error)
	// IntRange returns an integer in [lo, hi], both ends inclusive.
	IntRange(lo, hi int) (int, error)
}

func checkNormal(mean, stddev float64) error {
	if stddev < 0 || math.IsNaN(stddev) || math.IsInf(stddev, 0) || math.IsNaN(mean) || math.IsInf(mean, 0) {
		return errors.Wrapf(ErrMisconfigured, "normal(mean=%v, stddev=%v)", mean, stddev)
	}
	return nil
}

func checkUniform(lo, hi float64) error {
	if lo > hi || math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return errors.Wrapf(ErrMisconfigured, "uniform(%v, %v)", lo, hi)
	}
	return nil
}

// Seeded is a math/rand backed source. Two sources built from the same
// seed produce the same sequence.
type Seeded struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSeeded(seed int64) *Seeded {
	return &Seeded{
		rnd: rand.New(rand.NewSource(seed)),
	}
}

func (s *Seeded) Normal(mean, stddev float64) (float64, error) {
	if err := checkNormal(mean, stddev); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return mean + s.rnd.NormFloat64()*stddev, nil
}

func (s *Seeded) Uniform(lo, hi float64) (float64, error) {
	if err := checkUniform(lo, hi); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rnd.Float64()*(hi-lo), nil
}

func (s *Seeded) IntRange(lo, hi int) (int, error) {
	if lo > hi {
		return 0, errors.Wrapf(ErrMisconfigured, "intrange(%d, %d)", lo, hi)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rnd.Intn(hi-lo+1), nil
}

// Sequence replays a fixed list of unit values. Normal draws are
// mean+v*stddev, Uniform draws map v in [0,1) onto [lo,hi) and IntRange
// draws map v onto [lo,hi]. Once drained every call fails with
// ErrExhausted.
type Sequence struct {
	mu     sync.Mutex
	values []float64
	pos    int
}

func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) next() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.values) {
		return 0, ErrExhausted
	}
	v := s.values[s.pos]
	s.pos++
	return v, nil
}

// Remaining reports how many values have not been drawn yet.
func (s *Sequence) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values) - s.pos
}

func (s *Sequence) Normal(mean, stddev float64) (float64, error) {
	if err := checkNormal(mean, stddev); err != nil {
		return 0, err
	}
	v, err := s.next()
	if err != nil {
		return 0, err
	}
	return mean + v*stddev, nil
}

func (s *Sequence) Uniform(lo, hi float64) (float64, error) {
	if err := checkUniform(lo, hi); err != nil {
		return 0, err
	}
	v, err := s.next()
	if err != nil {
		return 0, err
	}
	return lo + v*(hi-lo), nil
}

func (s *Sequence) IntRange(lo, hi int) (int, error) {
	if lo > hi {
		return 0, errors.Wrapf(ErrMisconfigured, "intrange(%d, %d)", lo, hi)
	}
	v, err := s.next()
	if err != nil {
		return 0, err
	}
	n := lo + int(math.Floor(v*float64(hi-lo+1)))
	if n > hi {
		n = hi
	}
	if n < lo {
		n = lo
	}
	return n, nil
}

type zero struct{}

// Zero is a noiseless source: Normal returns the mean, Uniform the
// midpoint of the range and IntRange the lower bound rounded midpoint.
var Zero Source = zero{}

func (zero) Normal(mean, stddev float64) (float64, error) {
	if err := checkNormal(mean, stddev); err != nil {
		return 0, err
	}
	return mean, nil
}

func (zero) Uniform(lo, hi float64) (float64, error) {
	if err := checkUniform(lo, hi); err != nil {
		return 0, err
	}
	return (lo + hi) / 2, nil
}

func (zero) IntRange(lo, hi int) (int, error) {
	if lo > hi {
		return 0, errors.Wrapf(ErrMisconfigured, "intrange(%d, %d)", lo, hi)
	}
	return lo + (hi-lo)/2, nil
}
