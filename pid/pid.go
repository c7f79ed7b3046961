// Package pid implements the single-input single-output PID controller
// shared by the speed loop and the fuel efficiency loop.
package pid

import (
	"github.com/pkg/errors"
	"math"
)

const (
	DefaultMinOutput = 0
	DefaultMaxOutput = 100
)

var (
	ErrInvalidTimestep = errors.New("pid: timestep must be positive and finite")
	ErrValidation      = errors.New("pid: invalid parameter")
)

type Gains struct {
	Kp float64 `toml:"kp" json:"Kp"`
	Ki float64 `toml:"ki" json:"Ki"`
	Kd float64 `toml:"kd" json:"Kd"`
}

func (g Gains) Validate() error {
	for name, v := range map[string]float64{"Kp": g.Kp, "Ki": g.Ki, "Kd": g.Kd} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrapf(ErrValidation, "gain %s is not finite: %v", name, v)
		}
	}
	return nil
}

type Option func(*Controller) error

// WithLimits sets the output clamp bounds.
func WithLimits(min, max float64) Option {
	return func(c *Controller) error {
		if math.IsNaN(min) || math.IsNaN(max) || min > max {
			return errors.Wrapf(ErrValidation, "output limits [%v, %v]", min, max)
		}
		c.min, c.max = min, max
		return nil
	}
}

// Controller holds gains, the integral accumulator and the previous
// error. It is not safe for concurrent use; each loop owns its own.
type Controller struct {
	gains Gains
	min   float64
	max   float64

	integral      float64
	previousError float64
}

func New(gains Gains, opts ...Option) (*Controller, error) {
	if err := gains.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		gains: gains,
		min:   DefaultMinOutput,
		max:   DefaultMaxOutput,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Update advances the controller by dt and returns the clamped output.
func (c *Controller) Update(setpoint, measured, dt float64) (float64, error) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return 0, errors.Wrapf(ErrInvalidTimestep, "dt=%v", dt)
	}
	if !isFinite(setpoint) || !isFinite(measured) {
		return 0, errors.Wrapf(ErrValidation, "setpoint=%v measured=%v", setpoint, measured)
	}
	e := setpoint - measured
	c.integral += e * dt
	derivative := (e - c.previousError) / dt
	output := c.gains.Kp*e + c.gains.Ki*c.integral + c.gains.Kd*derivative
	c.previousError = e
	return clamp(output, c.min, c.max), nil
}

// Reset zeroes the integral and the previous error.
func (c *Controller) Reset() {
	c.integral = 0
	c.previousError = 0
}

// SetGains swaps gains without touching the accumulated state. Call
// Reset afterwards for a clean restart.
func (c *Controller) SetGains(gains Gains) error {
	if err := gains.Validate(); err != nil {
		return err
	}
	c.gains = gains
	return nil
}

func (c *Controller) Gains() Gains {
	return c.gains
}

func (c *Controller) Limits() (min, max float64) {
	return c.min, c.max
}

func (c *Controller) Integral() float64 {
	return c.integral
}

func (c *Controller) PreviousError() float64 {
	return c.previousError
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, min, max float64) float64 {
	if math.IsNaN(v) {
		return min
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
