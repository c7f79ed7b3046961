// Package dynamics integrates vehicle speed from the speed loop's
// throttle command and derives engine RPM, coolant temperature and a
// linear fuel depletion estimate.
package dynamics

import (
	"github.com/jd3nn1s/ecusim/noise"
	"github.com/jd3nn1s/ecusim/pid"
	"github.com/pkg/errors"
	"math"
)

// noiseBound caps the speed perturbation at this many standard deviations.
const noiseBound = 3

type Config struct {
	TargetSpeed     float64 `toml:"target_speed"`
	InitialSpeed    float64 `toml:"initial_speed"`
	DragCoefficient float64 `toml:"drag_coefficient"`
	NoiseStdDev     float64 `toml:"noise_stddev"`

	BaseRPM       float64 `toml:"base_rpm"`
	RPMPerKmh     float64 `toml:"rpm_per_kmh"`
	BaseCoolant   float64 `toml:"base_coolant"`
	CoolantPerKmh float64 `toml:"coolant_per_kmh"`

	// Linear fuel model: capacity - rate*elapsed.
	FuelCapacity  float64 `toml:"fuel_capacity"`
	FuelDepletion float64 `toml:"fuel_depletion"`
}

func DefaultConfig() Config {
	return Config{
		TargetSpeed:     60,
		DragCoefficient: 0.1,
		NoiseStdDev:     0.1,
		BaseRPM:         3000,
		RPMPerKmh:       10,
		BaseCoolant:     90,
		CoolantPerKmh:   0.1,
		FuelCapacity:    100,
		FuelDepletion:   0.1,
	}
}

// DefaultGains are the speed loop gains.
func DefaultGains() pid.Gains {
	return pid.Gains{Kp: 1, Ki: 0.1, Kd: 0.01}
}

// State is the vehicle after one integration step.
type State struct {
	Elapsed         float64
	Speed           float64
	TargetSpeed     float64
	Throttle        float64
	RPM             float64
	CoolantTemp     float64
	LinearFuelLevel float64
	// ControlError is the speed loop error of this step.
	ControlError float64
}

type Model struct {
	cfg   Config
	ctrl  *pid.Controller
	noise noise.Source

	speed    float64
	elapsed  float64
	throttle float64
}

func New(cfg Config, ctrl *pid.Controller, src noise.Source) (*Model, error) {
	if ctrl == nil {
		return nil, errors.New("dynamics: speed controller is required")
	}
	if src == nil {
		return nil, errors.New("dynamics: noise source is required")
	}
	if cfg.InitialSpeed < 0 || math.IsNaN(cfg.InitialSpeed) {
		return nil, errors.Errorf("dynamics: invalid initial speed %v", cfg.InitialSpeed)
	}
	return &Model{
		cfg:   cfg,
		ctrl:  ctrl,
		noise: src,
		speed: cfg.InitialSpeed,
	}, nil
}

// Update integrates one step of length dt. A failed step leaves the
// vehicle state untouched.
func (m *Model) Update(dt float64) (State, error) {
	// checked before the noise draw so a rejected step consumes nothing
	if !(dt > 0) || math.IsInf(dt, 0) {
		return State{}, errors.Wrapf(pid.ErrInvalidTimestep, "dt=%v", dt)
	}
	perturbation, err := m.noise.Normal(0, m.cfg.NoiseStdDev)
	if err != nil {
		return State{}, errors.Wrap(err, "dynamics noise")
	}
	bound := noiseBound * m.cfg.NoiseStdDev
	perturbation = math.Max(-bound, math.Min(bound, perturbation))
	throttle, err := m.ctrl.Update(m.cfg.TargetSpeed, m.speed, dt)
	if err != nil {
		return State{}, errors.Wrap(err, "speed loop")
	}

	speed := m.speed + throttle*dt - m.cfg.DragCoefficient*m.speed*dt + perturbation
	// the vehicle does not reverse
	m.speed = math.Max(0, speed)
	m.throttle = throttle
	m.elapsed += dt
	return m.state(), nil
}

func (m *Model) state() State {
	return State{
		Elapsed:         m.elapsed,
		Speed:           m.speed,
		TargetSpeed:     m.cfg.TargetSpeed,
		Throttle:        m.throttle,
		RPM:             m.cfg.BaseRPM + m.cfg.RPMPerKmh*m.speed,
		CoolantTemp:     m.cfg.BaseCoolant + m.cfg.CoolantPerKmh*m.speed,
		LinearFuelLevel: math.Max(0, m.cfg.FuelCapacity-m.cfg.FuelDepletion*m.elapsed),
		ControlError:    m.ctrl.PreviousError(),
	}
}

// Snapshot returns the current state without advancing it.
func (m *Model) Snapshot() State {
	return m.state()
}

func (m *Model) SetTargetSpeed(v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.Wrapf(pid.ErrValidation, "target speed %v", v)
	}
	m.cfg.TargetSpeed = v
	return nil
}

// SetGains swaps the speed loop gains, optionally clearing its integrator.
func (m *Model) SetGains(g pid.Gains, reset bool) error {
	if err := m.ctrl.SetGains(g); err != nil {
		return err
	}
	if reset {
		m.ctrl.Reset()
	}
	return nil
}

func (m *Model) Controller() *pid.Controller {
	return m.ctrl
}

func (m *Model) FuelCapacity() float64 {
	return m.cfg.FuelCapacity
}
