// Package ecu models the engine control unit: multiplicative fuel
// consumption, the fuel efficiency loop, the fuel tank with its low fuel
// latch, and a free-running OBD-II style sample generator.
package ecu

import (
	"fmt"
	"github.com/jd3nn1s/ecusim/alert"
	"github.com/jd3nn1s/ecusim/noise"
	"github.com/jd3nn1s/ecusim/pid"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"math"
	"time"
)

// efficiencyEpsilon keeps the efficiency finite at zero consumption.
const efficiencyEpsilon = 1e-5

type Range struct {
	Min float64 `toml:"min"`
	Max float64 `toml:"max"`
}

type Config struct {
	FuelCapacity     float64 `toml:"fuel_capacity"`
	TargetEfficiency float64 `toml:"target_efficiency"`
	// Timestep is the dt handed to the efficiency loop.
	Timestep float64 `toml:"timestep"`
	// LowFuelFraction of capacity below which the low fuel alert latches.
	LowFuelFraction float64 `toml:"low_fuel_fraction"`

	SpeedThrottleFactor float64 `toml:"speed_throttle_factor"`
	RPMFactor           float64 `toml:"rpm_factor"`
	// Jitter is the half width of the uniform consumption noise band.
	Jitter float64 `toml:"jitter"`

	OBDSpeed    Range `toml:"obd_speed"`
	OBDRPM      Range `toml:"obd_rpm"`
	OBDThrottle Range `toml:"obd_throttle"`
	OBDCoolant  Range `toml:"obd_coolant"`
}

func DefaultConfig() Config {
	return Config{
		FuelCapacity:        50,
		TargetEfficiency:    15,
		Timestep:            1,
		LowFuelFraction:     0.1,
		SpeedThrottleFactor: 0.01,
		RPMFactor:           0.00005,
		Jitter:              0.05,
		OBDSpeed:            Range{30, 120},
		OBDRPM:              Range{1000, 5000},
		OBDThrottle:         Range{10, 90},
		OBDCoolant:          Range{70, 100},
	}
}

// DefaultGains are the efficiency loop gains.
func DefaultGains() pid.Gains {
	return pid.Gains{Kp: 0.1, Ki: 0.01, Kd: 0.05}
}

type FuelStatus string

const (
	FuelNormal FuelStatus = "NORMAL"
	FuelLow    FuelStatus = "LOW"
)

type FuelState struct {
	Capacity       float64    `json:"capacity"`
	Level          float64    `json:"level"`
	AlertTriggered bool       `json:"alert_triggered"`
	Status         FuelStatus `json:"status"`
}

// Reading is the ECU's view of one tick.
type Reading struct {
	Consumed         float64
	Efficiency       float64
	AdjustedThrottle float64
	FuelLevel        float64
	// ControlError is the efficiency loop error.
	ControlError float64
}

type Option func(*Simulator)

func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		s.now = now
	}
}

type Simulator struct {
	cfg   Config
	ctrl  *pid.Controller
	noise noise.Source
	now   func() time.Time

	level float64
	latch alert.Latch
}

func New(cfg Config, ctrl *pid.Controller, src noise.Source, opts ...Option) (*Simulator, error) {
	if ctrl == nil {
		return nil, errors.New("ecu: efficiency controller is required")
	}
	if src == nil {
		return nil, errors.New("ecu: noise source is required")
	}
	if !(cfg.FuelCapacity > 0) || math.IsInf(cfg.FuelCapacity, 0) {
		return nil, errors.Errorf("ecu: invalid fuel capacity %v", cfg.FuelCapacity)
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		return nil, errors.Errorf("ecu: jitter %v outside [0, 1)", cfg.Jitter)
	}
	s := &Simulator{
		cfg:   cfg,
		ctrl:  ctrl,
		noise: src,
		now:   time.Now,
		level: cfg.FuelCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CalculateFuelConsumption depends only on its inputs and one jitter
// draw from the noise source.
func (s *Simulator) CalculateFuelConsumption(speed, throttle, rpm float64) (float64, error) {
	jitter, err := s.noise.Uniform(1-s.cfg.Jitter, 1+s.cfg.Jitter)
	if err != nil {
		return 0, errors.Wrap(err, "consumption jitter")
	}
	return (speed * throttle * s.cfg.SpeedThrottleFactor) * (rpm * s.cfg.RPMFactor) * jitter, nil
}

func (s *Simulator) FuelEfficiency(speed, consumed float64) float64 {
	return speed / (consumed + efficiencyEpsilon)
}

// AdjustThrottle runs the efficiency loop. Its output is independent of
// the speed loop throttle.
func (s *Simulator) AdjustThrottle(speed, efficiency float64) (float64, error) {
	out, err := s.ctrl.Update(s.cfg.TargetEfficiency, efficiency, s.cfg.Timestep)
	if err != nil {
		return 0, errors.Wrap(err, "efficiency loop")
	}
	log.WithFields(log.Fields{
		"speed":      speed,
		"efficiency": efficiency,
		"throttle":   out,
	}).Debug("adjusted throttle")
	return math.Max(0, math.Min(100, out)), nil
}

// UpdateFuelLevel drains the tank. Negative consumption is ignored so the
// level never rises.
func (s *Simulator) UpdateFuelLevel(consumed float64) float64 {
	if consumed > 0 {
		s.level = math.Max(0, s.level-consumed)
	}
	return s.level
}

// CheckFuelAlert returns an event the first time the level is below the
// low fuel threshold and nil afterwards until ResetFuelAlert.
func (s *Simulator) CheckFuelAlert() *alert.Event {
	threshold := s.cfg.LowFuelFraction * s.cfg.FuelCapacity
	if !s.latch.Trip(s.level < threshold) {
		return nil
	}
	return &alert.Event{
		Time:     s.now(),
		Severity: alert.SeverityWarning,
		Category: alert.CategoryLowFuel,
		Message:  fmt.Sprintf("low fuel level: %.2f L of %.2f L", s.level, s.cfg.FuelCapacity),
		Metric:   "fuel_level",
		Value:    s.level,
	}
}

func (s *Simulator) ResetFuelAlert() {
	s.latch.Reset()
}

func (s *Simulator) State() FuelState {
	status := FuelNormal
	if s.latch.Tripped() {
		status = FuelLow
	}
	return FuelState{
		Capacity:       s.cfg.FuelCapacity,
		Level:          s.level,
		AlertTriggered: s.latch.Tripped(),
		Status:         status,
	}
}

func (s *Simulator) Capacity() float64 {
	return s.cfg.FuelCapacity
}

func (s *Simulator) Controller() *pid.Controller {
	return s.ctrl
}

// SetGains swaps the efficiency loop gains, optionally clearing its
// integrator.
func (s *Simulator) SetGains(g pid.Gains, reset bool) error {
	if err := s.ctrl.SetGains(g); err != nil {
		return err
	}
	if reset {
		s.ctrl.Reset()
	}
	return nil
}

// Process applies consumption, the efficiency loop, the fuel update and
// the latch check to externally supplied engine values.
func (s *Simulator) Process(speed, throttle, rpm float64) (Reading, *alert.Event, error) {
	consumed, err := s.CalculateFuelConsumption(speed, throttle, rpm)
	if err != nil {
		return Reading{}, nil, err
	}
	efficiency := s.FuelEfficiency(speed, consumed)
	adjusted, err := s.AdjustThrottle(speed, efficiency)
	if err != nil {
		return Reading{}, nil, err
	}
	level := s.UpdateFuelLevel(consumed)
	return Reading{
		Consumed:         consumed,
		Efficiency:       efficiency,
		AdjustedThrottle: adjusted,
		FuelLevel:        level,
		ControlError:     s.ctrl.PreviousError(),
	}, s.CheckFuelAlert(), nil
}

// SimulateOBDData samples engine values from fixed ranges, independent of
// any dynamics model.
func (s *Simulator) SimulateOBDData() (telemetry.Sample, error) {
	speed, err := s.intRange(s.cfg.OBDSpeed)
	if err != nil {
		return telemetry.Sample{}, errors.Wrap(err, "obd speed")
	}
	rpm, err := s.intRange(s.cfg.OBDRPM)
	if err != nil {
		return telemetry.Sample{}, errors.Wrap(err, "obd rpm")
	}
	throttle, err := s.intRange(s.cfg.OBDThrottle)
	if err != nil {
		return telemetry.Sample{}, errors.Wrap(err, "obd throttle")
	}
	coolant, err := s.noise.Uniform(s.cfg.OBDCoolant.Min, s.cfg.OBDCoolant.Max)
	if err != nil {
		return telemetry.Sample{}, errors.Wrap(err, "obd coolant")
	}
	return telemetry.Sample{
		Timestamp:   s.now(),
		Speed:       speed,
		RPM:         rpm,
		Throttle:    throttle,
		CoolantTemp: coolant,
		FuelLevel:   s.level,
	}, nil
}

func (s *Simulator) intRange(r Range) (float64, error) {
	n, err := s.noise.IntRange(int(r.Min), int(r.Max))
	return float64(n), err
}

// SimulateECU runs one OBD mode tick.
func (s *Simulator) SimulateECU() (telemetry.Sample, *alert.Event, error) {
	sample, err := s.SimulateOBDData()
	if err != nil {
		return telemetry.Sample{}, nil, err
	}
	reading, event, err := s.Process(sample.Speed, sample.Throttle, sample.RPM)
	if err != nil {
		return telemetry.Sample{}, nil, err
	}
	sample.FuelConsumed = reading.Consumed
	sample.FuelEfficiency = reading.Efficiency
	sample.AdjustedThrottle = reading.AdjustedThrottle
	sample.FuelLevel = reading.FuelLevel
	return sample, event, nil
}
