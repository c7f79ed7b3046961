package telemetry

import (
	"github.com/pkg/errors"
	"math"
	"time"
)

// DefaultTirePressure is reported by recorders when a sample carries no
// tire pressure reading.
const DefaultTirePressure = 32.0

var ErrInvalidSample = errors.New("telemetry: invalid sample")

// Sample is one tick's snapshot. It is a value type; whoever receives it
// owns it.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`

	Elapsed     float64 `json:"time"`
	Speed       float64 `json:"speed_kmh"`
	TargetSpeed float64 `json:"target_speed,omitempty"`
	RPM         float64 `json:"engine_rpm"`
	Throttle    float64 `json:"throttle_position"`
	// AdjustedThrottle is the efficiency loop output. It never feeds back
	// into the speed loop.
	AdjustedThrottle float64 `json:"adjusted_throttle"`
	CoolantTemp      float64 `json:"coolant_temp"`

	FuelLevel      float64 `json:"fuel_level"`
	FuelConsumed   float64 `json:"fuel_consumed"`
	FuelEfficiency float64 `json:"fuel_efficiency"`

	ErrorCode    *int     `json:"error_code,omitempty"`
	TirePressure *float64 `json:"tire_pressure,omitempty"`
	ControlError *float64 `json:"control_error,omitempty"`
}

// Validate enforces the contract every sample meets before it leaves the
// simulator.
func (s *Sample) Validate(capacity float64) error {
	for name, v := range map[string]float64{
		"speed":           s.Speed,
		"rpm":             s.RPM,
		"throttle":        s.Throttle,
		"coolant":         s.CoolantTemp,
		"fuel level":      s.FuelLevel,
		"fuel consumed":   s.FuelConsumed,
		"fuel efficiency": s.FuelEfficiency,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrapf(ErrInvalidSample, "%s is not finite", name)
		}
	}
	if s.Speed < 0 {
		return errors.Wrapf(ErrInvalidSample, "negative speed %v", s.Speed)
	}
	if s.CoolantTemp < 0 {
		return errors.Wrapf(ErrInvalidSample, "negative coolant temperature %v", s.CoolantTemp)
	}
	if s.FuelLevel < 0 || s.FuelLevel > capacity {
		return errors.Wrapf(ErrInvalidSample, "fuel level %v outside [0, %v]", s.FuelLevel, capacity)
	}
	return nil
}

func (s *Sample) TirePressureOrDefault() float64 {
	if s.TirePressure == nil {
		return DefaultTirePressure
	}
	return *s.TirePressure
}

func (s *Sample) ErrorCodeOrDefault() int {
	if s.ErrorCode == nil {
		return 0
	}
	return *s.ErrorCode
}

// Features are the four inputs handed to a fuel predictor.
type Features struct {
	Speed       float64 `json:"speed_kmh"`
	RPM         float64 `json:"engine_rpm"`
	Throttle    float64 `json:"throttle_position"`
	CoolantTemp float64 `json:"coolant_temp"`
}

func (s *Sample) Features() Features {
	return Features{
		Speed:       s.Speed,
		RPM:         s.RPM,
		Throttle:    s.Throttle,
		CoolantTemp: s.CoolantTemp,
	}
}
