package ecusim

import (
	"context"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	"math"
)

// CANForwarder mirrors speed, RPM, coolant temperature and fuel level
// onto a CAN bus, sending only the values that changed.
type CANForwarder struct {
	canBus *canBusRetryable
}

func NewCANForwarder(portName string) *CANForwarder {
	return &CANForwarder{
		canBus: &canBusRetryable{
			portName: portName,
		},
	}
}

// Start keeps the bus connected until the context ends.
func (fwd *CANForwarder) Start(ctx context.Context) {
	runCAN(ctx, fwd.canBus)
}

func (fwd *CANForwarder) Forward(newTelemetry *telemetry.Sample, prevTelemetry *telemetry.Sample) error {
	canBus := fwd.canBus.CANBus()
	if canBus == nil {
		return errors.New("canbus is not initialized")
	}
	sends := []struct {
		name      string
		prev, cur int
		fn        func(int) error
	}{
		{"speed", round(prevTelemetry.Speed), round(newTelemetry.Speed), canBus.SendSpeed},
		{"rpm", round(prevTelemetry.RPM), round(newTelemetry.RPM), canBus.SendRPM},
		{"coolant temp", round(prevTelemetry.CoolantTemp), round(newTelemetry.CoolantTemp), canBus.SendCoolantTemp},
		{"fuel level", round(prevTelemetry.FuelLevel * 10), round(newTelemetry.FuelLevel * 10), canBus.SendFuelLevel},
	}
	for _, s := range sends {
		if s.prev == s.cur {
			continue
		}
		if err := s.fn(s.cur); err != nil {
			return errors.Wrapf(err, "unable to send %s to CAN bus", s.name)
		}
	}
	return nil
}

func round(v float64) int {
	return int(math.Round(v))
}
