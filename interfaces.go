package ecusim

import (
	"context"
	"github.com/jd3nn1s/ecusim/telemetry"
)

// Forwarder pushes telemetry to a live consumer. prevTelemetry is the
// previous tick's sample so forwarders can skip unchanged values.
type Forwarder interface {
	Forward(newTelemetry *telemetry.Sample, prevTelemetry *telemetry.Sample) error
}

// Recorder persists a sample together with the predicted fuel quantity.
type Recorder interface {
	Name() string
	Record(ctx context.Context, vehicleID string, sample telemetry.Sample, predictedFuel float64) error
}

type CANBus interface {
	Close() error
	Start(context.Context) error
	SendSpeed(int) error
	SendRPM(int) error
	SendCoolantTemp(int) error
	SendFuelLevel(int) error
}
