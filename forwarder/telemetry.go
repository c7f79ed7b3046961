package forwarder

import (
	"encoding/json"
	"github.com/jd3nn1s/ecusim/alert"
	"github.com/jd3nn1s/ecusim/telemetry"
	"math"
)

type Header struct {
	Type uint8
}

const (
	TypeTelemetry = 1
	TypeAlert     = 2
)

const (
	FlagControlError = 1 << iota
	FlagErrorCode
	FlagTirePressure
)

// Telemetry is the fixed size little endian UDP payload that follows the
// header.
type Telemetry struct {
	Elapsed     float32
	Speed       float32
	TargetSpeed float32
	RPM         float32

	Throttle         float32
	AdjustedThrottle float32
	CoolantTemp      float32

	FuelLevel      float32
	FuelConsumed   float32
	FuelEfficiency float32

	ControlError float32
	TirePressure float32
	ErrorCode    uint16
	Flags        uint8
}

func toFloat32(v float64) float32 {
	if v > math.MaxFloat32 {
		return math.MaxFloat32
	}
	if v < -math.MaxFloat32 {
		return -math.MaxFloat32
	}
	return float32(v)
}

func NewTelemetry(s *telemetry.Sample) Telemetry {
	t := Telemetry{
		Elapsed:          toFloat32(s.Elapsed),
		Speed:            toFloat32(s.Speed),
		TargetSpeed:      toFloat32(s.TargetSpeed),
		RPM:              toFloat32(s.RPM),
		Throttle:         toFloat32(s.Throttle),
		AdjustedThrottle: toFloat32(s.AdjustedThrottle),
		CoolantTemp:      toFloat32(s.CoolantTemp),
		FuelLevel:        toFloat32(s.FuelLevel),
		FuelConsumed:     toFloat32(s.FuelConsumed),
		FuelEfficiency:   toFloat32(s.FuelEfficiency),
		TirePressure:     toFloat32(s.TirePressureOrDefault()),
	}
	if s.ControlError != nil {
		t.Flags |= FlagControlError
		t.ControlError = toFloat32(*s.ControlError)
	}
	if s.ErrorCode != nil {
		t.Flags |= FlagErrorCode
		t.ErrorCode = uint16(*s.ErrorCode)
	}
	if s.TirePressure != nil {
		t.Flags |= FlagTirePressure
	}
	return t
}

var alertCategories = map[alert.Category]uint8{
	alert.CategoryLowFuel:           1,
	alert.CategoryLowFuelPrediction: 2,
	alert.CategoryControlDeviation:  3,
}

var alertSeverities = map[alert.Severity]uint8{
	alert.SeverityInfo:     1,
	alert.SeverityWarning:  2,
	alert.SeverityCritical: 3,
}

// Alert is the UDP payload following a TypeAlert header. Unknown
// categories and severities are sent as 0.
type Alert struct {
	// Time in unix milliseconds.
	Time     int64
	Category uint8
	Severity uint8
	Value    float32
}

func NewAlert(e alert.Event) Alert {
	return Alert{
		Time:     e.Time.UnixMilli(),
		Category: alertCategories[e.Category],
		Severity: alertSeverities[e.Severity],
		Value:    toFloat32(e.Value),
	}
}

// Message is the JSON document published to message brokers.
type Message struct {
	VehicleID string `json:"vehicle_id"`
	telemetry.Sample
}

func encodeMessage(vehicleID string, s *telemetry.Sample) ([]byte, error) {
	return json.Marshal(Message{
		VehicleID: vehicleID,
		Sample:    *s,
	})
}
