// Package alert holds alert events, the latch that deduplicates them and
// the threshold evaluator that inspects each tick's sample.
package alert

import (
	"fmt"
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

type Category string

const (
	CategoryLowFuel           Category = "LOW_FUEL"
	CategoryLowFuelPrediction Category = "LOW_FUEL_PREDICTION"
	CategoryControlDeviation  Category = "THROTTLE_CONTROL_DEVIATION"
)

type Event struct {
	Time     time.Time `json:"triggered_at"`
	Severity Severity  `json:"severity"`
	Category Category  `json:"alert_type"`
	Message  string    `json:"message"`
	// Metric names the value that tripped the alert.
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Category, e.Message)
}
