// Package metrics exposes Prometheus collectors for the simulator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

var (
	Registry = prometheus.NewRegistry()

	Ticks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ecusim",
		Name:      "ticks_total",
		Help:      "Simulation ticks completed.",
	})
	TickFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ecusim",
		Name:      "tick_failures_total",
		Help:      "Simulation ticks that failed.",
	})
	PredictionFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ecusim",
		Name:      "prediction_failures_total",
		Help:      "Fuel predictions that failed.",
	})
	Alerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ecusim",
		Name:      "alerts_total",
		Help:      "Alerts raised by category.",
	}, []string{"category"})
	RecordFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ecusim",
		Name:      "record_failures_total",
		Help:      "Persistence failures by recorder.",
	}, []string{"recorder"})
	ForwardFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ecusim",
		Name:      "forward_failures_total",
		Help:      "Telemetry forwarding failures.",
	})

	Speed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ecusim",
		Name:      "speed_kmh",
		Help:      "Vehicle speed of the last tick.",
	})
	FuelLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ecusim",
		Name:      "fuel_level_litres",
		Help:      "Reported fuel level of the last tick.",
	})
	PredictedFuel = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ecusim",
		Name:      "predicted_fuel_litres",
		Help:      "Predicted fuel quantity of the last tick.",
	})
)

func init() {
	Registry.MustRegister(
		Ticks,
		TickFailures,
		PredictionFailures,
		Alerts,
		RecordFailures,
		ForwardFailures,
		Speed,
		FuelLevel,
		PredictedFuel,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
