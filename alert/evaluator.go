package alert

import (
	"context"
	"fmt"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"math"
	"sync"
	"time"
)

const (
	DefaultLowPredictedFuel = 5.0
	DefaultMaxControlError  = 10.0
)

type Thresholds struct {
	// LowPredictedFuel fires the prediction alert when the predicted fuel
	// drops strictly below it.
	LowPredictedFuel float64 `toml:"low_predicted_fuel"`
	// MaxControlError fires the deviation alert when |error| is strictly
	// above it.
	MaxControlError float64 `toml:"max_control_error"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		LowPredictedFuel: DefaultLowPredictedFuel,
		MaxControlError:  DefaultMaxControlError,
	}
}

// Input is everything a rule may look at for one tick.
type Input struct {
	Sample        telemetry.Sample
	PredictedFuel float64
	ControlError  *float64
}

type Rule struct {
	Category Category
	Severity Severity
	Metric   string
	// Evaluate returns the triggering value and whether the rule fires.
	Evaluate func(in Input) (float64, bool)
	Message  func(v float64) string
}

func DefaultRules(th Thresholds) []Rule {
	return []Rule{
		{
			Category: CategoryLowFuelPrediction,
			Severity: SeverityCritical,
			Metric:   "predicted_fuel",
			Evaluate: func(in Input) (float64, bool) {
				return in.PredictedFuel, in.PredictedFuel < th.LowPredictedFuel
			},
			Message: func(v float64) string {
				return fmt.Sprintf("fuel critically low: %.2f L predicted", v)
			},
		},
		{
			Category: CategoryControlDeviation,
			Severity: SeverityWarning,
			Metric:   "control_error",
			Evaluate: func(in Input) (float64, bool) {
				if in.ControlError == nil {
					return 0, false
				}
				return *in.ControlError, math.Abs(*in.ControlError) > th.MaxControlError
			},
			Message: func(v float64) string {
				return fmt.Sprintf("high control error %.2f, check throttle control", v)
			},
		},
	}
}

type EvaluatorOption func(*Evaluator)

func WithThresholds(th Thresholds) EvaluatorOption {
	return func(e *Evaluator) {
		e.rules = DefaultRules(th)
	}
}

func WithRules(rules ...Rule) EvaluatorOption {
	return func(e *Evaluator) {
		e.rules = rules
	}
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		e.now = now
	}
}

// Evaluator checks every rule independently; each rule has its own latch
// so a rule fires once per breach rather than on every tick of it.
type Evaluator struct {
	sink  Sink
	rules []Rule
	now   func() time.Time

	mu      sync.Mutex
	latches map[Category]*Latch
}

func NewEvaluator(sink Sink, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		sink:    sink,
		rules:   DefaultRules(DefaultThresholds()),
		now:     time.Now,
		latches: map[Category]*Latch{},
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, r := range e.rules {
		e.latches[r.Category] = &Latch{}
	}
	return e
}

// CheckAlerts evaluates the rules against one tick and sends every fired
// event to the sink. The fired events are returned even when delivery
// fails.
func (e *Evaluator) CheckAlerts(ctx context.Context, sample telemetry.Sample, predictedFuel float64, controlError *float64) ([]Event, error) {
	e.mu.Lock()
	in := Input{
		Sample:        sample,
		PredictedFuel: predictedFuel,
		ControlError:  controlError,
	}
	var fired []Event
	for _, r := range e.rules {
		v, ok := r.Evaluate(in)
		if !e.latches[r.Category].Trip(ok) {
			continue
		}
		fired = append(fired, Event{
			Time:     e.now(),
			Severity: r.Severity,
			Category: r.Category,
			Message:  r.Message(v),
			Metric:   r.Metric,
			Value:    v,
		})
	}
	e.mu.Unlock()

	var first error
	for _, ev := range fired {
		if err := e.SendAlert(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return fired, first
}

func (e *Evaluator) SendAlert(ctx context.Context, ev Event) error {
	if e.sink == nil {
		return nil
	}
	if err := e.sink.Send(ctx, ev); err != nil {
		log.WithField("category", ev.Category).WithField("err", err).Warn("unable to deliver alert")
		return errors.Wrapf(err, "unable to deliver %s alert", ev.Category)
	}
	return nil
}

// Reset re-arms every rule.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.latches {
		l.Reset()
	}
}
