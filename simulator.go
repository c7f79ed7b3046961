package ecusim

import (
	"context"
	"fmt"
	"github.com/jd3nn1s/ecusim/alert"
	"github.com/jd3nn1s/ecusim/metrics"
	"github.com/jd3nn1s/ecusim/predict"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"sync"
	"time"
)

const subscriberBufferSize = 16

var ErrPrediction = errors.New("fuel prediction failed")

// Result is one completed step: the tick itself plus what the
// collaborators made of it.
type Result struct {
	Sample        telemetry.Sample `json:"simulated_data"`
	PredictedFuel float64          `json:"predicted_fuel"`
	Alerts        []alert.Event    `json:"alerts,omitempty"`
	// Errs holds collaborator failures (persistence, forwarding, alert
	// delivery). They do not fail the step.
	Errs []error `json:"-"`
}

// Simulator drives a session and hands every tick to the collaborators
// outside the tick boundary.
type Simulator struct {
	session   *Session
	predictor predict.Predictor
	evaluator *alert.Evaluator

	recorders  []Recorder
	forwarders []Forwarder

	// serialises steps so collaborators see ticks in causal order
	stepMu    sync.Mutex
	telemetry telemetry.Sample

	subMu       sync.Mutex
	subscribers map[chan Result]struct{}
}

func NewSimulator(session *Session, predictor predict.Predictor, evaluator *alert.Evaluator) *Simulator {
	return &Simulator{
		session:     session,
		predictor:   predictor,
		evaluator:   evaluator,
		subscribers: map[chan Result]struct{}{},
	}
}

func (sim *Simulator) Session() *Session {
	return sim.session
}

func (sim *Simulator) Predictor() predict.Predictor {
	return sim.predictor
}

func (sim *Simulator) AddForwarder(fwd Forwarder) {
	sim.forwarders = append(sim.forwarders, fwd)
}

func (sim *Simulator) AddRecorder(rec Recorder) {
	sim.recorders = append(sim.recorders, rec)
}

// Telemetry returns the sample of the last successful step.
func (sim *Simulator) Telemetry() telemetry.Sample {
	sim.stepMu.Lock()
	defer sim.stepMu.Unlock()
	return sim.telemetry
}

// Step runs one tick and then predictor, alerts, recorders and
// forwarders in that order. A tick failure or a prediction failure is
// returned; the other collaborator failures land in Result.Errs.
func (sim *Simulator) Step(ctx context.Context) (Result, error) {
	sim.stepMu.Lock()
	defer sim.stepMu.Unlock()

	tick, err := sim.session.Tick()
	if err != nil {
		metrics.TickFailures.Inc()
		return Result{}, errors.Wrap(err, "tick failed")
	}
	metrics.Ticks.Inc()
	sample := tick.Sample
	metrics.Speed.Set(sample.Speed)
	metrics.FuelLevel.Set(sample.FuelLevel)

	res := Result{Sample: sample}
	// the ECU latch has already tripped, so its event goes out before
	// anything below can fail the step
	if tick.FuelAlert != nil {
		sim.deliverFuelAlert(ctx, &res, *tick.FuelAlert)
	}

	res.PredictedFuel, err = sim.predictor.Predict(ctx, sample.Features())
	if err != nil {
		metrics.PredictionFailures.Inc()
		log.WithField("session", sim.session.ID()).WithField("err", err).Error("fuel prediction failed")
		return res, errors.Wrap(ErrPrediction, err.Error())
	}
	metrics.PredictedFuel.Set(res.PredictedFuel)

	fired, err := sim.evaluator.CheckAlerts(ctx, sample, res.PredictedFuel, sample.ControlError)
	if err != nil {
		res.Errs = append(res.Errs, err)
	}
	for _, ev := range fired {
		metrics.Alerts.WithLabelValues(string(ev.Category)).Inc()
	}
	res.Alerts = append(res.Alerts, fired...)

	for _, rec := range sim.recorders {
		if err := rec.Record(ctx, sim.session.ID(), sample, res.PredictedFuel); err != nil {
			metrics.RecordFailures.WithLabelValues(rec.Name()).Inc()
			log.WithField("recorder", rec.Name()).WithField("err", err).Error("unable to record telemetry")
			res.Errs = append(res.Errs, errors.Wrapf(err, "recorder %s", rec.Name()))
		}
	}

	prev := sim.telemetry
	sim.telemetry = sample
	for _, fwd := range sim.forwarders {
		if err := fwd.Forward(&sample, &prev); err != nil {
			metrics.ForwardFailures.Inc()
			log.WithField("forwarder", fmt.Sprintf("%T", fwd)).WithField("err", err).Error("unable to forward telemetry")
			res.Errs = append(res.Errs, err)
		}
	}

	sim.publish(res)
	return res, nil
}

func (sim *Simulator) deliverFuelAlert(ctx context.Context, res *Result, ev alert.Event) {
	metrics.Alerts.WithLabelValues(string(ev.Category)).Inc()
	res.Alerts = append(res.Alerts, ev)
	if err := sim.evaluator.SendAlert(ctx, ev); err != nil {
		res.Errs = append(res.Errs, err)
	}
}

// Generate runs n ticks outside the step loop, as used for training data
// and ad hoc batches. Fuel alerts raised on the way still reach the sinks.
func (sim *Simulator) Generate(ctx context.Context, n int) ([]telemetry.Sample, []alert.Event, error) {
	sim.stepMu.Lock()
	defer sim.stepMu.Unlock()

	samples, alerts, err := sim.session.Generate(n)
	for _, ev := range alerts {
		metrics.Alerts.WithLabelValues(string(ev.Category)).Inc()
		// SendAlert logs its own delivery failures
		_ = sim.evaluator.SendAlert(ctx, ev)
	}
	return samples, alerts, err
}

// Run steps every interval until the context ends. Prediction failures
// are logged and the loop continues; a failed tick stops it.
func (sim *Simulator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.WithFields(log.Fields{
		"session":  sim.session.ID(),
		"mode":     sim.session.Mode(),
		"interval": interval,
	}).Info("simulation started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		_, err := sim.Step(ctx)
		if errors.Cause(err) == ErrPrediction {
			log.WithField("err", err).Warn("skipping collaborators for this tick")
			continue
		}
		if err != nil {
			return err
		}
	}
}

// Subscribe returns a channel receiving every step result. Slow
// subscribers miss results rather than stall the simulation.
func (sim *Simulator) Subscribe() (<-chan Result, func()) {
	ch := make(chan Result, subscriberBufferSize)
	sim.subMu.Lock()
	sim.subscribers[ch] = struct{}{}
	sim.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sim.subMu.Lock()
			delete(sim.subscribers, ch)
			sim.subMu.Unlock()
			close(ch)
		})
	}
}

func (sim *Simulator) publish(res Result) {
	sim.subMu.Lock()
	defer sim.subMu.Unlock()
	for ch := range sim.subscribers {
		select {
		case ch <- res:
		default:
		}
	}
}
