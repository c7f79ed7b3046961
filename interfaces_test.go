package ecusim

import (
	"context"
	"github.com/jd3nn1s/ecusim/telemetry"
	"sync"
)

type canBusStub struct {
	startChan chan struct{}
	errChan   chan error

	mu      sync.Mutex
	closed  bool
	sent    map[string][]int
	sendErr error
}

func createCANBusStub() *canBusStub {
	return &canBusStub{
		startChan: make(chan struct{}, 1),
		errChan:   make(chan error),
		sent:      map[string][]int{},
	}
}

func (c *canBusStub) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *canBusStub) Start(ctx context.Context) error {
	select {
	case c.startChan <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-c.errChan:
		return err
	}
}

func (c *canBusStub) record(name string, v int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent[name] = append(c.sent[name], v)
	return nil
}

func (c *canBusStub) SendSpeed(v int) error       { return c.record("speed", v) }
func (c *canBusStub) SendRPM(v int) error         { return c.record("rpm", v) }
func (c *canBusStub) SendCoolantTemp(v int) error { return c.record("coolant", v) }
func (c *canBusStub) SendFuelLevel(v int) error   { return c.record("fuel", v) }

func (c *canBusStub) sentValues(name string) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.sent[name]...)
}

type forwarderStub struct {
	telemetry []telemetry.Sample
	err       error
}

func (fwd *forwarderStub) Forward(newTelemetry *telemetry.Sample, prevTelemetry *telemetry.Sample) error {
	fwd.telemetry = append(fwd.telemetry, *newTelemetry)
	return fwd.err
}

type recordedSample struct {
	vehicleID     string
	sample        telemetry.Sample
	predictedFuel float64
}

type recorderStub struct {
	records []recordedSample
	err     error
}

func (r *recorderStub) Name() string {
	return "stub"
}

func (r *recorderStub) Record(_ context.Context, vehicleID string, sample telemetry.Sample, predictedFuel float64) error {
	r.records = append(r.records, recordedSample{vehicleID, sample, predictedFuel})
	return r.err
}
