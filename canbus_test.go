package ecusim

import (
	"context"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"sync"
	"testing"
)

func TestRunCANBus(t *testing.T) {
	defer noDelays()()
	origCanBusConnect := canBusConnect
	defer func() {
		canBusConnect = origCanBusConnect
	}()

	stub := createCANBusStub()
	canBusConnect = func(p string) (CANBus, error) {
		assert.Equal(t, "vcan0", p)
		return stub, nil
	}

	fwd := NewCANForwarder("vcan0")
	// close before opening
	assert.NoError(t, fwd.canBus.Close())

	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		fwd.Start(ctx)
		wg.Done()
	}()
	<-stub.startChan
	assert.NotNil(t, fwd.canBus.CANBus())

	cancel()
	wg.Wait()
	assert.True(t, stub.closed)
	assert.Nil(t, fwd.canBus.CANBus())
}

func TestCANForward(t *testing.T) {
	stub := createCANBusStub()
	fwd := &CANForwarder{
		canBus: &canBusRetryable{
			c: stub,
		},
	}

	prevT := telemetry.Sample{}
	newT := telemetry.Sample{Speed: 59.6, RPM: 3596.2, CoolantTemp: 95.96, FuelLevel: 42.04}
	assert.NoError(t, fwd.Forward(&newT, &prevT))
	assert.Equal(t, []int{60}, stub.sentValues("speed"))
	assert.Equal(t, []int{3596}, stub.sentValues("rpm"))
	assert.Equal(t, []int{96}, stub.sentValues("coolant"))
	assert.Equal(t, []int{420}, stub.sentValues("fuel"))

	prevT = newT
	assert.NoError(t, fwd.Forward(&newT, &prevT))
	assert.Len(t, stub.sentValues("speed"), 1, "unexpected call after unchanged telemetry")

	newT.Speed = 61
	assert.NoError(t, fwd.Forward(&newT, &prevT))
	assert.Equal(t, []int{60, 61}, stub.sentValues("speed"))
	assert.Len(t, stub.sentValues("rpm"), 1)

	stub.sendErr = errors.New("bus off")
	newT.Speed = 70
	assert.Error(t, fwd.Forward(&newT, &prevT))
}

func TestCANForwardNotConnected(t *testing.T) {
	fwd := NewCANForwarder("vcan0")
	assert.Error(t, fwd.Forward(&telemetry.Sample{}, &telemetry.Sample{}))
}
