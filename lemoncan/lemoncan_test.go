package lemoncan

import (
	"context"
	"encoding/binary"
	"github.com/brutella/can"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"sync"
	"testing"
)

type busStub struct {
	disconnected bool
	subscribed   bool
	stopChan     chan struct{}
	startedChan  chan struct{}
	publishChan  chan *can.Frame
}

func (bus *busStub) SubscribeFunc(can.HandlerFunc) {
	bus.subscribed = true
}

func (bus *busStub) ConnectAndPublish() error {
	bus.startedChan <- struct{}{}
	<-bus.stopChan
	return nil
}

func (bus *busStub) Disconnect() error {
	bus.disconnected = true
	bus.stopChan <- struct{}{}
	return nil
}

func (bus *busStub) Publish(f can.Frame) error {
	bus.publishChan <- &f
	return nil
}

func TestConnect(t *testing.T) {
	origNewBus := newBus
	bus := &busStub{
		stopChan: make(chan struct{}, 1),
	}
	newBus = func(string) (CANBus, error) {
		return bus, nil
	}
	defer func() {
		newBus = origNewBus
	}()

	c, err := Connect("fakeport")
	assert.NotNil(t, c)
	assert.NoError(t, err)
	assert.IsType(t, &busStub{}, c.bus)

	assert.NoError(t, c.Close())
	assert.True(t, bus.disconnected)
}

func TestConnectFailure(t *testing.T) {
	origNewBus := newBus
	newBus = func(string) (CANBus, error) {
		return nil, errors.New("no such interface")
	}
	defer func() {
		newBus = origNewBus
	}()

	c, err := Connect("vcan9")
	assert.Nil(t, c)
	assert.Error(t, err)
}

func TestStart(t *testing.T) {
	bus := &busStub{
		stopChan:    make(chan struct{}),
		startedChan: make(chan struct{}),
	}

	c := &Connection{
		bus: bus,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		assert.NoError(t, c.Start(ctx))
		wg.Done()
	}()
	<-bus.startedChan
	assert.True(t, bus.subscribed)
	cancel()
	wg.Wait()
	assert.True(t, bus.disconnected)
}

func TestSend(t *testing.T) {
	bus := &busStub{
		publishChan: make(chan *can.Frame, 1),
	}

	c := &Connection{
		bus: bus,
	}

	tests := []struct {
		send   func(int) error
		id     uint32
		metric Metric
	}{
		{c.SendSpeed, frameSpeed, MetricSpeed},
		{c.SendRPM, frameRPM, MetricRPM},
		{c.SendCoolantTemp, frameCoolantTemp, MetricCoolantTemp},
		{c.SendFuelLevel, frameFuel, MetricFuel},
	}
	for _, tt := range tests {
		assert.NoError(t, tt.send(100))
		f := <-bus.publishChan
		assert.Equal(t, tt.id, f.ID)
		metric, v, err := DecodeFrame(*f)
		assert.NoError(t, err)
		assert.Equal(t, tt.metric, metric)
		assert.Equal(t, 100, v)
	}

	disconnected := &Connection{}
	assert.Error(t, disconnected.SendSpeed(1))
}

func TestEncodeFrameSaturates(t *testing.T) {
	f, err := EncodeFrame(frameRPM, 100000)
	assert.NoError(t, err)
	_, v, _ := DecodeFrame(f)
	assert.Equal(t, 65535, v)

	f, err = EncodeFrame(frameSpeed, -4)
	assert.NoError(t, err)
	_, v, _ = DecodeFrame(f)
	assert.Equal(t, 0, v)

	_, err = EncodeFrame(0x400, 1)
	assert.Error(t, err)
}

func TestDecodeFrame(t *testing.T) {
	// unknown CAN frame
	_, _, err := DecodeFrame(can.Frame{
		ID: 400,
	})
	assert.Error(t, err)

	// too short a frame
	_, _, err = DecodeFrame(can.Frame{
		ID: frameCoolantTemp,
	})
	assert.Error(t, err)

	// handleFrame tolerates both
	c := &Connection{}
	c.handleFrame(can.Frame{ID: 400})
	c.handleFrame(can.Frame{ID: frameFuel, Length: 1})
}

func TestUint16Result(t *testing.T) {
	_, err := uint16Result(can.Frame{})
	assert.Error(t, err)
	_, err = uint16Result(can.Frame{
		Length: 3,
	})
	assert.Error(t, err)

	buf := [8]byte{}
	binary.LittleEndian.PutUint16(buf[0:2], 300)
	n, err := uint16Result(can.Frame{
		Length: 2,
		Data:   buf,
	})
	assert.NoError(t, err)
	assert.Equal(t, 300, n)
}
