package lemoncan

import (
	"context"
	"encoding/binary"
	"github.com/brutella/can"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"math"
)

const (
	frameCoolantTemp uint32 = 0x101
	frameFuel        uint32 = 0x102
	frameSpeed       uint32 = 0x103
	frameRPM         uint32 = 0x104
)

type Metric string

const (
	MetricCoolantTemp Metric = "coolant_temp"
	MetricFuel        Metric = "fuel"
	MetricSpeed       Metric = "speed"
	MetricRPM         Metric = "rpm"
)

var frameMetrics = map[uint32]Metric{
	frameCoolantTemp: MetricCoolantTemp,
	frameFuel:        MetricFuel,
	frameSpeed:       MetricSpeed,
	frameRPM:         MetricRPM,
}

type CANBus interface {
	SubscribeFunc(can.HandlerFunc)
	ConnectAndPublish() error
	Disconnect() error
	Publish(can.Frame) error
}

// to allow testing
var newBus = func(portName string) (CANBus, error) {
	return can.NewBusForInterfaceWithName(portName)
}

type Connection struct {
	bus CANBus
}

func Connect(portName string) (*Connection, error) {
	bus, err := newBus(portName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open can interface %s", portName)
	}
	return &Connection{
		bus: bus,
	}, nil
}

// Start runs the bus until the context ends. Frames seen on the bus are
// decoded and logged at debug level.
func (c *Connection) Start(ctx context.Context) error {
	c.bus.SubscribeFunc(c.handleFrame)
	log.Info("CAN bus opened and subscribed")

	go func() {
		<-ctx.Done()
		log.Infof("stopping can bus: %v", ctx.Err())
		if err := c.bus.Disconnect(); err != nil {
			log.WithField("err", err).Warn("unable to disconnect canbus after context")
		}
	}()

	return c.bus.ConnectAndPublish()
}

func (c *Connection) Close() error {
	if c.bus == nil {
		return errors.New("can bus not connected")
	}
	return c.bus.Disconnect()
}

func (c *Connection) SendSpeed(speed int) error {
	return c.send(frameSpeed, speed)
}

func (c *Connection) SendRPM(rpm int) error {
	return c.send(frameRPM, rpm)
}

func (c *Connection) SendCoolantTemp(temp int) error {
	return c.send(frameCoolantTemp, temp)
}

// SendFuelLevel takes the level in decilitres.
func (c *Connection) SendFuelLevel(level int) error {
	return c.send(frameFuel, level)
}

func (c *Connection) send(id uint32, v int) error {
	if c.bus == nil {
		return errors.New("can bus not connected")
	}
	frame, err := EncodeFrame(id, v)
	if err != nil {
		return err
	}
	log.WithField("canID", id).WithField("value", v).Debug("sending over canbus")
	return c.bus.Publish(frame)
}

// EncodeFrame packs v as a little endian uint16, saturating at the type's
// bounds.
func EncodeFrame(id uint32, v int) (can.Frame, error) {
	if _, ok := frameMetrics[id]; !ok {
		return can.Frame{}, errors.Errorf("unknown canID %#x", id)
	}
	if v < 0 {
		v = 0
	}
	if v > math.MaxUint16 {
		v = math.MaxUint16
	}
	frame := can.Frame{
		ID:     id,
		Length: 2,
	}
	binary.LittleEndian.PutUint16(frame.Data[0:2], uint16(v))
	return frame, nil
}

func DecodeFrame(frame can.Frame) (Metric, int, error) {
	metric, ok := frameMetrics[frame.ID]
	if !ok {
		return "", 0, errors.Errorf("unknown canID %#x", frame.ID)
	}
	v, err := uint16Result(frame)
	if err != nil {
		return "", 0, err
	}
	return metric, v, nil
}

func (c *Connection) handleFrame(frame can.Frame) {
	metric, v, err := DecodeFrame(frame)
	if err != nil {
		log.WithField("canID", frame.ID).WithField("err", err).Debug("ignoring canbus frame")
		return
	}
	log.WithField("metric", metric).
		WithField("intValue", v).
		Debug("received canbus frame")
}

func uint16Result(frame can.Frame) (int, error) {
	if frame.Length != 2 {
		return 0, errors.Errorf("incorrect frame size for uint16: %v", frame.Length)
	}
	return int(binary.LittleEndian.Uint16(frame.Data[0:2])), nil
}
