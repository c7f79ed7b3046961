package ecusim

import (
	"context"
	"github.com/jd3nn1s/ecusim/lemoncan"
	log "github.com/sirupsen/logrus"
	"sync"
)

type canBusRetryable struct {
	portName string

	mu sync.Mutex
	c  CANBus
}

func (bus *canBusRetryable) Open() error {
	c, err := canBusConnect(bus.portName)
	if err != nil {
		return err
	}
	bus.mu.Lock()
	bus.c = c
	bus.mu.Unlock()
	return nil
}

func (bus *canBusRetryable) Close() error {
	bus.mu.Lock()
	c := bus.c
	bus.c = nil
	bus.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

func (bus *canBusRetryable) Start(ctx context.Context) error {
	c := bus.CANBus()
	if c == nil {
		return nil
	}
	return c.Start(ctx)
}

func (bus *canBusRetryable) Name() string {
	return "canbus"
}

// CANBus returns the open connection or nil while reconnecting.
func (bus *canBusRetryable) CANBus() CANBus {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return bus.c
}

var canBusConnect = func(p string) (CANBus, error) {
	return lemoncan.Connect(p)
}

func runCAN(ctx context.Context, bus *canBusRetryable) {
	err := retry(ctx, bus)
	if err != nil {
		log.Errorf("canbus done: %v", err)
	}
}
