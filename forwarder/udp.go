package forwarder

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"github.com/BurntSushi/toml"
	"github.com/jd3nn1s/ecusim/alert"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"io"
	"net"
	"os"
	"time"
)

var maxTelemetrySize = binary.Size(Header{}) + binary.Size(Telemetry{})

const defaultSendInterval = 100 * time.Millisecond

type UDPConfig struct {
	Server string
	Port   int
	// SendInterval limits how often a datagram is sent, zero uses 100ms.
	SendInterval time.Duration
}

// UDPForwarder sends the most recent telemetry as a binary datagram at
// most once per send interval. Telemetry arriving faster is dropped.
type UDPForwarder struct {
	Config *UDPConfig

	conn    net.Conn
	fwdChan chan Telemetry
}

func NewUDPForwarderFromFile(fileName string) (*UDPForwarder, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open file %s", fileName)
	}
	defer file.Close()
	return NewUDPForwarderFromReader(file)
}

func NewUDPForwarderFromReader(configReader io.Reader) (*UDPForwarder, error) {
	config := UDPConfig{}
	if _, err := toml.NewDecoder(configReader).Decode(&config); err != nil {
		return nil, errors.Wrapf(err, "unable to load udp forwarder configuration")
	}
	return NewUDPForwarder(&config)
}

func NewUDPForwarder(config *UDPConfig) (*UDPForwarder, error) {
	udp := &UDPForwarder{
		Config:  config,
		fwdChan: make(chan Telemetry, 1),
	}
	if err := udp.connect(); err != nil {
		return nil, err
	}
	return udp, nil
}

func (udp *UDPForwarder) Close() error {
	return udp.conn.Close()
}

func (udp *UDPForwarder) Forward(newTelemetry *telemetry.Sample, prevTelemetry *telemetry.Sample) error {
	select {
	// the wire struct is a copy, safe to hand to the sending go-routine
	case udp.fwdChan <- NewTelemetry(newTelemetry):
	default:
		// if channel is full, skip
	}
	return nil
}

func (udp *UDPForwarder) Start(ctx context.Context) error {
	interval := udp.Config.SendInterval
	if interval <= 0 {
		interval = defaultSendInterval
	}
	limiter := time.NewTicker(interval)
	defer limiter.Stop()
	for {
		select {
		case <-limiter.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case t := <-udp.fwdChan:
			if err := udp.forward(&t); err != nil {
				log.WithField("err", err).Error("unable to forward telemetry to server")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (udp *UDPForwarder) forward(telem *Telemetry) error {
	return udp.write(TypeTelemetry, telem)
}

// Send delivers an alert datagram straight away, bypassing the rate
// limit applied to telemetry.
func (udp *UDPForwarder) Send(_ context.Context, e alert.Event) error {
	a := NewAlert(e)
	return errors.Wrapf(udp.write(TypeAlert, &a), "unable to send %s alert", e.Category)
}

func (udp *UDPForwarder) write(typ uint8, payload interface{}) error {
	buf := bytes.NewBuffer(make([]byte, 0, maxTelemetrySize))
	hdr := Header{
		Type: typ,
	}
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return errors.Wrap(err, "unable to write udp packet header")
	}
	if err := binary.Write(buf, binary.LittleEndian, payload); err != nil {
		return errors.Wrap(err, "unable to write udp packet")
	}
	_, err := udp.conn.Write(buf.Bytes())
	return err
}

func (udp *UDPForwarder) connect() error {
	writeBufSize := maxTelemetrySize * 2

	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d",
		udp.Config.Server,
		udp.Config.Port))
	if err != nil {
		return err
	}
	udpConn := conn.(*net.UDPConn)
	if err = udpConn.SetWriteBuffer(writeBufSize); err != nil {
		return errors.Wrapf(err, "unable to set OS write buffer to %v", writeBufSize)
	}

	udp.conn = conn
	return nil
}
