package forwarder

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"time"
)

const mqttTimeout = 2 * time.Second

var ErrMQTTTimeout = errors.New("mqtt: timed out waiting for broker")

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTForwarder publishes every sample to <topic>/<vehicle id>.
type MQTTForwarder struct {
	topic      string
	vehicleID  string
	client     publisher
	disconnect func()
}

var mqttConnect = func(broker, clientID string) (publisher, func(), error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithField("err", err).Warn("mqtt connection lost")
		})
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, nil, errors.Wrapf(ErrMQTTTimeout, "connecting to %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, nil, errors.Wrapf(err, "unable to connect to %s", broker)
	}
	return client, func() { client.Disconnect(250) }, nil
}

func NewMQTTForwarder(broker, clientID, topic, vehicleID string) (*MQTTForwarder, error) {
	client, disconnect, err := mqttConnect(broker, clientID)
	if err != nil {
		return nil, err
	}
	return &MQTTForwarder{
		topic:      topic,
		vehicleID:  vehicleID,
		client:     client,
		disconnect: disconnect,
	}, nil
}

func (fwd *MQTTForwarder) Topic() string {
	return fwd.topic + "/" + fwd.vehicleID
}

func (fwd *MQTTForwarder) Forward(newTelemetry *telemetry.Sample, prevTelemetry *telemetry.Sample) error {
	payload, err := encodeMessage(fwd.vehicleID, newTelemetry)
	if err != nil {
		return errors.Wrap(err, "unable to marshal telemetry")
	}
	token := fwd.client.Publish(fwd.Topic(), 0, false, payload)
	if !token.WaitTimeout(mqttTimeout) {
		return errors.Wrapf(ErrMQTTTimeout, "publishing to %s", fwd.Topic())
	}
	return errors.Wrap(token.Error(), "unable to publish telemetry")
}

func (fwd *MQTTForwarder) Close() error {
	if fwd.disconnect != nil {
		fwd.disconnect()
	}
	return nil
}
