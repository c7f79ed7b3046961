package forwarder

import (
	"context"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
	"time"
)

const kafkaWriteTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaForwarder publishes every sample as JSON keyed by vehicle id so a
// vehicle's samples stay on one partition in order.
type KafkaForwarder struct {
	vehicleID string
	writer    messageWriter
}

func NewKafkaForwarder(brokers []string, topic string, vehicleID string) *KafkaForwarder {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.WithFields(log.Fields{
					"topic":    topic,
					"messages": len(messages),
					"err":      err,
				}).Error("kafka write failed")
			}
		},
	}
	return &KafkaForwarder{
		vehicleID: vehicleID,
		writer:    w,
	}
}

func (fwd *KafkaForwarder) Forward(newTelemetry *telemetry.Sample, prevTelemetry *telemetry.Sample) error {
	b, err := encodeMessage(fwd.vehicleID, newTelemetry)
	if err != nil {
		return errors.Wrap(err, "unable to marshal telemetry")
	}
	ctx, cancel := context.WithTimeout(context.Background(), kafkaWriteTimeout)
	defer cancel()
	err = fwd.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fwd.vehicleID),
		Value: b,
		Time:  newTelemetry.Timestamp,
	})
	return errors.Wrap(err, "unable to write telemetry to kafka")
}

func (fwd *KafkaForwarder) Close() error {
	return fwd.writer.Close()
}
