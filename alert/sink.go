package alert

import (
	"context"
	log "github.com/sirupsen/logrus"
)

// Sink delivers alert events. The evaluator never opens or closes a sink.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

type SinkFunc func(ctx context.Context, e Event) error

func (fn SinkFunc) Send(ctx context.Context, e Event) error {
	return fn(ctx, e)
}

// LogSink writes alerts to the package logger.
type LogSink struct{}

func (LogSink) Send(_ context.Context, e Event) error {
	entry := log.WithFields(log.Fields{
		"category": e.Category,
		"severity": e.Severity,
		"metric":   e.Metric,
		"value":    e.Value,
	})
	switch e.Severity {
	case SeverityCritical:
		entry.Error("[ALERT] " + e.Message)
	case SeverityWarning:
		entry.Warn("[ALERT] " + e.Message)
	default:
		entry.Info("[ALERT] " + e.Message)
	}
	return nil
}

// MultiSink fans an event out to every sink and returns the first error.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
