package ecusim

import (
	"context"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"time"
)

var retrySleep = time.Second

// Retryable is a long running connection that is reopened whenever Start
// returns.
type Retryable interface {
	Open() error
	Close() error
	Start(ctx context.Context) error
	Name() string
}

func retry(ctx context.Context, r Retryable) error {
	errStarting := errors.New("starting")
	err := errStarting
	for {
		if ctx.Err() != nil {
			if closeErr := r.Close(); closeErr != nil {
				log.WithField("err", closeErr).Warnf("%s: unable to close", r.Name())
			}
			return ctx.Err()
		}
		if err != nil {
			if err != errStarting {
				log.WithField("err", err).Errorf("%s: reconnecting due to error", r.Name())
				if err = r.Close(); err != nil {
					log.WithField("err", err).Warnf("%s: unable to close", r.Name())
				}
				select {
				case <-time.After(retrySleep):
				case <-ctx.Done():
					continue
				}
			}
			err = r.Open()
			if err != nil {
				continue
			}
		}
		err = r.Start(ctx)
	}
}
