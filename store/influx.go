// Package store persists telemetry and alerts: InfluxDB for the time
// series, TimescaleDB for the relational history and Redis for the live
// vehicle state.
package store

import (
	"compress/gzip"
	"context"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/jd3nn1s/ecusim/config"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"io"
	"os"
	"sync"
	"time"
)

const Measurement = "vehicle_data"

// InfluxRecorder writes one point per tick. When the server cannot be
// reached at start up the points are appended as gzipped line protocol to
// a backup file instead.
type InfluxRecorder struct {
	client influxdb2.Client
	writer api.WriteAPI

	mu      sync.Mutex
	backup  *gzip.Writer
	closers []io.Closer
}

func NewInfluxRecorder(ctx context.Context, cfg config.Influx) (*InfluxRecorder, error) {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000))

	running, err := client.Ping(ctx)
	if err != nil || !running {
		client.Close()
		log.WithFields(log.Fields{
			"url":    cfg.URL,
			"backup": cfg.BackupPath,
			"err":    err,
		}).Warn("influxdb unavailable, writing to backup file")
		file, err := os.OpenFile(cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, errors.Wrap(err, "unable to create influx backup file")
		}
		return newBackupRecorder(file), nil
	}

	rec := &InfluxRecorder{
		client: client,
		writer: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			log.WithField("bucket", cfg.Bucket).WithField("err", writeErr).Error("unable to write to influxdb")
		}
	}(rec.writer.Errors())
	log.WithField("bucket", cfg.Bucket).Info("influxdb recorder initialized")
	return rec, nil
}

func newBackupRecorder(w io.WriteCloser) *InfluxRecorder {
	gz := gzip.NewWriter(w)
	return &InfluxRecorder{
		backup:  gz,
		closers: []io.Closer{gz, w},
	}
}

func (rec *InfluxRecorder) Name() string {
	return "influxdb"
}

// SamplePoint is the point stored for one sample. Absent error codes are
// stored as 0 and absent tire pressures as the nominal pressure.
func SamplePoint(vehicleID string, s telemetry.Sample, predictedFuel float64) *write.Point {
	fields := map[string]interface{}{
		"speed_kmh":         s.Speed,
		"engine_rpm":        s.RPM,
		"throttle_position": s.Throttle,
		"adjusted_throttle": s.AdjustedThrottle,
		"coolant_temp":      s.CoolantTemp,
		"fuel_level":        s.FuelLevel,
		"fuel_consumed":     s.FuelConsumed,
		"fuel_efficiency":   s.FuelEfficiency,
		"error_code":        s.ErrorCodeOrDefault(),
		"tire_pressure":     s.TirePressureOrDefault(),
		"predicted_fuel":    predictedFuel,
	}
	if s.ControlError != nil {
		fields["control_error"] = *s.ControlError
	}
	return influxdb2.NewPoint(Measurement,
		map[string]string{"vehicle_id": vehicleID},
		fields,
		s.Timestamp)
}

func (rec *InfluxRecorder) Record(_ context.Context, vehicleID string, s telemetry.Sample, predictedFuel float64) error {
	point := SamplePoint(vehicleID, s, predictedFuel)
	if rec.writer != nil {
		rec.writer.WritePoint(point)
		return nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.backup == nil {
		return errors.New("influxdb client not initialized and backup writer not available")
	}
	line := write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := rec.backup.Write([]byte(line + "\n")); err != nil {
		return errors.Wrap(err, "unable to write influx backup file")
	}
	return nil
}

func (rec *InfluxRecorder) Close() error {
	if rec.writer != nil {
		rec.writer.Flush()
	}
	if rec.client != nil {
		rec.client.Close()
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var first error
	for _, c := range rec.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	rec.closers = nil
	rec.backup = nil
	return first
}
