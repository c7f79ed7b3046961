package store

import (
	"context"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jd3nn1s/ecusim/alert"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS vehicle_telemetry (
	timestamp         TIMESTAMPTZ      NOT NULL,
	vehicle_id        TEXT             NOT NULL,
	elapsed           DOUBLE PRECISION NOT NULL,
	speed_kmh         DOUBLE PRECISION NOT NULL,
	target_speed      DOUBLE PRECISION NOT NULL,
	engine_rpm        DOUBLE PRECISION NOT NULL,
	throttle_position DOUBLE PRECISION NOT NULL,
	adjusted_throttle DOUBLE PRECISION NOT NULL,
	coolant_temp      DOUBLE PRECISION NOT NULL,
	fuel_level        DOUBLE PRECISION NOT NULL,
	fuel_consumed     DOUBLE PRECISION NOT NULL,
	fuel_efficiency   DOUBLE PRECISION NOT NULL,
	control_error     DOUBLE PRECISION,
	error_code        INTEGER          NOT NULL,
	tire_pressure     DOUBLE PRECISION NOT NULL,
	predicted_fuel    DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS vehicle_alerts (
	id              BIGSERIAL PRIMARY KEY,
	vehicle_id      TEXT             NOT NULL,
	category        TEXT             NOT NULL,
	severity        TEXT             NOT NULL,
	message         TEXT             NOT NULL,
	metric          TEXT             NOT NULL,
	triggered_value DOUBLE PRECISION NOT NULL,
	created_at      TIMESTAMPTZ      NOT NULL
);
`

const insertTelemetry = `
INSERT INTO vehicle_telemetry
	(timestamp, vehicle_id, elapsed, speed_kmh, target_speed, engine_rpm,
	 throttle_position, adjusted_throttle, coolant_temp, fuel_level,
	 fuel_consumed, fuel_efficiency, control_error, error_code,
	 tire_pressure, predicted_fuel)
VALUES
	($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`

const insertAlert = `
INSERT INTO vehicle_alerts
	(vehicle_id, category, severity, message, metric, triggered_value, created_at)
VALUES
	($1, $2, $3, $4, $5, $6, $7)
`

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type TimescaleRecorder struct {
	db    execer
	close func()
}

func NewTimescaleRecorder(ctx context.Context, dsn string) (*TimescaleRecorder, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create db pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "unable to ping db")
	}
	return &TimescaleRecorder{
		db:    pool,
		close: pool.Close,
	}, nil
}

func (rec *TimescaleRecorder) Name() string {
	return "timescale"
}

func (rec *TimescaleRecorder) Close() {
	if rec.close != nil {
		rec.close()
	}
}

func (rec *TimescaleRecorder) EnsureSchema(ctx context.Context) error {
	_, err := rec.db.Exec(ctx, schema)
	return errors.Wrap(err, "unable to create schema")
}

func telemetryRow(vehicleID string, s telemetry.Sample, predictedFuel float64) []any {
	var controlError *float64
	if s.ControlError != nil {
		v := *s.ControlError
		controlError = &v
	}
	return []any{
		s.Timestamp,
		vehicleID,
		s.Elapsed,
		s.Speed,
		s.TargetSpeed,
		s.RPM,
		s.Throttle,
		s.AdjustedThrottle,
		s.CoolantTemp,
		s.FuelLevel,
		s.FuelConsumed,
		s.FuelEfficiency,
		controlError,
		s.ErrorCodeOrDefault(),
		s.TirePressureOrDefault(),
		predictedFuel,
	}
}

func (rec *TimescaleRecorder) Record(ctx context.Context, vehicleID string, s telemetry.Sample, predictedFuel float64) error {
	_, err := rec.db.Exec(ctx, insertTelemetry, telemetryRow(vehicleID, s, predictedFuel)...)
	return errors.Wrap(err, "unable to insert telemetry")
}

func (rec *TimescaleRecorder) InsertAlert(ctx context.Context, vehicleID string, e alert.Event) error {
	_, err := rec.db.Exec(ctx, insertAlert,
		vehicleID,
		string(e.Category),
		string(e.Severity),
		e.Message,
		e.Metric,
		e.Value,
		e.Time)
	return errors.Wrapf(err, "unable to insert %s alert", e.Category)
}

// AlertSink stores the alerts of one vehicle.
func (rec *TimescaleRecorder) AlertSink(vehicleID string) alert.Sink {
	return alert.SinkFunc(func(ctx context.Context, e alert.Event) error {
		return rec.InsertAlert(ctx, vehicleID, e)
	})
}
