package store

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/jd3nn1s/ecusim/alert"
	"github.com/jd3nn1s/ecusim/config"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"time"
)

const (
	stateTTL        = 30 * time.Second
	alertHistoryLen = 100
)

func StateKey(vehicleID string) string {
	return fmt.Sprintf("vehicle:%s:state", vehicleID)
}

func TelemetryChannel(vehicleID string) string {
	return fmt.Sprintf("vehicle:%s:telemetry", vehicleID)
}

func AlertChannel(vehicleID string) string {
	return fmt.Sprintf("vehicle:%s:alerts", vehicleID)
}

func alertHistoryKey(vehicleID string) string {
	return fmt.Sprintf("vehicle:%s:alert_history", vehicleID)
}

// RedisStore keeps the live state of each vehicle in a hash that expires
// when the simulator stops, and fans telemetry and alerts out over pub/sub.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg config.Redis) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "unable to connect to redis")
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Name() string {
	return "redis"
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func StateFields(vehicleID string, s telemetry.Sample, predictedFuel float64) map[string]interface{} {
	fields := map[string]interface{}{
		"vehicle_id":        vehicleID,
		"speed_kmh":         s.Speed,
		"target_speed":      s.TargetSpeed,
		"engine_rpm":        s.RPM,
		"throttle_position": s.Throttle,
		"adjusted_throttle": s.AdjustedThrottle,
		"coolant_temp":      s.CoolantTemp,
		"fuel_level":        s.FuelLevel,
		"fuel_efficiency":   s.FuelEfficiency,
		"predicted_fuel":    predictedFuel,
		"timestamp":         s.Timestamp.Unix(),
	}
	if s.ControlError != nil {
		fields["control_error"] = *s.ControlError
	}
	return fields
}

func (r *RedisStore) Record(ctx context.Context, vehicleID string, s telemetry.Sample, predictedFuel float64) error {
	state := StateFields(vehicleID, s, predictedFuel)
	payload, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "unable to marshal state")
	}

	key := StateKey(vehicleID)
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, state)
	pipe.Expire(ctx, key, stateTTL)
	pipe.Publish(ctx, TelemetryChannel(vehicleID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis pipeline failed")
	}
	return nil
}

// AlertSink publishes a vehicle's alerts and keeps the most recent ones in
// a capped list.
func (r *RedisStore) AlertSink(vehicleID string) alert.Sink {
	return alert.SinkFunc(func(ctx context.Context, e alert.Event) error {
		payload, err := json.Marshal(e)
		if err != nil {
			return errors.Wrap(err, "unable to marshal alert")
		}
		pipe := r.client.Pipeline()
		pipe.LPush(ctx, alertHistoryKey(vehicleID), payload)
		pipe.LTrim(ctx, alertHistoryKey(vehicleID), 0, alertHistoryLen-1)
		pipe.Publish(ctx, AlertChannel(vehicleID), payload)
		if _, err := pipe.Exec(ctx); err != nil {
			return errors.Wrap(err, "unable to publish alert")
		}
		return nil
	})
}

// Alerts returns the most recent alerts of a vehicle, newest first.
func (r *RedisStore) Alerts(ctx context.Context, vehicleID string, n int64) ([]alert.Event, error) {
	raw, err := r.client.LRange(ctx, alertHistoryKey(vehicleID), 0, n-1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to read alerts")
	}
	events := make([]alert.Event, 0, len(raw))
	for _, item := range raw {
		var e alert.Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, errors.Wrap(err, "unable to decode alert")
		}
		events = append(events, e)
	}
	return events, nil
}
