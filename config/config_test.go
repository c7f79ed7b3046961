package config

import (
	"bytes"
	"github.com/jd3nn1s/ecusim/pid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noEnv() func() {
	orig := lookupEnv
	lookupEnv = func(string) (string, bool) {
		return "", false
	}
	return func() {
		lookupEnv = orig
	}
}

func TestDefaultsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadFromReader(t *testing.T) {
	defer noEnv()()
	cfg, err := LoadFromReader(bytes.NewBufferString(`
mode = "obd"
timestep = 0.5
interval = "250ms"
seed = 42

[speed_gains]
kp = 2.0
ki = 0.2
kd = 0.0

[ecu]
fuel_capacity = 60.0

[alerts]
low_predicted_fuel = 8.0

[kafka]
enabled = true
brokers = ["k1:9092", "k2:9092"]
topic = "t"
`))
	require.NoError(t, err)
	assert.Equal(t, ModeOBD, cfg.Mode)
	assert.Equal(t, 0.5, cfg.Timestep)
	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, pid.Gains{Kp: 2, Ki: 0.2}, cfg.SpeedGains)
	assert.Equal(t, 60.0, cfg.ECU.FuelCapacity)
	// untouched keys keep their defaults
	assert.Equal(t, 15.0, cfg.ECU.TargetEfficiency)
	assert.Equal(t, 8.0, cfg.Alerts.LowPredictedFuel)
	assert.Equal(t, 10.0, cfg.Alerts.MaxControlError)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 60.0, cfg.FuelCapacity())
}

func TestEnvOverrides(t *testing.T) {
	orig := lookupEnv
	defer func() {
		lookupEnv = orig
	}()
	env := map[string]string{
		"ECUSIM_INFLUX_TOKEN":   "secret",
		"ECUSIM_TIMESCALE_DSN":  "postgres://u:p@db/ecusim",
		"ECUSIM_REDIS_PASSWORD": "hunter2",
		"ECUSIM_SEED":           "7",
		"ECUSIM_KAFKA_BROKERS":  "a:1,b:2",
	}
	lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg, err := LoadFromReader(bytes.NewBufferString(`[timescale]
enabled = true`))
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Influx.Token)
	assert.Equal(t, "postgres://u:p@db/ecusim", cfg.Timescale.DSN)
	assert.Equal(t, "hunter2", cfg.Redis.Password)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"mode", func(c *Config) { c.Mode = "turbo" }},
		{"fuel model", func(c *Config) { c.FuelModel = "quadratic" }},
		{"timestep", func(c *Config) { c.Timestep = 0 }},
		{"interval", func(c *Config) { c.Interval = -time.Second }},
		{"capacity", func(c *Config) { c.ECU.FuelCapacity = 0 }},
		{"linear predictor", func(c *Config) { c.Predictor.Kind = PredictorLinear }},
		{"remote predictor", func(c *Config) { c.Predictor.Kind = PredictorRemote }},
		{"predictor kind", func(c *Config) { c.Predictor.Kind = "oracle" }},
		{"timescale", func(c *Config) { c.Timescale.Enabled = true }},
		{"kafka", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			assert.Equal(t, ErrInvalid, errors.Cause(c.Validate()))
		})
	}
}

func TestLoadFile(t *testing.T) {
	defer noEnv()()
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	fileName := filepath.Join(dir, "ecusim.toml")
	require.NoError(t, os.WriteFile(fileName, []byte(`fuel_model = "linear"`), 0644))
	cfg, err = Load(fileName)
	require.NoError(t, err)
	assert.Equal(t, FuelModelLinear, cfg.FuelModel)
	assert.Equal(t, 100.0, cfg.FuelCapacity())

	require.NoError(t, os.WriteFile(fileName, []byte(`mode = 3`), 0644))
	_, err = Load(fileName)
	assert.Error(t, err)
}
