// Package config loads the simulator configuration from a TOML file with
// environment overrides for secrets.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/jd3nn1s/ecusim/alert"
	"github.com/jd3nn1s/ecusim/dynamics"
	"github.com/jd3nn1s/ecusim/ecu"
	"github.com/jd3nn1s/ecusim/pid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrInvalid = errors.New("config: invalid configuration")

const (
	ModeClosedLoop = "closed_loop"
	ModeOBD        = "obd"

	FuelModelECU    = "ecu"
	FuelModelLinear = "linear"

	PredictorConstant = "constant"
	PredictorLinear   = "linear"
	PredictorRemote   = "remote"
)

type Predictor struct {
	Kind      string        `toml:"kind"`
	ModelFile string        `toml:"model_file"`
	URL       string        `toml:"url"`
	Timeout   time.Duration `toml:"timeout"`
	Constant  float64       `toml:"constant"`
}

type Influx struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Token   string `toml:"token"`
	Org     string `toml:"org"`
	Bucket  string `toml:"bucket"`
	// BackupPath receives gzipped line protocol when the server is down.
	BackupPath string `toml:"backup_path"`
}

type Timescale struct {
	Enabled bool   `toml:"enabled"`
	DSN     string `toml:"dsn"`
}

type Redis struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type UDP struct {
	Enabled bool   `toml:"enabled"`
	Server  string `toml:"server"`
	Port    int    `toml:"port"`
}

type Kafka struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

type MQTT struct {
	Enabled  bool   `toml:"enabled"`
	Broker   string `toml:"broker"`
	Topic    string `toml:"topic"`
	ClientID string `toml:"client_id"`
}

type CAN struct {
	Enabled   bool   `toml:"enabled"`
	Interface string `toml:"interface"`
}

type API struct {
	Listen string `toml:"listen"`
}

type Graylog struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
}

type Config struct {
	LogLevel  string `toml:"log_level"`
	VehicleID string `toml:"vehicle_id"`
	Mode      string `toml:"mode"`
	FuelModel string `toml:"fuel_model"`
	// Timestep is the simulated dt of a tick in seconds.
	Timestep float64 `toml:"timestep"`
	// Interval is the wall clock time between ticks when running live.
	Interval time.Duration `toml:"interval"`
	// Seed of the noise source, 0 picks one from the clock.
	Seed int64 `toml:"seed"`

	Dynamics        dynamics.Config  `toml:"dynamics"`
	SpeedGains      pid.Gains        `toml:"speed_gains"`
	ECU             ecu.Config       `toml:"ecu"`
	EfficiencyGains pid.Gains        `toml:"efficiency_gains"`
	Alerts          alert.Thresholds `toml:"alerts"`

	Predictor Predictor `toml:"predictor"`
	Influx    Influx    `toml:"influx"`
	Timescale Timescale `toml:"timescale"`
	Redis     Redis     `toml:"redis"`
	UDP       UDP       `toml:"udp"`
	Kafka     Kafka     `toml:"kafka"`
	MQTT      MQTT      `toml:"mqtt"`
	CAN       CAN       `toml:"can"`
	API       API       `toml:"api"`
	Graylog   Graylog   `toml:"graylog"`
}

func Default() *Config {
	return &Config{
		LogLevel:        "info",
		VehicleID:       "vehicle_001",
		Mode:            ModeClosedLoop,
		FuelModel:       FuelModelECU,
		Timestep:        0.1,
		Interval:        100 * time.Millisecond,
		Dynamics:        dynamics.DefaultConfig(),
		SpeedGains:      dynamics.DefaultGains(),
		ECU:             ecu.DefaultConfig(),
		EfficiencyGains: ecu.DefaultGains(),
		Alerts:          alert.DefaultThresholds(),
		Predictor: Predictor{
			Kind:     PredictorConstant,
			Constant: 50,
			Timeout:  2 * time.Second,
		},
		Influx: Influx{
			URL:        "http://localhost:8086",
			Org:        "ecusim",
			Bucket:     "car_data",
			BackupPath: "ecusim_influx_backup.lp.gz",
		},
		Redis: Redis{
			Addr: "localhost:6379",
		},
		Kafka: Kafka{
			Brokers: []string{"localhost:9092"},
			Topic:   "vehicle.telemetry",
		},
		MQTT: MQTT{
			Broker:   "tcp://localhost:1883",
			Topic:    "vehicles/telemetry",
			ClientID: "ecusim",
		},
		CAN: CAN{
			Interface: "vcan0",
		},
		API: API{
			Listen: ":8000",
		},
		Graylog: Graylog{
			Address: "localhost:12201",
		},
	}
}

// Load reads fileName over the defaults. A missing file is not an error;
// the defaults plus environment overrides are used.
func Load(fileName string) (*Config, error) {
	file, err := os.Open(fileName)
	if os.IsNotExist(err) {
		log.WithField("file", fileName).Info("no config file, using defaults")
		cfg := Default()
		cfg.applyEnv()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open file %s", fileName)
	}
	defer file.Close()
	return LoadFromReader(file)
}

func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	md, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load simulator configuration")
	}
	for _, key := range md.Undecoded() {
		log.WithField("key", key.String()).Warn("unknown configuration key")
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var lookupEnv = os.LookupEnv

func (c *Config) applyEnv() {
	if v, ok := lookupEnv("ECUSIM_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookupEnv("ECUSIM_VEHICLE_ID"); ok {
		c.VehicleID = v
	}
	if v, ok := lookupEnv("ECUSIM_SEED"); ok {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Seed = seed
		} else {
			log.WithField("value", v).Warn("ignoring invalid ECUSIM_SEED")
		}
	}
	if v, ok := lookupEnv("ECUSIM_INFLUX_TOKEN"); ok {
		c.Influx.Token = v
	}
	if v, ok := lookupEnv("ECUSIM_TIMESCALE_DSN"); ok {
		c.Timescale.DSN = v
	}
	if v, ok := lookupEnv("ECUSIM_REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := lookupEnv("ECUSIM_KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
}

func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(ErrInvalid, "log_level %q", c.LogLevel)
	}
	switch c.Mode {
	case ModeClosedLoop, ModeOBD:
	default:
		return errors.Wrapf(ErrInvalid, "mode %q", c.Mode)
	}
	switch c.FuelModel {
	case FuelModelECU, FuelModelLinear:
	default:
		return errors.Wrapf(ErrInvalid, "fuel_model %q", c.FuelModel)
	}
	if !(c.Timestep > 0) || math.IsInf(c.Timestep, 0) {
		return errors.Wrapf(ErrInvalid, "timestep %v", c.Timestep)
	}
	if c.Interval < 0 {
		return errors.Wrapf(ErrInvalid, "interval %v", c.Interval)
	}
	if err := c.SpeedGains.Validate(); err != nil {
		return errors.Wrapf(ErrInvalid, "speed_gains: %v", err)
	}
	if err := c.EfficiencyGains.Validate(); err != nil {
		return errors.Wrapf(ErrInvalid, "efficiency_gains: %v", err)
	}
	if !(c.ECU.FuelCapacity > 0) {
		return errors.Wrapf(ErrInvalid, "ecu.fuel_capacity %v", c.ECU.FuelCapacity)
	}
	if !(c.Dynamics.FuelCapacity > 0) {
		return errors.Wrapf(ErrInvalid, "dynamics.fuel_capacity %v", c.Dynamics.FuelCapacity)
	}
	switch c.Predictor.Kind {
	case PredictorConstant:
	case PredictorLinear:
		if c.Predictor.ModelFile == "" {
			return errors.Wrap(ErrInvalid, "predictor.model_file is required for a linear predictor")
		}
	case PredictorRemote:
		if c.Predictor.URL == "" {
			return errors.Wrap(ErrInvalid, "predictor.url is required for a remote predictor")
		}
	default:
		return errors.Wrapf(ErrInvalid, "predictor.kind %q", c.Predictor.Kind)
	}
	if c.Timescale.Enabled && c.Timescale.DSN == "" {
		return errors.Wrap(ErrInvalid, "timescale.dsn is required when timescale is enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.Wrap(ErrInvalid, "kafka needs brokers and a topic")
	}
	return nil
}

// FuelCapacity is the capacity of the fuel model the samples report.
func (c *Config) FuelCapacity() float64 {
	if c.Mode == ModeClosedLoop && c.FuelModel == FuelModelLinear {
		return c.Dynamics.FuelCapacity
	}
	return c.ECU.FuelCapacity
}
