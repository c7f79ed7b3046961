package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/Graylog2/go-gelf/gelf"
	"github.com/jd3nn1s/ecusim"
	"github.com/jd3nn1s/ecusim/alert"
	"github.com/jd3nn1s/ecusim/api"
	"github.com/jd3nn1s/ecusim/config"
	"github.com/jd3nn1s/ecusim/forwarder"
	"github.com/jd3nn1s/ecusim/noise"
	"github.com/jd3nn1s/ecusim/predict"
	"github.com/jd3nn1s/ecusim/store"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var configFile = flag.String("config", "ecusim.toml", "configuration file")
var envFile = flag.String("env", ".env", "dotenv file with secrets")
var printTelemetry = flag.Bool("print-telemetry", false, "print telemetry to stdout")
var serve = flag.Bool("serve", false, "serve the HTTP API")
var live = flag.Bool("live", false, "with -serve, also step the simulation every interval")
var steps = flag.Int("steps", 0, "run this many steps and exit, 0 runs until interrupted")
var train = flag.String("train", "", "fit a linear fuel model on simulated data and write it to this file")
var trainSteps = flag.Int("train-steps", 5000, "number of samples used by -train")

type printForwarder struct{}

func (printForwarder) Forward(newTelemetry *telemetry.Sample, prevTelemetry *telemetry.Sample) error {
	fmt.Printf("%+v\n", *newTelemetry)
	return nil
}

func main() {
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.WithField("file", *envFile).Debug("no dotenv file, using the environment")
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal("unable to load configuration: ", err)
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	log.WithField("seed", seed).Info("noise source seeded")

	if *train != "" {
		if err := trainModel(cfg, noise.NewSeeded(seed), *train, *trainSteps); err != nil {
			log.Fatal("training failed: ", err)
		}
		return
	}

	var opts []ecusim.SessionOption
	if cfg.VehicleID != "" {
		opts = append(opts, ecusim.WithSessionID(cfg.VehicleID))
	}
	session, err := ecusim.NewSession(cfg, noise.NewSeeded(seed), opts...)
	if err != nil {
		log.Fatal("unable to create session: ", err)
	}

	predictor, err := newPredictor(cfg)
	if err != nil {
		log.Fatal("unable to create fuel predictor: ", err)
	}

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	sinks := alert.MultiSink{alert.LogSink{}}
	var recorders []ecusim.Recorder

	if cfg.Influx.Enabled {
		rec, err := store.NewInfluxRecorder(ctx, cfg.Influx)
		if err != nil {
			log.Fatal("unable to create influxdb recorder: ", err)
		}
		closers = append(closers, func() { _ = rec.Close() })
		recorders = append(recorders, rec)
	}
	if cfg.Timescale.Enabled {
		rec, err := store.NewTimescaleRecorder(ctx, cfg.Timescale.DSN)
		if err != nil {
			log.Fatal("unable to connect to timescale: ", err)
		}
		closers = append(closers, rec.Close)
		if err := rec.EnsureSchema(ctx); err != nil {
			log.Fatal(err)
		}
		recorders = append(recorders, rec)
		sinks = append(sinks, rec.AlertSink(session.ID()))
	}
	if cfg.Redis.Enabled {
		rec, err := store.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("unable to connect to redis: ", err)
		}
		closers = append(closers, func() { _ = rec.Close() })
		recorders = append(recorders, rec)
		sinks = append(sinks, rec.AlertSink(session.ID()))
	}

	var udp *forwarder.UDPForwarder
	if cfg.UDP.Enabled {
		udp, err = forwarder.NewUDPForwarder(&forwarder.UDPConfig{
			Server: cfg.UDP.Server,
			Port:   cfg.UDP.Port,
		})
		if err != nil {
			log.Fatal("unable to create UDP forwarder: ", err)
		}
		closers = append(closers, func() { _ = udp.Close() })
		sinks = append(sinks, udp)
	}

	evaluator := alert.NewEvaluator(sinks, alert.WithThresholds(cfg.Alerts))
	sim := ecusim.NewSimulator(session, predictor, evaluator)
	for _, rec := range recorders {
		sim.AddRecorder(rec)
	}

	if udp != nil {
		go udp.Start(ctx)
		sim.AddForwarder(udp)
	}
	if cfg.Kafka.Enabled {
		fwd := forwarder.NewKafkaForwarder(cfg.Kafka.Brokers, cfg.Kafka.Topic, session.ID())
		closers = append(closers, func() { _ = fwd.Close() })
		sim.AddForwarder(fwd)
	}
	if cfg.MQTT.Enabled {
		fwd, err := forwarder.NewMQTTForwarder(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic, session.ID())
		if err != nil {
			log.Fatal("unable to create MQTT forwarder: ", err)
		}
		closers = append(closers, func() { _ = fwd.Close() })
		sim.AddForwarder(fwd)
	}
	if cfg.CAN.Enabled {
		fwd := ecusim.NewCANForwarder(cfg.CAN.Interface)
		go fwd.Start(ctx)
		sim.AddForwarder(fwd)
	}
	if *printTelemetry {
		sim.AddForwarder(printForwarder{})
	}

	switch {
	case *serve:
		err = serveAPI(ctx, cfg, sim)
	case *steps > 0:
		err = runSteps(ctx, sim, *steps)
	default:
		err = sim.Run(ctx, cfg.Interval)
	}
	if err != nil && errors.Cause(err) != context.Canceled {
		log.Fatal(err)
	}
	log.Info("shutting down")
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)
	if !cfg.Graylog.Enabled {
		return
	}
	gelfWriter, err := gelf.NewWriter(cfg.Graylog.Address)
	if err != nil {
		log.WithField("err", err).Error("unable to create graylog writer")
		return
	}
	log.SetOutput(io.MultiWriter(os.Stderr, gelfWriter))
	log.WithField("address", cfg.Graylog.Address).Info("logging to graylog")
}

func newPredictor(cfg *config.Config) (predict.Predictor, error) {
	switch cfg.Predictor.Kind {
	case config.PredictorLinear:
		return predict.LoadLinear(cfg.Predictor.ModelFile)
	case config.PredictorRemote:
		return predict.NewRemote(cfg.Predictor.URL, cfg.Predictor.Timeout), nil
	}
	return predict.Constant(cfg.Predictor.Constant), nil
}

func runSteps(ctx context.Context, sim *ecusim.Simulator, n int) error {
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := sim.Step(ctx)
		if errors.Cause(err) == ecusim.ErrPrediction {
			log.WithField("err", err).Warn("prediction failed")
			continue
		}
		if err != nil {
			return err
		}
		for _, ev := range res.Alerts {
			fmt.Println(ev)
		}
	}
	return nil
}

func serveAPI(ctx context.Context, cfg *config.Config, sim *ecusim.Simulator) error {
	accessLog := log.StandardLogger().WriterLevel(log.DebugLevel)
	defer accessLog.Close()

	srv := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           api.NewServer(sim).Handler(accessLog),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if *live {
		go func() {
			if err := sim.Run(ctx, cfg.Interval); err != nil && err != context.Canceled {
				log.WithField("err", err).Error("simulation stopped")
			}
		}()
	}

	log.WithField("listen", cfg.API.Listen).Info("serving api")
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// trainModel fits the linear fuel predictor on closed loop samples, using
// the reported fuel level as the target.
func trainModel(cfg *config.Config, src noise.Source, fileName string, n int) error {
	session, err := ecusim.NewSession(cfg, src)
	if err != nil {
		return err
	}
	samples, _, err := session.Generate(n)
	if err != nil {
		return err
	}
	features := make([]telemetry.Features, len(samples))
	targets := make([]float64, len(samples))
	for i := range samples {
		features[i] = samples[i].Features()
		targets[i] = samples[i].FuelLevel
	}
	model, err := predict.Fit(features, targets)
	if err != nil {
		return err
	}

	file, err := os.Create(fileName)
	if err != nil {
		return errors.Wrapf(err, "unable to create %s", fileName)
	}
	defer file.Close()
	if err := model.Save(file); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"file":    fileName,
		"samples": n,
	}).Info("fuel model written")
	return nil
}
