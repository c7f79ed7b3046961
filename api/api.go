// Package api serves the simulator over HTTP: one-off simulation runs,
// fuel predictions, gain tuning and a websocket stream of live ticks.
package api

import (
	"context"
	"encoding/json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/jd3nn1s/ecusim"
	"github.com/jd3nn1s/ecusim/metrics"
	"github.com/jd3nn1s/ecusim/pid"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultSteps = 100
	maxSteps     = 10000
	writeWait    = 5 * time.Second
)

type Server struct {
	sim      *ecusim.Simulator
	upgrader websocket.Upgrader
}

func NewServer(sim *ecusim.Simulator) *Server {
	return &Server{
		sim: sim,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", s.root).Methods(http.MethodGet)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/state", s.state).Methods(http.MethodGet)
	r.HandleFunc("/set_pid_gains", s.setPIDGains).Methods(http.MethodPost)
	r.HandleFunc("/target_speed", s.setTargetSpeed).Methods(http.MethodPost)
	r.HandleFunc("/reset_fuel_alert", s.resetFuelAlert).Methods(http.MethodPost)
	r.HandleFunc("/simulate", s.simulate).Methods(http.MethodGet)
	r.HandleFunc("/predict_fuel", s.predictFuel).Methods(http.MethodPost)
	r.HandleFunc("/predict_fuel/", s.predictFuel).Methods(http.MethodPost)
	r.HandleFunc("/simulate_vehicle", s.simulateVehicle).Methods(http.MethodGet)
	r.HandleFunc("/simulate_vehicle/", s.simulateVehicle).Methods(http.MethodGet)
	r.HandleFunc("/stream", s.stream).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

// Handler wraps the router with panic recovery and access logging to out.
func (s *Server) Handler(out io.Writer) http.Handler {
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.CombinedLoggingHandler(out, s.Router()))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithField("err", err).Warn("unable to write response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string, err error) {
	if err != nil {
		detail += ": " + err.Error()
	}
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the Fuel Prediction API!"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.Session().State())
}

type gainsRequest struct {
	pid.Gains
	// Loop defaults to the speed loop.
	Loop ecusim.Loop `json:"loop"`
	// Reset defaults to true: new gains start from a clean integrator.
	Reset *bool `json:"reset"`
}

func (s *Server) setPIDGains(w http.ResponseWriter, r *http.Request) {
	req := gainsRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Loop == "" {
		req.Loop = ecusim.LoopSpeed
	}
	reset := req.Reset == nil || *req.Reset
	if err := s.sim.Session().SetGains(req.Loop, req.Gains, reset); err != nil {
		writeError(w, http.StatusBadRequest, "Error setting PID gains", err)
		return
	}
	log.WithFields(log.Fields{
		"loop":  req.Loop,
		"gains": req.Gains,
		"reset": reset,
	}).Info("pid gains updated")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "PID gains updated",
		"loop":    req.Loop,
		"Kp":      req.Kp,
		"Ki":      req.Ki,
		"Kd":      req.Kd,
	})
}

func (s *Server) setTargetSpeed(w http.ResponseWriter, r *http.Request) {
	req := struct {
		TargetSpeed *float64 `json:"target_speed"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.TargetSpeed == nil {
		writeError(w, http.StatusBadRequest, "target_speed is required", nil)
		return
	}
	if err := s.sim.Session().SetTargetSpeed(*req.TargetSpeed); err != nil {
		writeError(w, http.StatusBadRequest, "Error setting target speed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"target_speed": *req.TargetSpeed})
}

func (s *Server) resetFuelAlert(w http.ResponseWriter, r *http.Request) {
	s.sim.Session().ResetFuelAlert()
	writeJSON(w, http.StatusOK, s.sim.Session().State().Fuel)
}

func (s *Server) simulate(w http.ResponseWriter, r *http.Request) {
	n := defaultSteps
	if v := r.URL.Query().Get("num_steps"); v != "" {
		var err error
		n, err = strconv.Atoi(v)
		if err != nil || n < 0 || n > maxSteps {
			writeError(w, http.StatusBadRequest, "num_steps must be between 0 and "+strconv.Itoa(maxSteps), nil)
			return
		}
	}
	data, alerts, err := s.sim.Generate(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error in simulation", err)
		return
	}
	body := map[string]interface{}{"data": data}
	if len(alerts) > 0 {
		body["alerts"] = alerts
	}
	writeJSON(w, http.StatusOK, body)
}

type vehicleData struct {
	Speed       *float64 `json:"speed_kmh"`
	RPM         *float64 `json:"engine_rpm"`
	Throttle    *float64 `json:"throttle_position"`
	CoolantTemp *float64 `json:"coolant_temp"`
}

func (v vehicleData) features() (telemetry.Features, error) {
	if v.Speed == nil || v.RPM == nil || v.Throttle == nil || v.CoolantTemp == nil {
		return telemetry.Features{}, errors.New("speed_kmh, engine_rpm, throttle_position and coolant_temp are required")
	}
	return telemetry.Features{
		Speed:       *v.Speed,
		RPM:         *v.RPM,
		Throttle:    *v.Throttle,
		CoolantTemp: *v.CoolantTemp,
	}, nil
}

func (s *Server) predictFuel(w http.ResponseWriter, r *http.Request) {
	req := vehicleData{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	features, err := req.features()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid vehicle data", err)
		return
	}
	predicted, err := s.sim.Predictor().Predict(r.Context(), features)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error in prediction", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"predicted_fuel": predicted})
}

func (s *Server) simulateVehicle(w http.ResponseWriter, r *http.Request) {
	res, err := s.sim.Step(r.Context())
	if errors.Cause(err) == ecusim.ErrPrediction {
		writeError(w, http.StatusBadGateway, "Error in prediction", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error in simulation", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// stream pushes every step result to the client until it disconnects.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("err", err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	results, unsubscribe := s.sim.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// the client sends nothing; reading only notices it going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(res); err != nil {
				log.WithField("err", err).Debug("websocket client gone")
				return
			}
		}
	}
}
