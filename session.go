package ecusim

import (
	"github.com/google/uuid"
	"github.com/jd3nn1s/ecusim/alert"
	"github.com/jd3nn1s/ecusim/config"
	"github.com/jd3nn1s/ecusim/dynamics"
	"github.com/jd3nn1s/ecusim/ecu"
	"github.com/jd3nn1s/ecusim/noise"
	"github.com/jd3nn1s/ecusim/pid"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	"sync"
	"time"
)

type Mode string

const (
	// ModeClosedLoop integrates the vehicle with the speed loop and feeds
	// the result through the ECU.
	ModeClosedLoop Mode = config.ModeClosedLoop
	// ModeOBD samples engine values from fixed ranges with no dynamics.
	ModeOBD Mode = config.ModeOBD
)

// FuelModel picks which tank a closed loop sample reports. The two models
// are separate simplifications and are never blended.
type FuelModel string

const (
	FuelModelECU    FuelModel = config.FuelModelECU
	FuelModelLinear FuelModel = config.FuelModelLinear
)

type Loop string

const (
	LoopSpeed      Loop = "speed"
	LoopEfficiency Loop = "efficiency"
)

var ErrUnknownLoop = errors.New("unknown control loop")

// TickResult is what one tick hands to the outside world. The session
// keeps no reference to it.
type TickResult struct {
	Sample telemetry.Sample
	// FuelAlert is the ECU low fuel latch firing on this tick.
	FuelAlert *alert.Event
}

type SessionOption func(*Session)

func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = now
	}
}

func WithSessionID(id string) SessionOption {
	return func(s *Session) {
		s.id = id
	}
}

// Session is one simulated vehicle. It exclusively owns its two control
// loops, its vehicle state and its fuel state. Ticks are serialised.
type Session struct {
	id        string
	mode      Mode
	fuelModel FuelModel
	dt        float64
	now       func() time.Time

	mu       sync.Mutex
	dynamics *dynamics.Model
	ecu      *ecu.Simulator
	elapsed  float64
	ticks    uint64
}

func NewSession(cfg *config.Config, src noise.Source, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	speedLoop, err := pid.New(cfg.SpeedGains)
	if err != nil {
		return nil, errors.Wrap(err, "speed loop")
	}
	efficiencyLoop, err := pid.New(cfg.EfficiencyGains)
	if err != nil {
		return nil, errors.Wrap(err, "efficiency loop")
	}

	s := &Session{
		id:        uuid.NewString(),
		mode:      Mode(cfg.Mode),
		fuelModel: FuelModel(cfg.FuelModel),
		dt:        cfg.Timestep,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.dynamics, err = dynamics.New(cfg.Dynamics, speedLoop, src); err != nil {
		return nil, err
	}
	if s.ecu, err = ecu.New(cfg.ECU, efficiencyLoop, src, ecu.WithClock(s.now)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Mode() Mode {
	return s.mode
}

// FuelCapacity of the tank the samples report.
func (s *Session) FuelCapacity() float64 {
	if s.mode == ModeClosedLoop && s.fuelModel == FuelModelLinear {
		return s.dynamics.FuelCapacity()
	}
	return s.ecu.Capacity()
}

// Tick advances the vehicle by one timestep. It performs no I/O. A tick
// that fails part way may have advanced the vehicle; the error is
// returned as is and the session should not be trusted afterwards.
func (s *Session) Tick() (TickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		res TickResult
		err error
	)
	switch s.mode {
	case ModeOBD:
		res, err = s.tickOBD()
	default:
		res, err = s.tickClosedLoop()
	}
	if err != nil {
		return TickResult{}, err
	}
	if err := res.Sample.Validate(s.FuelCapacity()); err != nil {
		if res.FuelAlert != nil {
			// nobody will see this event, re-arm so the next tick raises it
			s.ecu.ResetFuelAlert()
		}
		return TickResult{}, err
	}
	s.ticks++
	return res, nil
}

func (s *Session) tickClosedLoop() (TickResult, error) {
	st, err := s.dynamics.Update(s.dt)
	if err != nil {
		return TickResult{}, err
	}
	reading, fuelAlert, err := s.ecu.Process(st.Speed, st.Throttle, st.RPM)
	if err != nil {
		return TickResult{}, err
	}
	s.elapsed = st.Elapsed

	controlError := st.ControlError
	sample := telemetry.Sample{
		Timestamp:        s.now(),
		Elapsed:          st.Elapsed,
		Speed:            st.Speed,
		TargetSpeed:      st.TargetSpeed,
		RPM:              st.RPM,
		Throttle:         st.Throttle,
		AdjustedThrottle: reading.AdjustedThrottle,
		CoolantTemp:      st.CoolantTemp,
		FuelLevel:        reading.FuelLevel,
		FuelConsumed:     reading.Consumed,
		FuelEfficiency:   reading.Efficiency,
		ControlError:     &controlError,
	}
	if s.fuelModel == FuelModelLinear {
		sample.FuelLevel = st.LinearFuelLevel
		// the ECU latch watches a tank this sample does not report
		fuelAlert = nil
	}
	return TickResult{Sample: sample, FuelAlert: fuelAlert}, nil
}

func (s *Session) tickOBD() (TickResult, error) {
	sample, fuelAlert, err := s.ecu.SimulateECU()
	if err != nil {
		return TickResult{}, err
	}
	s.elapsed += s.dt
	sample.Elapsed = s.elapsed
	return TickResult{Sample: sample, FuelAlert: fuelAlert}, nil
}

// Generate runs n ticks and returns their samples together with the fuel
// alerts raised along the way. On error both hold what the completed
// ticks produced.
func (s *Session) Generate(n int) ([]telemetry.Sample, []alert.Event, error) {
	samples := make([]telemetry.Sample, 0, n)
	var alerts []alert.Event
	for i := 0; i < n; i++ {
		res, err := s.Tick()
		if err != nil {
			return samples, alerts, errors.Wrapf(err, "tick %d", i)
		}
		samples = append(samples, res.Sample)
		if res.FuelAlert != nil {
			alerts = append(alerts, *res.FuelAlert)
		}
	}
	return samples, alerts, nil
}

// SetGains replaces the gains of one loop. With reset the loop's
// integrator and previous error are cleared as well.
func (s *Session) SetGains(loop Loop, g pid.Gains, reset bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch loop {
	case LoopSpeed:
		return s.dynamics.SetGains(g, reset)
	case LoopEfficiency:
		return s.ecu.SetGains(g, reset)
	}
	return errors.Wrapf(ErrUnknownLoop, "%q", loop)
}

func (s *Session) SetTargetSpeed(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dynamics.SetTargetSpeed(v)
}

// ResetFuelAlert re-arms the ECU low fuel latch.
func (s *Session) ResetFuelAlert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ecu.ResetFuelAlert()
}

type LoopState struct {
	Gains         pid.Gains `json:"gains"`
	Integral      float64   `json:"integral"`
	PreviousError float64   `json:"previous_error"`
}

type SessionState struct {
	ID          string        `json:"id"`
	Mode        Mode          `json:"mode"`
	FuelModel   FuelModel     `json:"fuel_model"`
	Ticks       uint64        `json:"ticks"`
	Elapsed     float64       `json:"elapsed"`
	Speed       float64       `json:"speed_kmh"`
	TargetSpeed float64       `json:"target_speed"`
	Fuel        ecu.FuelState `json:"fuel"`
	SpeedLoop   LoopState     `json:"speed_loop"`
	ECULoop     LoopState     `json:"efficiency_loop"`
}

func loopState(c *pid.Controller) LoopState {
	return LoopState{
		Gains:         c.Gains(),
		Integral:      c.Integral(),
		PreviousError: c.PreviousError(),
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	vehicle := s.dynamics.Snapshot()
	return SessionState{
		ID:          s.id,
		Mode:        s.mode,
		FuelModel:   s.fuelModel,
		Ticks:       s.ticks,
		Elapsed:     s.elapsed,
		Speed:       vehicle.Speed,
		TargetSpeed: vehicle.TargetSpeed,
		Fuel:        s.ecu.State(),
		SpeedLoop:   loopState(s.dynamics.Controller()),
		ECULoop:     loopState(s.ecu.Controller()),
	}
}
