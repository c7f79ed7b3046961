package predict

import (
	"context"
	"github.com/BurntSushi/toml"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"io"
	"os"
)

// Linear is an affine model over the four telemetry features.
type Linear struct {
	Intercept   float64 `toml:"intercept"`
	Speed       float64 `toml:"speed"`
	RPM         float64 `toml:"rpm"`
	Throttle    float64 `toml:"throttle"`
	CoolantTemp float64 `toml:"coolant_temp"`
}

func (l *Linear) Predict(_ context.Context, f telemetry.Features) (float64, error) {
	return checkFinite(l.Intercept +
		l.Speed*f.Speed +
		l.RPM*f.RPM +
		l.Throttle*f.Throttle +
		l.CoolantTemp*f.CoolantTemp)
}

func LoadLinear(fileName string) (*Linear, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open model %s", fileName)
	}
	defer file.Close()
	return LoadLinearFromReader(file)
}

func LoadLinearFromReader(r io.Reader) (*Linear, error) {
	model := Linear{}
	if _, err := toml.NewDecoder(r).Decode(&model); err != nil {
		return nil, errors.Wrap(err, "unable to decode linear model")
	}
	return &model, nil
}

func (l *Linear) Save(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(l); err != nil {
		return errors.Wrap(err, "unable to encode linear model")
	}
	return nil
}

// Fit solves the least squares problem for the given features and
// targets. At least five linearly independent rows are needed.
func Fit(features []telemetry.Features, targets []float64) (*Linear, error) {
	if len(features) != len(targets) {
		return nil, errors.Errorf("predict: %d feature rows for %d targets", len(features), len(targets))
	}
	if len(features) < 5 {
		return nil, errors.Errorf("predict: need at least 5 rows to fit, got %d", len(features))
	}
	a := mat.NewDense(len(features), 5, nil)
	for i, f := range features {
		a.SetRow(i, []float64{1, f.Speed, f.RPM, f.Throttle, f.CoolantTemp})
	}
	b := mat.NewVecDense(len(targets), targets)

	var qr mat.QR
	qr.Factorize(a)
	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		return nil, errors.Wrap(err, "predict: least squares solve failed")
	}
	return &Linear{
		Intercept:   x.AtVec(0),
		Speed:       x.AtVec(1),
		RPM:         x.AtVec(2),
		Throttle:    x.AtVec(3),
		CoolantTemp: x.AtVec(4),
	}, nil
}
