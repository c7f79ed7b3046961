// Package predict holds the fuel prediction collaborators. A predictor is
// built once and handed to whatever drives the simulation; there is no
// package level model.
package predict

import (
	"context"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	"math"
)

var ErrInvalidPrediction = errors.New("predict: prediction is not a finite number")

type Predictor interface {
	Predict(ctx context.Context, f telemetry.Features) (float64, error)
}

type Func func(ctx context.Context, f telemetry.Features) (float64, error)

func (fn Func) Predict(ctx context.Context, f telemetry.Features) (float64, error) {
	return fn(ctx, f)
}

// Constant always predicts the same value; handy when no model is
// configured.
type Constant float64

func (c Constant) Predict(context.Context, telemetry.Features) (float64, error) {
	return float64(c), nil
}

func checkFinite(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Wrapf(ErrInvalidPrediction, "%v", v)
	}
	return v, nil
}
