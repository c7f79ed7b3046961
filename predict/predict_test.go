package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLinearPredict(t *testing.T) {
	l := &Linear{Intercept: 1, Speed: 2, RPM: 3, Throttle: 4, CoolantTemp: 5}
	v, err := l.Predict(context.Background(), telemetry.Features{Speed: 1, RPM: 1, Throttle: 1, CoolantTemp: 1})
	assert.NoError(t, err)
	assert.Equal(t, 15.0, v)

	l.Speed = math.Inf(1)
	_, err = l.Predict(context.Background(), telemetry.Features{Speed: 1})
	assert.Equal(t, ErrInvalidPrediction, errors.Cause(err))
}

func TestLinearRoundTrip(t *testing.T) {
	l := &Linear{Intercept: 48.5, Speed: -0.01, RPM: 0.0002, Throttle: -0.03, CoolantTemp: 0.1}
	buf := bytes.Buffer{}
	require.NoError(t, l.Save(&buf))

	loaded, err := LoadLinearFromReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, l, loaded)
}

func TestLoadLinear(t *testing.T) {
	l, err := LoadLinearFromReader(bytes.NewBufferString(`
intercept = 10.0
speed = 0.5
`))
	require.NoError(t, err)
	assert.Equal(t, &Linear{Intercept: 10, Speed: 0.5}, l)

	_, err = LoadLinearFromReader(bytes.NewBufferString(`intercept = "x`))
	assert.Error(t, err)

	_, err = LoadLinear("does-not-exist.toml")
	assert.Error(t, err)
}

func TestFit(t *testing.T) {
	want := Linear{Intercept: 12, Speed: 0.3, RPM: -0.002, Throttle: 0.05, CoolantTemp: 0.4}
	var features []telemetry.Features
	var targets []float64
	for i := 0; i < 40; i++ {
		f := telemetry.Features{
			Speed:       float64(i * 3 % 120),
			RPM:         1000 + float64(i*i%4000),
			Throttle:    float64(10 + i*7%80),
			CoolantTemp: 70 + float64(i%30),
		}
		v, err := want.Predict(context.Background(), f)
		require.NoError(t, err)
		features = append(features, f)
		targets = append(targets, v)
	}

	got, err := Fit(features, targets)
	require.NoError(t, err)
	assert.InDelta(t, want.Intercept, got.Intercept, 1e-6)
	assert.InDelta(t, want.Speed, got.Speed, 1e-8)
	assert.InDelta(t, want.RPM, got.RPM, 1e-8)
	assert.InDelta(t, want.Throttle, got.Throttle, 1e-8)
	assert.InDelta(t, want.CoolantTemp, got.CoolantTemp, 1e-8)
}

func TestFitValidation(t *testing.T) {
	_, err := Fit(make([]telemetry.Features, 3), make([]float64, 2))
	assert.Error(t, err)
	_, err = Fit(make([]telemetry.Features, 3), make([]float64, 3))
	assert.Error(t, err)
}

func TestRemote(t *testing.T) {
	var got telemetry.Features
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"predicted_fuel": 4.25}`))
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, time.Second)
	f := telemetry.Features{Speed: 60, RPM: 3600, Throttle: 20, CoolantTemp: 96}
	v, err := r.Predict(context.Background(), f)
	assert.NoError(t, err)
	assert.Equal(t, 4.25, v)
	assert.Equal(t, f, got)
}

func TestRemoteFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		}},
		{"garbage", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}},
		{"missing field", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := NewRemote(srv.URL, 0).Predict(context.Background(), telemetry.Features{})
			assert.Error(t, err)
		})
	}
}

func TestConstantAndFunc(t *testing.T) {
	v, err := Constant(7).Predict(context.Background(), telemetry.Features{})
	assert.NoError(t, err)
	assert.Equal(t, 7.0, v)

	fn := Func(func(_ context.Context, f telemetry.Features) (float64, error) {
		return f.Speed / 2, nil
	})
	v, err = fn.Predict(context.Background(), telemetry.Features{Speed: 10})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, v)
}
