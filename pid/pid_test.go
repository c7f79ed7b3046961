package pid

import (
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math"
	"testing"
)

func TestProportionalOnly(t *testing.T) {
	c, err := New(Gains{Kp: 1})
	require.NoError(t, err)

	out, err := c.Update(60, 50, 1)
	assert.NoError(t, err)
	assert.Equal(t, 10.0, out)
	assert.Equal(t, 10.0, c.PreviousError())
}

func TestInvalidTimestep(t *testing.T) {
	c, err := New(Gains{Kp: 1, Ki: 1, Kd: 1})
	require.NoError(t, err)

	for _, dt := range []float64{0, -0.1, math.NaN(), math.Inf(1)} {
		_, err := c.Update(60, 50, dt)
		assert.Equal(t, ErrInvalidTimestep, errors.Cause(err), "dt=%v", dt)
	}
	// rejected updates leave no trace
	assert.Equal(t, 0.0, c.Integral())
	assert.Equal(t, 0.0, c.PreviousError())
}

func TestNonFiniteInputs(t *testing.T) {
	c, err := New(Gains{Kp: 1, Ki: 1})
	require.NoError(t, err)

	for _, in := range [][2]float64{
		{math.NaN(), 0},
		{0, math.NaN()},
		{math.Inf(1), 50},
		{60, math.Inf(-1)},
	} {
		_, err := c.Update(in[0], in[1], 1)
		assert.Equal(t, ErrValidation, errors.Cause(err), "setpoint=%v measured=%v", in[0], in[1])
	}
	assert.Equal(t, 0.0, c.Integral())
	assert.Equal(t, 0.0, c.PreviousError())

	// the controller still works afterwards: 10 + 10, then 10 + 20
	out, err := c.Update(60, 50, 1)
	require.NoError(t, err)
	assert.Equal(t, 20.0, out)
	out, err = c.Update(60, 50, 1)
	require.NoError(t, err)
	assert.Equal(t, 30.0, out)
}

func TestIntegralAccumulatesLinearly(t *testing.T) {
	c, err := New(Gains{Ki: 0.01}, WithLimits(-1e9, 1e9))
	require.NoError(t, err)

	const (
		n  = 250
		e  = 3.5
		dt = 0.1
	)
	for i := 0; i < n; i++ {
		_, err := c.Update(e, 0, dt)
		require.NoError(t, err)
	}
	assert.InDelta(t, n*e*dt, c.Integral(), 1e-9)
}

func TestOutputAlwaysClamped(t *testing.T) {
	c, err := New(Gains{Kp: 5, Ki: 2, Kd: 3})
	require.NoError(t, err)

	inputs := []struct{ setpoint, measured float64 }{
		{1e9, 0},
		{-1e9, 0},
		{60, 59.9},
		{0, 1e6},
		{1e12, -1e12},
	}
	for _, in := range inputs {
		out, err := c.Update(in.setpoint, in.measured, 0.01)
		assert.NoError(t, err)
		assert.True(t, out >= DefaultMinOutput && out <= DefaultMaxOutput, "output %v", out)
	}
}

func TestDeterministic(t *testing.T) {
	a, _ := New(Gains{Kp: 1, Ki: 0.1, Kd: 0.01})
	b, _ := New(Gains{Kp: 1, Ki: 0.1, Kd: 0.01})
	for i := 0; i < 50; i++ {
		measured := float64(i)
		oa, err := a.Update(60, measured, 0.1)
		assert.NoError(t, err)
		ob, err := b.Update(60, measured, 0.1)
		assert.NoError(t, err)
		assert.Equal(t, oa, ob)
	}
}

func TestDerivative(t *testing.T) {
	c, _ := New(Gains{Kd: 1}, WithLimits(-100, 100))
	out, err := c.Update(10, 0, 0.5)
	assert.NoError(t, err)
	// derivative from zero previous error: (10 - 0) / 0.5
	assert.Equal(t, 20.0, out)

	out, err = c.Update(10, 0, 0.5)
	assert.NoError(t, err)
	assert.Equal(t, 0.0, out)
}

func TestReset(t *testing.T) {
	c, _ := New(Gains{Kp: 1, Ki: 1})
	_, _ = c.Update(10, 0, 1)
	assert.NotZero(t, c.Integral())

	c.Reset()
	assert.Equal(t, 0.0, c.Integral())
	assert.Equal(t, 0.0, c.PreviousError())
}

func TestSetGains(t *testing.T) {
	c, _ := New(Gains{Kp: 1, Ki: 1})
	_, _ = c.Update(10, 0, 1)
	integral := c.Integral()

	assert.NoError(t, c.SetGains(Gains{Kp: 2, Ki: 0.5, Kd: 0.1}))
	assert.Equal(t, Gains{Kp: 2, Ki: 0.5, Kd: 0.1}, c.Gains())
	assert.Equal(t, integral, c.Integral(), "gain swap must not reset the integrator")

	err := c.SetGains(Gains{Kp: math.NaN()})
	assert.Equal(t, ErrValidation, errors.Cause(err))
	err = c.SetGains(Gains{Kd: math.Inf(-1)})
	assert.Equal(t, ErrValidation, errors.Cause(err))
	assert.Equal(t, Gains{Kp: 2, Ki: 0.5, Kd: 0.1}, c.Gains())
}

func TestNewValidation(t *testing.T) {
	_, err := New(Gains{Ki: math.Inf(1)})
	assert.Equal(t, ErrValidation, errors.Cause(err))

	_, err = New(Gains{Kp: 1}, WithLimits(10, 0))
	assert.Equal(t, ErrValidation, errors.Cause(err))

	c, err := New(Gains{Kp: 1}, WithLimits(-5, 5))
	assert.NoError(t, err)
	min, max := c.Limits()
	assert.Equal(t, -5.0, min)
	assert.Equal(t, 5.0, max)
}

func TestIndependentInstances(t *testing.T) {
	speed, _ := New(Gains{Ki: 1}, WithLimits(-1e6, 1e6))
	efficiency, _ := New(Gains{Ki: 1}, WithLimits(-1e6, 1e6))

	_, _ = speed.Update(10, 0, 1)
	_, _ = speed.Update(10, 0, 1)
	_, _ = efficiency.Update(1, 0, 1)

	assert.Equal(t, 20.0, speed.Integral())
	assert.Equal(t, 1.0, efficiency.Integral())
}
