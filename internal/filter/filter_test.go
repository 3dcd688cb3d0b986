package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMovingAverage(t *testing.T) {
	t.Parallel()

	t.Run("window of one is identity", func(t *testing.T) {
		t.Parallel()
		ma := NewMovingAverage(1)
		for _, v := range []float64{0, 42.5, -3, 100, 7.25, 7.25, 1e6} {
			assert.Equal(t, v, ma.Apply(v))
		}
	})

	t.Run("non-positive size is coerced to one", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 1, NewMovingAverage(0).Size())
		assert.Equal(t, 1, NewMovingAverage(-4).Size())
	})

	t.Run("first sample seeds the window", func(t *testing.T) {
		t.Parallel()
		ma := NewMovingAverage(5)
		assert.Equal(t, 70.0, ma.Apply(70))
	})

	t.Run("mean of last W samples", func(t *testing.T) {
		t.Parallel()
		ma := NewMovingAverage(4)
		var out float64
		for _, v := range []float64{10, 20, 30, 40} {
			out = ma.Apply(v)
		}
		assert.InDelta(t, 25.0, out, 1e-9)

		// slides: 20,30,40,50
		assert.InDelta(t, 35.0, ma.Apply(50), 1e-9)
	})

	t.Run("W copies of v after priming return v", func(t *testing.T) {
		t.Parallel()
		ma := NewMovingAverage(3)
		ma.Apply(10)
		ma.Apply(90)
		var out float64
		for i := 0; i < 3; i++ {
			out = ma.Apply(55)
		}
		assert.InDelta(t, 55.0, out, 1e-9)
	})

	t.Run("reset re-seeds", func(t *testing.T) {
		t.Parallel()
		ma := NewMovingAverage(3)
		ma.Apply(10)
		ma.Apply(40)
		ma.Reset()
		assert.Equal(t, 80.0, ma.Apply(80))
	})
}

func TestHysteresis(t *testing.T) {
	t.Parallel()

	t.Run("zero band is identity", func(t *testing.T) {
		t.Parallel()
		h := NewHysteresis(0)
		for _, v := range []float64{1, 5, 3, 3.5, 99, -1} {
			assert.Equal(t, v, h.Apply(v))
		}
	})

	t.Run("holds inside the established band", func(t *testing.T) {
		t.Parallel()
		h := NewHysteresis(5)
		require.Equal(t, 50.0, h.Apply(50))
		require.Equal(t, 55.0, h.Apply(55))
		for _, v := range []float64{52, 54.9, 50.1, 53} {
			assert.Equal(t, 55.0, h.Apply(v), "input %v", v)
		}
	})

	t.Run("primed bounds collapse onto the first sample", func(t *testing.T) {
		t.Parallel()
		h := NewHysteresis(5)
		h.Apply(50)
		lower, upper := h.Bounds()
		assert.Equal(t, 50.0, lower)
		assert.Equal(t, 50.0, upper)
		assert.Equal(t, 50.0, h.Apply(50))
	})

	t.Run("rising value moves upper bound and drags lower", func(t *testing.T) {
		t.Parallel()
		h := NewHysteresis(5)
		h.Apply(50)
		assert.Equal(t, 58.0, h.Apply(58))
		lower, upper := h.Bounds()
		assert.Equal(t, 53.0, lower)
		assert.Equal(t, 58.0, upper)

		// inside [53,58] holds the last crossing
		assert.Equal(t, 58.0, h.Apply(55))
		// touching the lower bound counts as a crossing
		assert.Equal(t, 53.0, h.Apply(53))
	})

	t.Run("falling value moves lower bound and drags upper", func(t *testing.T) {
		t.Parallel()
		h := NewHysteresis(4)
		h.Apply(60)
		assert.Equal(t, 50.0, h.Apply(50))
		lower, upper := h.Bounds()
		assert.Equal(t, 50.0, lower)
		assert.Equal(t, 54.0, upper)
	})

	t.Run("band width never exceeds the configured band", func(t *testing.T) {
		t.Parallel()
		h := NewHysteresis(3)
		for _, v := range []float64{40, 47, 41, 39, 45, 30, 31, 33.5, 60} {
			h.Apply(v)
			lower, upper := h.Bounds()
			assert.LessOrEqual(t, upper-lower, 3.0)
		}
	})
}

func TestChain(t *testing.T) {
	t.Parallel()
	c := Chain{NewMovingAverage(2), NewHysteresis(10)}
	assert.Equal(t, 20.0, c.Apply(20))
	assert.Equal(t, 25.0, c.Apply(30))
	// average 22 sits inside [20,25]: the last crossing is held
	assert.Equal(t, 25.0, c.Apply(14))
	c.Reset()
	assert.Equal(t, 90.0, c.Apply(90))
}
