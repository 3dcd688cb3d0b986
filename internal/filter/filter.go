// Package filter provides the per-channel signal filters applied to a
// temperature before it is mapped through a fan curve.
//
// Filters are stateful and not safe for concurrent use. The control loop owns
// one instance of each filter per fan channel and rebuilds them whenever the
// configuration epoch changes.
package filter

import "gonum.org/v1/gonum/floats"

// Filter transforms a stream of samples one value at a time.
type Filter interface {
	Apply(value float64) float64
	Reset()
}

// MovingAverage is a fixed-window arithmetic mean over the most recent samples.
type MovingAverage struct {
	window []float64
	cursor int
	primed bool
}

// NewMovingAverage returns a moving average over size samples. Sizes below 1
// are treated as 1, which makes the filter an identity function.
func NewMovingAverage(size int) *MovingAverage {
	if size < 1 {
		size = 1
	}
	return &MovingAverage{window: make([]float64, size)}
}

// Size returns the number of samples in the window.
func (m *MovingAverage) Size() int {
	return len(m.window)
}

// Apply records value and returns the mean of the window. The first sample
// seeds every slot so the output does not ramp up from zero.
func (m *MovingAverage) Apply(value float64) float64 {
	if !m.primed {
		for i := range m.window {
			m.window[i] = value
		}
		m.primed = true
	}

	m.window[m.cursor] = value
	m.cursor = (m.cursor + 1) % len(m.window)

	if len(m.window) == 1 {
		return value
	}
	return floats.Sum(m.window) / float64(len(m.window))
}

// Reset discards all samples; the next Apply re-seeds the window.
func (m *MovingAverage) Reset() {
	m.cursor = 0
	m.primed = false
}

// Hysteresis suppresses small movements of a signal. The output only changes
// when the input reaches or crosses the edge of a band of at most Band
// degrees; inside the band the last crossing value is held.
type Hysteresis struct {
	band   float64
	lower  float64
	upper  float64
	last   float64
	primed bool
}

// NewHysteresis returns a hysteresis filter of the given width. A band of 0
// (or less) disables the filter.
func NewHysteresis(band float64) *Hysteresis {
	return &Hysteresis{band: band}
}

// Band returns the configured width.
func (h *Hysteresis) Band() float64 {
	return h.band
}

// Bounds returns the current lower and upper edge of the band.
func (h *Hysteresis) Bounds() (lower, upper float64) {
	return h.lower, h.upper
}

// Apply feeds value through the filter.
func (h *Hysteresis) Apply(value float64) float64 {
	if h.band <= 0 {
		return value
	}

	if !h.primed {
		h.lower, h.upper, h.last = value, value, value
		h.primed = true
	}

	switch {
	case value >= h.upper:
		h.upper = value
		h.last = value
		if h.upper-h.lower > h.band {
			h.lower = h.upper - h.band
		}
	case value <= h.lower:
		h.lower = value
		h.last = value
		if h.upper-h.lower > h.band {
			h.upper = h.lower + h.band
		}
	}
	return h.last
}

// Reset returns the filter to its unprimed state.
func (h *Hysteresis) Reset() {
	h.lower, h.upper, h.last = 0, 0, 0
	h.primed = false
}

// Chain applies filters in order.
type Chain []Filter

// Apply runs value through every filter in the chain.
func (c Chain) Apply(value float64) float64 {
	for _, f := range c {
		value = f.Apply(value)
	}
	return value
}

// Reset resets every filter in the chain.
func (c Chain) Reset() {
	for _, f := range c {
		f.Reset()
	}
}
