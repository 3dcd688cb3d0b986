// Package curve maps a filtered temperature onto a fan level using a
// piecewise-linear curve of (temperature, level) control points.
package curve

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

const (
	MinLevel = 0
	MaxLevel = 100
)

// Point is a single control point. It marshals as a two element array
// ([temperature, level]) which is how curves are written in config files.
type Point struct {
	Temp  float64
	Level float64
}

// MarshalJSON implements json.Marshaler.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Temp, p.Level})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("curve point must be [temperature, level]: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("curve point must have 2 elements, got %d", len(pair))
	}
	p.Temp, p.Level = pair[0], pair[1]
	return nil
}

// Curve is an ordered set of control points, ascending by temperature.
type Curve []Point

// Sorted returns a copy of c ordered by temperature. Points that share a
// temperature keep their relative order.
func Sorted(c Curve) Curve {
	out := make(Curve, len(c))
	copy(out, c)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Temp < out[j].Temp })
	return out
}

// IsSorted reports whether c is ascending by temperature.
func IsSorted(c Curve) bool {
	return sort.SliceIsSorted(c, func(i, j int) bool { return c[i].Temp < c[j].Temp })
}

// Evaluate interpolates the level for temperature t. The curve must already
// be sorted. Below the first point and above the last one the curve is flat;
// an empty curve yields 0.
func Evaluate(t float64, c Curve) float64 {
	tA, lA := t, 0.0
	tB, lB := t, 0.0

	for i, p := range c {
		if p.Temp > t {
			if i == 0 {
				// below the curve: hold the first level
				lA, lB = p.Level, p.Level
			}
			break
		}
		tA, lA = p.Temp, p.Level
		if i < len(c)-1 {
			tB, lB = c[i+1].Temp, c[i+1].Level
		} else {
			// above the curve: hold the last level
			tB, lB = tA, lA
		}
	}

	if tB == tA {
		return lA
	}
	return lA + (lB-lA)*(t-tA)/(tB-tA)
}

// Level clamps x to [0,100] and truncates it to an integer. Every policy
// passes its result through Level before it reaches the hardware.
func Level(x float64) int {
	if math.IsNaN(x) {
		return MinLevel
	}
	x = math.Trunc(x)
	if x < MinLevel {
		return MinLevel
	}
	if x > MaxLevel {
		return MaxLevel
	}
	return int(x)
}

// EvaluateLevel is Evaluate followed by Level.
func EvaluateLevel(t float64, c Curve) int {
	return Level(Evaluate(t, c))
}
